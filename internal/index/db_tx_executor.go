package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-spin/spin/internal/logging"
	"github.com/go-spin/spin/internal/point/model"
)

func newDBTxExecutor(opts dbTxExecutorOptions, shutdownCh chan<- error) *dbTxExecutor {
	return &dbTxExecutor{opts: opts, shutdownCh: shutdownCh}
}

type dbTxExecutorOptions struct {
	flushSize int
	flushTime time.Duration
}

// dbTxExecutor implements the write-behind path to persistent storage.
// Applied entries accumulate in a buffer that is flushed in bulk, either
// when it grows past flushSize or on the flushTime tick.
type dbTxExecutor struct {
	mtx sync.Mutex

	opts dbTxExecutorOptions
	// Buffer that accumulates applied entries between flushes
	buf        []model.Entry
	shutdownCh chan<- error
}

// shutdown urgently flushes the whole buffer to persistent storage.
func (tx *dbTxExecutor) shutdown(appendFn appendEntriesFn) error {
	tx.mtx.Lock()
	defer tx.mtx.Unlock()
	if err := appendFn(context.Background(), tx.buf); err != nil {
		return fmt.Errorf("txExecutor: append many operation failed: %v", err)
	}
	tx.buf = tx.buf[:0]
	return nil
}

// append adds an entry to the buffer and triggers an async bulk flush
// once the buffer outgrows flushSize.
func (tx *dbTxExecutor) append(ctx context.Context, entry model.Entry, appendFn appendEntriesFn) {
	tx.mtx.Lock()
	if tx.buf == nil {
		tx.buf = []model.Entry{}
	}

	tx.buf = append(tx.buf, entry)
	bufLen := len(tx.buf)
	tx.mtx.Unlock()

	if bufLen >= tx.opts.flushSize {
		go tx.bulkAppend(ctx, appendFn)
	}
}

// bulkAppend swaps the buffer out and writes its contents to storage.
func (tx *dbTxExecutor) bulkAppend(ctx context.Context, appendFn appendEntriesFn) {
	logger := logging.FromContext(ctx)

	tx.mtx.Lock()
	tmpBuf := make([]model.Entry, len(tx.buf))
	copy(tmpBuf, tx.buf)
	tx.buf = tx.buf[:0]
	tx.mtx.Unlock()

	if len(tmpBuf) == 0 {
		return
	}
	// Flushes survive cancellation of the request context.
	if err := appendFn(context.Background(), tmpBuf); err != nil {
		logger.Errorf("txExecutor: append many operation failed: %v", err)
	}
}

// flusher periodically drains the buffer to storage until the context
// is done, then reports the final flush to the shutdown channel.
func (tx *dbTxExecutor) flusher(ctx context.Context, appendFn appendEntriesFn) {
	defer func() {
		tx.shutdownCh <- tx.shutdown(appendFn)
	}()
	ticker := time.NewTicker(tx.opts.flushTime)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tx.bulkAppend(ctx, appendFn)
		case <-ctx.Done():
			return
		}
	}
}
