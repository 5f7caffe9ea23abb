package rworker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobRunsAll(t *testing.T) {
	t.Parallel()
	var wg sync.WaitGroup
	var ran int64
	rate := make(chan struct{}, 4)
	errCh := make(chan error, 1)

	for i := 0; i < 64; i++ {
		Job(&wg, func() error {
			atomic.AddInt64(&ran, 1)
			return nil
		}, rate, errCh)
	}
	wg.Wait()
	assert.Equal(t, int64(64), atomic.LoadInt64(&ran))
	assert.Empty(t, errCh)
}

func TestJobRespectsRateLimit(t *testing.T) {
	t.Parallel()
	var wg sync.WaitGroup
	var inFlight, peak int64
	rate := make(chan struct{}, 3)
	errCh := make(chan error, 1)

	for i := 0; i < 48; i++ {
		Job(&wg, func() error {
			n := atomic.AddInt64(&inFlight, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			atomic.AddInt64(&inFlight, -1)
			return nil
		}, rate, errCh)
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3))
}

func TestJobReportsFirstError(t *testing.T) {
	t.Parallel()
	var wg sync.WaitGroup
	rate := make(chan struct{}, 2)
	errCh := make(chan error, 1)

	for i := 0; i < 8; i++ {
		Job(&wg, func() error {
			return fmt.Errorf("job failed")
		}, rate, errCh)
	}
	wg.Wait()

	// the channel holds one error, the overflow is dropped
	assert.EqualError(t, <-errCh, "job failed")
	assert.Empty(t, errCh)
}
