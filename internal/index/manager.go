// Package index keeps one k-d tree per namespace in memory, feeds it
// from an asynchronous collect pipeline and answers exact, nearest and
// range queries. Persistent storage trails behind through a write-back
// buffer and is replayed on startup.
package index

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/go-spin/spin/internal/database"
	"github.com/go-spin/spin/internal/geom"
	"github.com/go-spin/spin/internal/logging"
	"github.com/go-spin/spin/internal/metrics"
	pointDb "github.com/go-spin/spin/internal/point/database"
	"github.com/go-spin/spin/internal/point/model"
	"github.com/go-spin/spin/internal/watch"
	"github.com/go-spin/spin/pkg/container/avltree"
	"github.com/go-spin/spin/pkg/container/kdtree"
	"github.com/go-spin/spin/pkg/iqueue"
)

// Contract for returning the Manager instance
type ProvideFn func(watch.Manager, chan<- error) (Manager, error)

// ErrUnknownNamespace is returned by queries against a namespace that
// has not indexed a single point yet.
var ErrUnknownNamespace = fmt.Errorf("index: unknown namespace")

// Manager defines the behavior of the background indexing service.
type Manager interface {
	CollectQuerier
	// Start method of the service
	Run(context.Context) error
	// Method for stopping the service
	Stop()
}

// Collector defines the intake side of the service.
type Collector interface {
	// Collect accepts entries from outside and queues them for indexing
	Collect(in ...model.Entry) error
}

// Querier defines the read side of the service.
type Querier interface {
	// Search reports whether the exact point is indexed in the namespace
	Search(namespace string, vec geom.Point) (bool, error)
	// Nearest returns the closest indexed point and its euclidean distance
	Nearest(namespace string, vec geom.Point) (geom.Point, float64, error)
	// Range returns all indexed points inside the axis-aligned box
	Range(namespace string, min, max geom.Point) ([]geom.Point, error)
	// Stats summarizes every namespace
	Stats() []Stat
	// Version returns the namespace mutation counter
	Version(namespace string) (uint64, bool)
}

// CollectQuerier aggregates the Collector and Querier interfaces.
type CollectQuerier interface {
	Collector
	Querier
}

// Stat is a point-in-time summary of one namespace.
type Stat struct {
	Namespace string `json:"namespace"`
	Dims      int    `json:"dims"`
	Len       int    `json:"len"`
	Height    int    `json:"height"`
	Version   uint64 `json:"version"`
}

// Abstractions for pulling storage dependencies
type (
	// function for fetching all entries
	fetchEntriesFn func(context.Context, pointDb.FilterFn) ([]model.Entry, error)
	// function for fetching the entries of one namespace
	fetchByNamespaceFn func(context.Context, string, pointDb.FilterFn) ([]model.Entry, error)
	// function for deleting a single entry
	deleteEntryFn func(context.Context, model.Entry) error
	// function for deleting multiple entries
	deleteEntriesFn func(context.Context, []model.Entry) error
	// function for appending sets of entries
	appendEntriesFn func(context.Context, []model.Entry) error
	// function for fetching all namespace keys
	fetchKeysFn func(context.Context) ([]string, error)
	// number of entries in a namespace
	countByNamespaceFn func(context.Context, string) (int, error)
)

// General structure for aggregation of dependency pulling functions
type pullDependencies struct {
	fetchEntries     fetchEntriesFn
	fetchByNamespace fetchByNamespaceFn
	deleteEntry      deleteEntryFn
	deleteEntries    deleteEntriesFn
	appendEntries    appendEntriesFn
	fetchKeys        fetchKeysFn
	countByNamespace countByNamespaceFn
}

type Options struct {
	maxItemsStored  int
	maxStorageTime  time.Duration
	flushTime       time.Duration
	flushSize       int
	rebuildInterval time.Duration
	deps            pullDependencies
}

type Option func(*manager)

func WithFlushTime(t time.Duration) Option {
	return func(o *manager) {
		o.opts.flushTime = t
	}
}

func WithFlushSize(n int) Option {
	return func(o *manager) {
		o.opts.flushSize = n
	}
}

func WithRebuildInterval(t time.Duration) Option {
	return func(o *manager) {
		o.opts.rebuildInterval = t
	}
}

func WithMaxItemsStored(n int) Option {
	return func(o *manager) {
		o.opts.maxItemsStored = n
	}
}

func WithMaxStorageTime(t time.Duration) Option {
	return func(o *manager) {
		o.opts.maxStorageTime = t
	}
}

const (
	defaultFlushSize       = 10
	defaultFlushTime       = 5 * time.Second
	defaultRebuildInterval = 15 * time.Second
)

// New returns a manager persisting through db and notifying watches via
// notifier. Fatal background errors arrive on shutdownCh.
func New(db *database.DB, notifier watch.Manager, shutdownCh chan<- error, opts ...Option) (*manager, error) {
	if notifier == nil {
		return nil, fmt.Errorf("notifier instance is not created")
	}

	m := &manager{
		pointDB:       pointDb.New(db),
		namespaces:    map[string]*namespaceState{},
		queue:         map[string]*iqueue.Queue{},
		collectCh:     make(chan model.Entry, 1),
		collectorDone: make(chan struct{}),
		shutDownCh:    shutdownCh,
		notifier:      notifier,
	}
	m.opts.flushSize = defaultFlushSize
	m.opts.flushTime = defaultFlushTime
	m.opts.rebuildInterval = defaultRebuildInterval

	for _, f := range opts {
		f(m)
	}

	// structure containing functions for reading and writing entries
	m.opts.deps = pullDependencies{
		fetchEntries:     m.pointDB.FindAll,
		fetchByNamespace: m.pointDB.FindByNamespace,
		deleteEntry:      m.pointDB.Delete,
		deleteEntries:    m.pointDB.DeleteMany,
		appendEntries:    m.pointDB.AppendMany,
		fetchKeys:        m.pointDB.Keys,
		countByNamespace: m.pointDB.CountByNamespace,
	}

	m.dbScheduler = newDBScheduler(dbSchedulerConfig{
		maxItemsStored:  m.opts.maxItemsStored,
		maxStorageTime:  m.opts.maxStorageTime,
		rebuildInterval: m.opts.rebuildInterval,
	})

	m.dbTxExecutor = newDBTxExecutor(dbTxExecutorOptions{
		flushSize: m.opts.flushSize,
		flushTime: m.opts.flushTime,
	}, shutdownCh)

	return m, nil
}

// namespaceState bundles what the manager tracks per namespace: the
// spatial tree, the time-ordered ledger feeding replays and rebuilds,
// and a version counter that query cache keys embed.
type namespaceState struct {
	tree    *kdtree.Tree
	ledger  *avltree.Tree
	version uint64
}

// The main structure of SPIN. Routes collected entries into
// per-namespace queues, applies them to the trees and answers queries.
type manager struct {
	mtx sync.RWMutex

	// Manager options
	opts Options
	// Main entry storage
	pointDB *pointDb.DB
	// The watch notification manager
	notifier watch.Manager
	// The write-back executor for persistent storage
	dbTxExecutor *dbTxExecutor
	// Retention over persistent storage
	dbScheduler *dbScheduler

	// Per-namespace trees, ledgers and versions
	namespaces map[string]*namespaceState
	// Queues for new entries awaiting application
	queue map[string]*iqueue.Queue
	// New entries channel
	collectCh chan model.Entry
	// Closed when the collector stops routing
	collectorDone chan struct{}
	// Channel to shut down the application
	shutDownCh chan<- error

	closed bool

	// cancellation
	cancelNotifier func()
	cancel         func()
}

// Run replays persistent storage into memory and starts the collect
// pipeline, the write-back flusher, the retention scheduler and the
// watch notifier.
func (m *manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	c, cancelNotifier := context.WithCancel(context.Background())
	m.cancelNotifier = cancelNotifier

	// Loading data from storage to memory
	if err := m.bulkLoad(ctx); err != nil {
		return fmt.Errorf("can not start index manager: %w", err)
	}

	go m.collector(ctx)
	go m.dbTxExecutor.flusher(ctx, m.opts.deps.appendEntries)
	go m.dbScheduler.schedule(ctx, m.opts.deps, m.rebuildNamespaces)

	// Launching the notification service
	if err := m.notifier.Run(c); err != nil {
		return fmt.Errorf("watch.Run: %w", err)
	}

	return nil
}

// Stop the manager
func (m *manager) Stop() {
	m.cancel()
}

// Collect queues entries for indexing. It returns once the entries are
// accepted; each point becomes searchable when a worker applies it.
func (m *manager) Collect(in ...model.Entry) error {
	m.mtx.RLock()
	if m.closed {
		m.mtx.RUnlock()
		return fmt.Errorf("error send to collect, shutting down")
	}
	for i := range in {
		m.collectCh <- in[i]
	}
	m.mtx.RUnlock()
	return nil
}

// Search reports whether the exact point exists in the namespace tree.
func (m *manager) Search(namespace string, vec geom.Point) (bool, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return false, ErrUnknownNamespace
	}
	found, err := ns.tree.Search(kdtree.Point(vec))
	if err != nil {
		return false, fmt.Errorf("search in namespace %s: %w", namespace, err)
	}
	return found, nil
}

// Nearest returns the closest indexed point to vec and its euclidean
// distance. Ties resolve to the first point reached by the descent.
func (m *manager) Nearest(namespace string, vec geom.Point) (geom.Point, float64, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil, 0, ErrUnknownNamespace
	}
	neighbor, err := ns.tree.Nearest(kdtree.Point(vec))
	if err != nil {
		return nil, 0, fmt.Errorf("nearest in namespace %s: %w", namespace, err)
	}
	dist, err := geom.EuclideanDistance(geom.Point(neighbor), vec)
	if err != nil {
		return nil, 0, fmt.Errorf("nearest in namespace %s: %w", namespace, err)
	}
	return geom.Point(neighbor), dist, nil
}

// Range returns all indexed points inside the axis-aligned box spanned
// by min and max, bounds included.
func (m *manager) Range(namespace string, min, max geom.Point) ([]geom.Point, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil, ErrUnknownNamespace
	}
	points, err := ns.tree.RangeSearch(kdtree.Point(min), kdtree.Point(max))
	if err != nil {
		return nil, fmt.Errorf("range in namespace %s: %w", namespace, err)
	}
	out := make([]geom.Point, 0, len(points))
	for i := range points {
		out = append(out, geom.Point(points[i]))
	}
	return out, nil
}

// Stats returns a summary of every namespace, sorted by name.
func (m *manager) Stats() []Stat {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	stats := make([]Stat, 0, len(m.namespaces))
	for name, ns := range m.namespaces {
		stats = append(stats, Stat{
			Namespace: name,
			Dims:      ns.tree.Dimensions(),
			Len:       ns.tree.Len(),
			Height:    ns.tree.Height(),
			Version:   ns.version,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Namespace < stats[j].Namespace
	})
	return stats
}

// Version returns the namespace mutation counter embedded in cache keys.
func (m *manager) Version(namespace string) (uint64, bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return 0, false
	}
	return ns.version, true
}

// insertLocked applies one entry to its namespace state, creating the
// namespace with the entry's dimensionality on first use. Callers hold
// the write lock.
func (m *manager) insertLocked(ctx context.Context, entry model.Entry) error {
	ns, ok := m.namespaces[entry.Namespace]
	if !ok {
		tree, err := kdtree.New(entry.Vec.Dimensions())
		if err != nil {
			return fmt.Errorf("create tree for namespace %s: %w", entry.Namespace, err)
		}
		ns = &namespaceState{tree: tree, ledger: avltree.New()}
		m.namespaces[entry.Namespace] = ns
	}

	if err := ns.tree.Insert(kdtree.Point(entry.Vec)); err != nil {
		return fmt.Errorf("insert into namespace %s: %w", entry.Namespace, err)
	}
	ns.ledger.Add(timeNode{K: entry.CreatedAt, V: entry})
	ns.version++
	metrics.SetTreeStats(ctx, entry.Namespace, ns.tree.Len(), ns.tree.Height())
	return nil
}

// process applies one queued entry: into the tree and ledger, into the
// write-back buffer, then out to the watches.
func (m *manager) process(ctx context.Context, entry model.Entry) error {
	m.mtx.Lock()
	err := m.insertLocked(ctx, entry)
	m.mtx.Unlock()
	if err != nil {
		metrics.RecordDropped(ctx, entry.Namespace)
		return fmt.Errorf("unable to index entry %s: %w", entry.ID, err)
	}

	metrics.RecordCollected(ctx, entry.Namespace)
	m.dbTxExecutor.append(ctx, entry, m.opts.deps.appendEntries)
	m.notify(entry)
	return nil
}

// bulkLoad replays persistent storage into memory. Each namespace is
// replayed oldest entry first so the rebuilt tree matches the shape the
// original arrival order produced.
func (m *manager) bulkLoad(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	data, err := m.opts.deps.fetchEntries(ctx, nil)
	if err != nil {
		return fmt.Errorf("error fetching all entries: %w", err)
	}

	ledgers := map[string]*avltree.Tree{}
	for _, entry := range data {
		ledger, ok := ledgers[entry.Namespace]
		if !ok {
			ledger = avltree.New()
			ledgers[entry.Namespace] = ledger
		}
		ledger.Add(timeNode{K: entry.CreatedAt, V: entry})
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()
	var dropped int
	for _, ledger := range ledgers {
		ledger.Walk(func(item avltree.Item) bool {
			if err := m.insertLocked(ctx, item.Value().(model.Entry)); err != nil {
				dropped++
			}
			return true
		})
	}
	if dropped > 0 {
		logger.Infof("bulk load: dropped %d stored entries", dropped)
	}
	if len(data) > 0 {
		logger.Infof("bulk load: restored %d entries into %d namespaces", len(data)-dropped, len(ledgers))
	}
	return nil
}

// rebuildNamespaces reloads the named namespaces from storage after a
// retention pass, swapping in fresh trees and ledgers. The version bump
// makes cached query results for the namespace unreachable.
func (m *manager) rebuildNamespaces(ctx context.Context, namespaces []string) {
	logger := logging.FromContext(ctx)
	for _, name := range namespaces {
		entries, err := m.opts.deps.fetchByNamespace(ctx, name, nil)
		if err != nil {
			logger.Errorf("rebuild namespace %s: %v", name, err)
			continue
		}

		ledger := avltree.New()
		for i := range entries {
			ledger.Add(timeNode{K: entries[i].CreatedAt, V: entries[i]})
		}

		m.mtx.Lock()
		ns, ok := m.namespaces[name]
		if !ok {
			m.mtx.Unlock()
			continue
		}
		tree, err := kdtree.New(ns.tree.Dimensions())
		if err != nil {
			m.mtx.Unlock()
			logger.Errorf("rebuild namespace %s: %v", name, err)
			continue
		}
		var dropped int
		ledger.Walk(func(item avltree.Item) bool {
			entry := item.Value().(model.Entry)
			if err := tree.Insert(kdtree.Point(entry.Vec)); err != nil {
				dropped++
			}
			return true
		})
		ns.tree = tree
		ns.ledger = ledger
		ns.version++
		metrics.SetTreeStats(ctx, name, tree.Len(), tree.Height())
		m.mtx.Unlock()

		if dropped > 0 {
			logger.Errorf("rebuild namespace %s: dropped %d entries", name, dropped)
		}
		logger.Infof("namespace %s rebuilt, %d entries", name, len(entries)-dropped)
	}
}

func (m *manager) notify(entry model.Entry) {
	m.mtx.RLock()
	if !m.closed {
		m.mtx.RUnlock()
		m.notifier.Notify(entry)
		return
	}
	m.mtx.RUnlock()
}

// shutdown stops intake on the queue and drains its backlog so every
// accepted entry reaches the tree and the write-back buffer before the
// process exits.
func (m *manager) shutdown(ctx context.Context, q *iqueue.Queue) error {
	logger := logging.FromContext(ctx)
	<-m.collectorDone
	q.Close()
	for recv := range q.Receive() {
		if err := m.process(ctx, recv.(model.Entry)); err != nil {
			logger.Errorf("index shutdown: unable to process entry: %v", err)
		}
	}
	// The last worker to find every backlog drained stops the notifier.
	if m.recvShutdown() {
		m.cancelNotifier()
	}
	return nil
}

func (m *manager) recvShutdown() bool {
	drained, queuesNum := 0, len(m.queue)
	for _, q := range m.queue {
		if q.Len() == 0 {
			drained++
		}
	}
	return drained == queuesNum
}

func (m *manager) receive(ctx context.Context, q *iqueue.Queue) {
	logger := logging.FromContext(ctx)
	defer func() {
		m.shutDownCh <- m.shutdown(ctx, q)
	}()

	for {
		select {
		case recv, ok := <-q.Receive():
			if !ok {
				return
			}
			if err := m.process(ctx, recv.(model.Entry)); err != nil {
				logger.Errorf("unable to process entry: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

const workerMul = 2

func (m *manager) worker(ctx context.Context, queue *iqueue.Queue, num int) {
	for i := 0; i < num; i++ {
		go m.receive(ctx, queue)
	}
}

// route hands the entry to its namespace queue, spinning up the queue
// and its workers on first use. Only the collector goroutine touches
// the queue map.
func (m *manager) route(ctx context.Context, in model.Entry) {
	q, ok := m.queue[in.Namespace]
	if !ok {
		queue := iqueue.New()
		go queue.Loop()
		m.worker(ctx, queue, runtime.NumCPU()*workerMul)
		m.queue[in.Namespace] = queue
		q = queue
	}
	q.Send(in)
}

func (m *manager) collector(ctx context.Context) {
	for {
		select {
		case in := <-m.collectCh:
			m.route(ctx, in)
		case <-ctx.Done():
			// Keep routing until the closed flag is visible to every
			// Collect caller, so none stays blocked on collectCh.
			flagged := make(chan struct{})
			go func() {
				m.mtx.Lock()
				m.closed = true
				m.mtx.Unlock()
				close(flagged)
			}()
			for {
				select {
				case in := <-m.collectCh:
					m.route(ctx, in)
				case <-flagged:
					for {
						select {
						case in := <-m.collectCh:
							m.route(ctx, in)
						default:
							close(m.collectorDone)
							return
						}
					}
				}
			}
		}
	}
}
