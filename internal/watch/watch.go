// Package watch delivers indexed points to webhook subscribers. A route
// binds a namespace region to a URL; every point that lands inside the
// region is queued and shipped in periodic batches. Undelivered batches
// survive restarts through persistent storage.
package watch

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-spin/spin/internal/database"
	"github.com/go-spin/spin/internal/httputil"
	"github.com/go-spin/spin/internal/logging"
	"github.com/go-spin/spin/internal/metrics"
	pointModel "github.com/go-spin/spin/internal/point/model"
	"github.com/go-spin/spin/internal/util"
	watchDb "github.com/go-spin/spin/internal/watch/database"
	"github.com/go-spin/spin/internal/watch/model"
	"github.com/go-spin/spin/pkg/rworker"
)

// Contract for returning the Manager instance
type ProvideFn = func(chan<- error) (Manager, error)

const UserAgent = "SPIN/0.1"

type Options struct {
	maxConcurrentRequest int
	requestTimeout       time.Duration
	interval             time.Duration
	routes               Routes
}

type Option func(*manager)

func WithMaxConcurrentRequest(n int) Option {
	return func(o *manager) {
		o.opts.maxConcurrentRequest = n
	}
}

func WithInterval(t time.Duration) Option {
	return func(o *manager) {
		o.opts.interval = t
	}
}

func WithRequestTimeout(t time.Duration) Option {
	return func(o *manager) {
		o.opts.requestTimeout = t
	}
}

func WithRoutes(rs Routes) Option {
	return func(o *manager) {
		o.opts.routes = rs
	}
}

// request is the webhook payload: the namespace plus the events that
// landed in the route region since the last delivery.
type request struct {
	Namespace string        `json:"namespace"`
	Events    []model.Event `json:"events"`
}

type Notifier interface {
	Notify(in ...pointModel.Entry)
}

type Manager interface {
	Notifier
	Run(context.Context) error
	Stop()
}

// pending accumulates the events of one route between deliveries. The
// seen set drops duplicate vectors inside a delivery window.
type pending struct {
	events []model.Event
	seen   map[[32]byte]struct{}
}

const (
	defaultInterval             = 5 * time.Second
	defaultRequestTimeout       = 30 * time.Second
	defaultMaxConcurrentRequest = 64
)

// New returns a watch manager for the configured routes. Fatal
// background errors arrive on shutdownCh.
func New(db *database.DB, shutdownCh chan<- error, opts ...Option) (*manager, error) {
	m := &manager{
		watchDB:    watchDb.New(db),
		shutdownCh: shutdownCh,
		clients:    map[string]*http.Client{},
		pendings:   map[string]*pending{},
	}
	m.opts.interval = defaultInterval
	m.opts.requestTimeout = defaultRequestTimeout
	m.opts.maxConcurrentRequest = defaultMaxConcurrentRequest

	for _, f := range opts {
		f(m)
	}

	for _, route := range m.opts.routes {
		if err := route.Validate(); err != nil {
			return nil, err
		}
		if _, ok := m.clients[route.URL]; !ok {
			client, err := httputil.NewClientFromConfig(route.HTTPConfig, true)
			if err != nil {
				return nil, fmt.Errorf("unable to create client for route %s: %v", route.URL, err)
			}
			m.clients[route.URL] = client
		}
	}
	return m, nil
}

type manager struct {
	mtx        sync.RWMutex
	opts       Options
	watchDB    *watchDb.DB
	shutdownCh chan<- error
	// One client per URL, built once in New
	clients map[string]*http.Client
	// Per-route delivery windows
	pendings map[string]*pending
	closed   bool
	cancel   func()
}

func routeKey(r Route) string {
	return r.Namespace + "|" + r.URL
}

// Run requeues batches persisted by a previous shutdown and starts the
// delivery loop.
func (m *manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	if err := m.initialize(ctx); err != nil {
		return fmt.Errorf("can not start watch manager: %v", err)
	}
	go m.notifier(ctx)
	return nil
}

func (m *manager) Stop() {
	m.cancel()
}

// Notify matches entries against the configured routes and queues an
// event per hit. Duplicate vectors inside one window are dropped.
func (m *manager) Notify(in ...pointModel.Entry) {
	if len(m.opts.routes) == 0 {
		return
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.closed {
		return
	}
	for i := range in {
		entry := in[i]
		for _, route := range m.opts.routes {
			if !route.Contains(entry.Namespace, entry.Vec) {
				continue
			}
			key := routeKey(route)
			p, ok := m.pendings[key]
			if !ok {
				p = &pending{seen: map[[32]byte]struct{}{}}
				m.pendings[key] = p
			}
			sum := util.HashVector(entry.Vec)
			if _, dup := p.seen[sum]; dup {
				continue
			}
			p.seen[sum] = struct{}{}
			p.events = append(p.events, model.NewEvent(entry))
			metrics.RecordWatchHit(context.Background(), entry.Namespace)
		}
	}
}

// initialize requeues batches persisted by a previous shutdown. Batches
// whose route is no longer configured are dropped.
func (m *manager) initialize(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	batches, err := m.watchDB.FindAll(ctx, nil)
	if err != nil {
		return fmt.Errorf("error fetching pending batches: %v", err)
	}
	for i := range batches {
		batch := batches[i]
		if route, ok := m.routeFor(batch.Namespace, batch.URL); ok {
			m.requeue(route, batch.Events)
		} else {
			logger.Infof(
				"dropping %d pending events: no route for namespace %s and url %s",
				len(batch.Events), batch.Namespace, batch.URL,
			)
		}
		if err := m.watchDB.Delete(context.Background(), batch); err != nil {
			return fmt.Errorf("unable to delete batch on initialize: %v", err)
		}
	}
	return nil
}

func (m *manager) routeFor(namespace, url string) (Route, bool) {
	for _, route := range m.opts.routes {
		if route.Namespace == namespace && route.URL == url {
			return route, true
		}
	}
	return Route{}, false
}

// requeue puts recovered or undelivered events back into the pending
// window.
func (m *manager) requeue(route Route, events []model.Event) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	key := routeKey(route)
	p, ok := m.pendings[key]
	if !ok {
		p = &pending{seen: map[[32]byte]struct{}{}}
		m.pendings[key] = p
	}
	for i := range events {
		sum := util.HashVector(events[i].Vec)
		if _, dup := p.seen[sum]; dup {
			continue
		}
		p.seen[sum] = struct{}{}
		p.events = append(p.events, events[i])
	}
}

// takePending swaps the route's window out, resetting the dedup set so
// the same vector can fire again in the next window.
func (m *manager) takePending(route Route) []model.Event {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	p, ok := m.pendings[routeKey(route)]
	if !ok || len(p.events) == 0 {
		return nil
	}
	events := p.events
	p.events = nil
	p.seen = map[[32]byte]struct{}{}
	return events
}

// shutdown persists the undelivered windows so a restart can requeue
// them.
func (m *manager) shutdown() error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.closed = true
	for _, route := range m.opts.routes {
		p, ok := m.pendings[routeKey(route)]
		if !ok || len(p.events) == 0 {
			continue
		}
		batch := model.NewBatch(route.Namespace, route.URL, p.events)
		if err := m.watchDB.Store(context.Background(), batch); err != nil {
			return fmt.Errorf("watch shutdown: unable to store batch: %v", err)
		}
		p.events = nil
		p.seen = map[[32]byte]struct{}{}
	}
	return nil
}

func (m *manager) notifier(ctx context.Context) {
	logger := logging.FromContext(ctx)
	errCh := make(chan error, 1)
	rateCh := make(chan struct{}, m.opts.maxConcurrentRequest)
	defer close(errCh)
	defer close(rateCh)
	go func() {
		for err := range errCh {
			logger.Errorf("watch error: %v", err)
		}
	}()
	defer func() {
		m.shutdownCh <- m.shutdown()
	}()
	wg := sync.WaitGroup{}
	ticker := time.NewTicker(m.opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, route := range m.opts.routes {
				route := route
				events := m.takePending(route)
				if len(events) == 0 {
					continue
				}
				rworker.Job(&wg, func() error {
					return m.deliver(ctx, route, events)
				}, rateCh, errCh)
			}
			wg.Wait()
		case <-ctx.Done():
			return
		}
	}
}

// deliver stores the batch, posts it and deletes the record on success.
// On delivery failure the events go back to the pending window for the
// next tick and the record is removed with them.
func (m *manager) deliver(ctx context.Context, route Route, events []model.Event) error {
	batch := model.NewBatch(route.Namespace, route.URL, events)
	if err := m.watchDB.Store(context.Background(), batch); err != nil {
		return fmt.Errorf("unable to store batch: %v", err)
	}
	if err := m.do(ctx, route, request{Namespace: route.Namespace, Events: events}); err != nil {
		m.requeue(route, events)
		if delErr := m.watchDB.Delete(context.Background(), batch); delErr != nil {
			return fmt.Errorf("unable to delete failed batch: %v (delivery: %v)", delErr, err)
		}
		return fmt.Errorf("watch delivery error: %v", err)
	}
	if err := m.watchDB.Delete(context.Background(), batch); err != nil {
		return fmt.Errorf("unable to delete delivered batch: %v", err)
	}
	return nil
}

func (m *manager) do(ctx context.Context, route Route, payload request) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.requestTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("unable to encode json data: %w", err)
	}
	link, err := url.Parse(route.URL)
	if err != nil {
		return fmt.Errorf("url parsing error: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, link.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Add("User-Agent", UserAgent)
	req.Header.Add("Accept-Encoding", "gzip")

	client, ok := m.clients[route.URL]
	if !ok {
		return fmt.Errorf("client for route %s not defined", route.URL)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request error: %w", err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("unable to create gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	if _, err := io.ReadAll(reader); err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("response was not 200 OK: %s", resp.Status)
	}
	return nil
}
