// Package scrape pulls points from configured HTTP targets on a fixed
// interval, for deployments where SPIN fetches data instead of
// receiving pushes. Scraped batches flow into the index exactly like
// collected ones.
package scrape

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/go-spin/spin/internal/geom"
	"github.com/go-spin/spin/internal/index"
	"github.com/go-spin/spin/internal/logging"
	"github.com/go-spin/spin/internal/point/model"
	"github.com/go-spin/spin/pkg/rworker"
)

// response is the payload a scrape target serves: the same shape the
// collect endpoint accepts.
type response struct {
	Namespace string `json:"namespace"`
	Data      []struct {
		Vec       []float64   `json:"vector"`
		Extra     interface{} `json:"extra"`
		CreatedAt time.Time   `json:"createdAt"`
	} `json:"data"`
}

type Manager interface {
	Run(context.Context) error
	Stop()
}

// Contract for returning the scrape Manager instance
type ProvideFn = func(index.Manager, chan<- error) (Manager, error)

const UserAgent = "SPIN/0.1"

type Options struct {
	maxConcurrentRequest  int
	requestTimeout        time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	scrapeInterval        time.Duration
}

type Option func(*manager)

func WithMaxConcurrentRequest(n int) Option {
	return func(o *manager) {
		o.opts.maxConcurrentRequest = n
	}
}

func WithInterval(t time.Duration) Option {
	return func(o *manager) {
		o.opts.scrapeInterval = t
	}
}

func WithRequestTimeout(t time.Duration) Option {
	return func(o *manager) {
		o.opts.requestTimeout = t
	}
}

func WithTargets(m Targets) Option {
	return func(o *manager) {
		o.targets = m
	}
}

const (
	defaultInterval              = time.Second
	defaultRequestTimeout        = 30 * time.Second
	defaultMaxConcurrentRequest  = 64
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
)

func New(idx index.Manager, shutdownCh chan<- error, opts ...Option) (*manager, error) {
	if idx == nil {
		return nil, fmt.Errorf("index manager instance is not defined")
	}
	m := &manager{
		targets:    Targets{},
		shutdownCh: shutdownCh,
		idx:        idx,
	}
	m.opts.maxConcurrentRequest = defaultMaxConcurrentRequest
	m.opts.requestTimeout = defaultRequestTimeout
	m.opts.scrapeInterval = defaultInterval
	m.opts.tlsHandshakeTimeout = defaultTLSHandshakeTimeout
	m.opts.responseHeaderTimeout = defaultResponseHeaderTimeout
	for _, opt := range opts {
		opt(m)
	}
	m.client = &http.Client{
		Transport: &http.Transport{
			TLSHandshakeTimeout:   m.opts.tlsHandshakeTimeout,
			ResponseHeaderTimeout: m.opts.responseHeaderTimeout,
		},
	}
	return m, nil
}

type manager struct {
	opts       Options
	targets    Targets
	idx        index.Manager
	client     *http.Client
	shutdownCh chan<- error
	cancelIdx  func()
	cancel     func()
}

// Stop the manager
func (s *manager) Stop() {
	s.cancel()
}

// Run starts the index manager and begins polling every target on the
// scrape interval.
func (s *manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	c, cancelIdx := context.WithCancel(context.Background())
	s.cancelIdx = cancelIdx
	if err := s.idx.Run(c); err != nil {
		return fmt.Errorf("index.Run: %w", err)
	}
	go func() {
		defer func() {
			s.shutdownCh <- nil
			s.cancelIdx()
		}()
		ticker := time.NewTicker(s.opts.scrapeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.scrapping(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *manager) scrape(url string) (response, error) {
	var resp response
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return resp, fmt.Errorf("creating request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Add("User-Agent", UserAgent)
	req.Header.Add("Accept-Encoding", "gzip")
	httpResp, err := s.client.Do(req)
	if err != nil {
		return resp, fmt.Errorf("sending request error: %w", err)
	}

	defer httpResp.Body.Close()

	var reader io.Reader = httpResp.Body
	if httpResp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(httpResp.Body)
		if err != nil {
			return resp, fmt.Errorf("unable create gzip.NewReader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return resp, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("response was not 200 OK: %s", body)
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&resp); err != nil {
		return resp, fmt.Errorf("decoding response error: %w", err)
	}

	return resp, nil
}

// scrapping polls every target once, at most maxConcurrentRequest
// in flight, and feeds the scraped batches into the index.
func (s *manager) scrapping(ctx context.Context) {
	wg := sync.WaitGroup{}
	logger := logging.FromContext(ctx)
	errCh := make(chan error, 1)
	rateCh := make(chan struct{}, s.opts.maxConcurrentRequest)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for err := range errCh {
			logger.Errorf("scrape manager error: %v", err)
		}
	}()
	for _, target := range s.targets {
		urlData, err := url.Parse(target.URL)
		if err != nil {
			errCh <- fmt.Errorf("url parsing error: %w", err)
			continue
		}
		rworker.Job(&wg, func() error {
			resp, err := s.scrape(urlData.String())
			if err != nil {
				return fmt.Errorf("scrape error: %w", err)
			}
			if resp.Namespace == "" {
				return fmt.Errorf("scrape %s: response namespace is empty", urlData.String())
			}
			// Points without a timestamp count as arriving now.
			now := time.Now()
			for i := range resp.Data {
				if resp.Data[i].CreatedAt.IsZero() {
					resp.Data[i].CreatedAt = now
				}
			}
			sort.Slice(resp.Data, func(i, j int) bool {
				return resp.Data[i].CreatedAt.Before(resp.Data[j].CreatedAt)
			})
			entries := make([]model.Entry, 0, len(resp.Data))
			for _, dat := range resp.Data {
				entries = append(entries, model.NewEntry(resp.Namespace, geom.NewPoint(dat.Vec), dat.CreatedAt, dat.Extra))
			}
			if err := s.idx.Collect(entries...); err != nil {
				return fmt.Errorf("send to collect error: %w", err)
			}
			return nil
		}, rateCh, errCh)
	}
	wg.Wait()
	close(errCh)
	<-drained
	close(rateCh)
}
