// Package query exposes the read endpoints over the index: exact
// search, nearest neighbor, orthogonal range queries and the namespace
// listing. Batched queries fan out concurrently and results can be
// served from the query cache.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-spin/spin/internal/cache"
	"github.com/go-spin/spin/internal/httputil"
	"github.com/go-spin/spin/internal/index"
	"github.com/go-spin/spin/internal/logging"
	"github.com/go-spin/spin/internal/metrics"
	"github.com/go-spin/spin/pkg/container/kdtree"
)

const maxBodyBytes = 64 * 1024 * 1024

type batchRequest struct {
	Namespace string      `json:"namespace"`
	Queries   [][]float64 `json:"queries"`
}

type rangeRequest struct {
	Namespace string    `json:"namespace"`
	Min       []float64 `json:"min"`
	Max       []float64 `json:"max"`
}

type searchResult struct {
	Vector []float64 `json:"vector"`
	Found  bool      `json:"found"`
}

type searchResponse struct {
	Namespace string         `json:"namespace"`
	Results   []searchResult `json:"results"`
}

type nearestResult struct {
	Query    []float64 `json:"query"`
	Neighbor []float64 `json:"neighbor"`
	Distance float64   `json:"distance"`
}

type nearestResponse struct {
	Namespace string          `json:"namespace"`
	Results   []nearestResult `json:"results"`
}

type rangeResponse struct {
	Namespace string      `json:"namespace"`
	Points    [][]float64 `json:"points"`
	Count     int         `json:"count"`
}

type namespacesResponse struct {
	Namespaces []index.Stat `json:"namespaces"`
}

// decodeRequest applies the gates shared by the query endpoints: POST
// only, JSON content type, bounded body. It reports whether the request
// survived them.
func decodeRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, into interface{}) bool {
	logger := logging.FromContext(ctx)

	if r.Method != "POST" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		logger.Debug(fmt.Sprintf(`{"error": "method %v is not allowed"}`, r.Method))
		_, _ = fmt.Fprintf(w, `{"error": "method %v is not allowed"}`, r.Method)
		return false
	}

	if t := r.Header.Get("content-type"); len(t) < 16 || t[:16] != "application/json" {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		logger.Debug(fmt.Sprintf(`{"error": "%v"}`, "content-type is not application/json"))
		_, _ = fmt.Fprintf(w, `{"error": "%v"}`, "content-type is not application/json")
		return false
	}

	defer r.Body.Close()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	d := json.NewDecoder(r.Body)
	if err := d.Decode(into); err != nil {
		httputil.DecodeErr(ctx, w, err)
		return false
	}
	return true
}

// respQueryErr maps an index error onto the response status. Unknown
// namespaces, dimension mismatches and empty trees are the caller's
// fault, the rest is ours.
func respQueryErr(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, index.ErrUnknownNamespace),
		errors.Is(err, kdtree.ErrDimMismatch),
		errors.Is(err, kdtree.ErrEmptyTree):
		httputil.RespBadRequest(ctx, w, `{"error": "%v"}`, err)
	default:
		httputil.RespInternalError(ctx, w, `{"error": "query processing error, %v"}`, err)
	}
}

// cacheKey returns the cache key for a query, or the empty string when
// caching is off or the namespace has no version yet. The empty key
// bypasses the cache.
func cacheKey(qc *cache.Cache, idx index.Querier, namespace, op string, vecs ...[]float64) string {
	if qc == nil {
		return ""
	}
	version, ok := idx.Version(namespace)
	if !ok {
		return ""
	}
	return cache.Key(namespace, version, op, vecs...)
}

func respondJSON(ctx context.Context, w http.ResponseWriter, resp interface{}) {
	bytes, err := json.Marshal(resp)
	if err != nil {
		httputil.RespInternalError(ctx, w, `{"error": "failed to encode output json %v"}`, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "%s", bytes)
}

// NewSearchHandler returns the exact-match endpoint. Each query vector
// is answered independently and the whole batch fails on the first
// invalid vector.
func NewSearchHandler(cfg *Config, idx index.Querier, qc *cache.Cache) (http.Handler, error) {
	return &searchHandler{cfg: cfg, idx: idx, qc: qc}, nil
}

type searchHandler struct {
	cfg *Config
	idx index.Querier
	qc  *cache.Cache
}

func (h *searchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()
	start := time.Now()

	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	if req.Namespace == "" {
		httputil.RespBadRequest(ctx, w, `{"error": "namespace must not be empty"}`)
		return
	}
	if len(req.Queries) > h.cfg.MaxQueryItems {
		httputil.RespBadRequest(ctx, w, `{"error": "queries is too large, max allowed len is %d"}`, h.cfg.MaxQueryItems)
		return
	}

	key := cacheKey(h.qc, h.idx, req.Namespace, "search", req.Queries...)
	var resp searchResponse
	if key != "" && h.qc.Lookup(ctx, key, &resp) {
		metrics.RecordQuery(ctx, req.Namespace, "search", time.Since(start))
		respondJSON(ctx, w, resp)
		return
	}

	results := make([]searchResult, len(req.Queries))
	errGrp := errgroup.Group{}
	for i, vec := range req.Queries {
		i, vec := i, vec
		errGrp.Go(func() error {
			found, err := h.idx.Search(req.Namespace, vec)
			if err != nil {
				return err
			}
			results[i] = searchResult{Vector: vec, Found: found}
			return nil
		})
	}
	if err := errGrp.Wait(); err != nil {
		respQueryErr(ctx, w, err)
		return
	}

	resp = searchResponse{Namespace: req.Namespace, Results: results}
	if key != "" {
		h.qc.Store(ctx, key, resp)
	}
	metrics.RecordQuery(ctx, req.Namespace, "search", time.Since(start))
	respondJSON(ctx, w, resp)
}

// NewNearestHandler returns the nearest-neighbor endpoint.
func NewNearestHandler(cfg *Config, idx index.Querier, qc *cache.Cache) (http.Handler, error) {
	return &nearestHandler{cfg: cfg, idx: idx, qc: qc}, nil
}

type nearestHandler struct {
	cfg *Config
	idx index.Querier
	qc  *cache.Cache
}

func (h *nearestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()
	start := time.Now()

	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	if req.Namespace == "" {
		httputil.RespBadRequest(ctx, w, `{"error": "namespace must not be empty"}`)
		return
	}
	if len(req.Queries) > h.cfg.MaxQueryItems {
		httputil.RespBadRequest(ctx, w, `{"error": "queries is too large, max allowed len is %d"}`, h.cfg.MaxQueryItems)
		return
	}

	key := cacheKey(h.qc, h.idx, req.Namespace, "nearest", req.Queries...)
	var resp nearestResponse
	if key != "" && h.qc.Lookup(ctx, key, &resp) {
		metrics.RecordQuery(ctx, req.Namespace, "nearest", time.Since(start))
		respondJSON(ctx, w, resp)
		return
	}

	results := make([]nearestResult, len(req.Queries))
	errGrp := errgroup.Group{}
	for i, vec := range req.Queries {
		i, vec := i, vec
		errGrp.Go(func() error {
			neighbor, dist, err := h.idx.Nearest(req.Namespace, vec)
			if err != nil {
				return err
			}
			results[i] = nearestResult{Query: vec, Neighbor: neighbor, Distance: dist}
			return nil
		})
	}
	if err := errGrp.Wait(); err != nil {
		respQueryErr(ctx, w, err)
		return
	}

	resp = nearestResponse{Namespace: req.Namespace, Results: results}
	if key != "" {
		h.qc.Store(ctx, key, resp)
	}
	metrics.RecordQuery(ctx, req.Namespace, "nearest", time.Since(start))
	respondJSON(ctx, w, resp)
}

// NewRangeHandler returns the orthogonal range query endpoint. Bounds
// are inclusive on every axis.
func NewRangeHandler(cfg *Config, idx index.Querier, qc *cache.Cache) (http.Handler, error) {
	return &rangeHandler{cfg: cfg, idx: idx, qc: qc}, nil
}

type rangeHandler struct {
	cfg *Config
	idx index.Querier
	qc  *cache.Cache
}

func (h *rangeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()
	start := time.Now()

	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	if req.Namespace == "" {
		httputil.RespBadRequest(ctx, w, `{"error": "namespace must not be empty"}`)
		return
	}

	key := cacheKey(h.qc, h.idx, req.Namespace, "range", req.Min, req.Max)
	var resp rangeResponse
	if key != "" && h.qc.Lookup(ctx, key, &resp) {
		metrics.RecordQuery(ctx, req.Namespace, "range", time.Since(start))
		respondJSON(ctx, w, resp)
		return
	}

	points, err := h.idx.Range(req.Namespace, req.Min, req.Max)
	if err != nil {
		respQueryErr(ctx, w, err)
		return
	}
	out := make([][]float64, 0, len(points))
	for i := range points {
		out = append(out, points[i])
	}

	resp = rangeResponse{Namespace: req.Namespace, Points: out, Count: len(out)}
	if key != "" {
		h.qc.Store(ctx, key, resp)
	}
	metrics.RecordQuery(ctx, req.Namespace, "range", time.Since(start))
	respondJSON(ctx, w, resp)
}

// NewNamespacesHandler returns the namespace listing endpoint.
func NewNamespacesHandler(idx index.Querier) (http.Handler, error) {
	return &namespacesHandler{idx: idx}, nil
}

type namespacesHandler struct {
	idx index.Querier
}

func (h *namespacesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if r.Method != "GET" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		logger.Debug(fmt.Sprintf(`{"error": "method %v is not allowed"}`, r.Method))
		_, _ = fmt.Fprintf(w, `{"error": "method %v is not allowed"}`, r.Method)
		return
	}

	stats := h.idx.Stats()
	respondJSON(ctx, w, namespacesResponse{Namespaces: stats})
}
