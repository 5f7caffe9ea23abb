package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-spin/spin/internal/cache"
	"github.com/go-spin/spin/internal/geom"
	"github.com/go-spin/spin/internal/index"
	"github.com/go-spin/spin/pkg/container/kdtree"
)

// fakeQuerier serves a canned two-dimensional namespace "production"
// and counts how many searches actually reach it.
type fakeQuerier struct {
	version  uint64
	searches int32
}

var _ index.Querier = (*fakeQuerier)(nil)

func (f *fakeQuerier) Search(namespace string, vec geom.Point) (bool, error) {
	if namespace != "production" {
		return false, index.ErrUnknownNamespace
	}
	if vec.Dimensions() != 2 {
		return false, fmt.Errorf("search in namespace %s: %w", namespace, kdtree.ErrDimMismatch)
	}
	atomic.AddInt32(&f.searches, 1)
	return vec.Equal(geom.Point{3, 6}), nil
}

func (f *fakeQuerier) Nearest(namespace string, vec geom.Point) (geom.Point, float64, error) {
	if namespace != "production" {
		return nil, 0, index.ErrUnknownNamespace
	}
	if vec.Dimensions() != 2 {
		return nil, 0, fmt.Errorf("nearest in namespace %s: %w", namespace, kdtree.ErrDimMismatch)
	}
	return geom.Point{6, 12}, 4.123105625617661, nil
}

func (f *fakeQuerier) Range(namespace string, min, max geom.Point) ([]geom.Point, error) {
	if namespace != "production" {
		return nil, index.ErrUnknownNamespace
	}
	if min.Dimensions() != 2 || max.Dimensions() != 2 {
		return nil, fmt.Errorf("range in namespace %s: %w", namespace, kdtree.ErrDimMismatch)
	}
	if min.Equal(max) {
		return []geom.Point{}, nil
	}
	return []geom.Point{{6, 12}, {13, 15}}, nil
}

func (f *fakeQuerier) Stats() []index.Stat {
	return []index.Stat{{Namespace: "production", Dims: 2, Len: 7, Height: 3, Version: f.version}}
}

func (f *fakeQuerier) Version(namespace string) (uint64, bool) {
	if namespace != "production" {
		return 0, false
	}
	return f.version, true
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSearchHandler(t *testing.T) {
	h, err := NewSearchHandler(&Config{RequestTimeout: time.Second, MaxQueryItems: 2}, &fakeQuerier{version: 1}, nil)
	require.NoError(t, err)

	t.Run("positive_search", func(t *testing.T) {
		w := post(t, h, `{"namespace": "production", "queries": [[3, 6], [8, 8]]}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp searchResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "production", resp.Namespace)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, []float64{3, 6}, resp.Results[0].Vector)
		assert.True(t, resp.Results[0].Found)
		assert.Equal(t, []float64{8, 8}, resp.Results[1].Vector)
		assert.False(t, resp.Results[1].Found)
	})

	t.Run("err_unknown_namespace", func(t *testing.T) {
		w := post(t, h, `{"namespace": "staging", "queries": [[3, 6]]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("err_dim_mismatch", func(t *testing.T) {
		w := post(t, h, `{"namespace": "production", "queries": [[3, 6, 9]]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("err_empty_namespace", func(t *testing.T) {
		w := post(t, h, `{"queries": [[3, 6]]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("err_too_many_queries", func(t *testing.T) {
		w := post(t, h, `{"namespace": "production", "queries": [[1, 1], [2, 2], [3, 3]]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("err_method_not_allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/query", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("err_media_type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "text/plain")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})
}

func TestNearestHandler(t *testing.T) {
	h, err := NewNearestHandler(&Config{RequestTimeout: time.Second, MaxQueryItems: 128}, &fakeQuerier{version: 1}, nil)
	require.NoError(t, err)

	t.Run("positive_nearest", func(t *testing.T) {
		w := post(t, h, `{"namespace": "production", "queries": [[7, 8]]}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp nearestResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Results, 1)
		assert.Equal(t, []float64{7, 8}, resp.Results[0].Query)
		assert.Equal(t, []float64{6, 12}, resp.Results[0].Neighbor)
		assert.InDelta(t, 4.123105625617661, resp.Results[0].Distance, 1e-12)
	})

	t.Run("err_unknown_namespace", func(t *testing.T) {
		w := post(t, h, `{"namespace": "staging", "queries": [[7, 8]]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRangeHandler(t *testing.T) {
	h, err := NewRangeHandler(&Config{RequestTimeout: time.Second, MaxQueryItems: 128}, &fakeQuerier{version: 1}, nil)
	require.NoError(t, err)

	t.Run("positive_range", func(t *testing.T) {
		w := post(t, h, `{"namespace": "production", "min": [5, 5], "max": [15, 15]}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp rangeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, [][]float64{{6, 12}, {13, 15}}, resp.Points)
	})

	t.Run("positive_empty_range", func(t *testing.T) {
		w := post(t, h, `{"namespace": "production", "min": [5, 5], "max": [5, 5]}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"points":[]`)
		assert.Contains(t, w.Body.String(), `"count":0`)
	})

	t.Run("err_bounds_dims", func(t *testing.T) {
		w := post(t, h, `{"namespace": "production", "min": [5], "max": [15, 15]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestNamespacesHandler(t *testing.T) {
	h, err := NewNamespacesHandler(&fakeQuerier{version: 3})
	require.NoError(t, err)

	t.Run("positive_namespaces", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/namespaces", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp namespacesResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Namespaces, 1)
		assert.Equal(t, "production", resp.Namespaces[0].Namespace)
		assert.Equal(t, uint64(3), resp.Namespaces[0].Version)
	})

	t.Run("err_method_not_allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/namespaces", strings.NewReader("{}"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestSearchHandlerCached(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	defer srv.Close()

	qc, err := cache.New(context.Background(), &cache.Config{Addr: srv.Addr(), TTL: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, qc)
	t.Cleanup(func() {
		_ = qc.Close()
	})

	querier := &fakeQuerier{version: 1}
	h, err := NewSearchHandler(&Config{RequestTimeout: time.Second, MaxQueryItems: 128}, querier, qc)
	require.NoError(t, err)

	body := `{"namespace": "production", "queries": [[3, 6]]}`

	first := post(t, h, body)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&querier.searches))

	// The repeat is served from the cache without touching the index.
	second := post(t, h, body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&querier.searches))
	assert.Equal(t, first.Body.String(), second.Body.String())

	// A version bump makes the cached result unreachable.
	querier.version = 2
	third := post(t, h, body)
	require.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(&querier.searches))
}
