package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-spin/spin/internal/collect"
	"github.com/go-spin/spin/internal/database"
	"github.com/go-spin/spin/internal/geom"
	"github.com/go-spin/spin/internal/index"
	pointDb "github.com/go-spin/spin/internal/point/database"
	"github.com/go-spin/spin/internal/point/model"
	"github.com/go-spin/spin/internal/query"
	"github.com/go-spin/spin/internal/server"
	"github.com/go-spin/spin/internal/watch"
)

// startService assembles the whole service on an ephemeral port: a
// bbolt file in a temp dir, a watcher without routes, the index manager
// and the full HTTP surface.
func startService(t *testing.T, ctx context.Context) (*Client, chan error) {
	t.Helper()

	db, err := database.NewFromEnv(ctx, &database.Config{FileName: filepath.Join(t.TempDir(), "spin.db")})
	if err != nil {
		t.Fatalf("connecting to database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close(ctx)
	})

	// Every queue worker reports on the shutdown channel, so it is sized
	// well past the worker count.
	shutdownCh := make(chan error, 1024)
	watcher, err := watch.New(db, shutdownCh)
	if err != nil {
		t.Fatalf("calling the watch.New method, got: %v, expected: %v", err, nil)
	}
	idx, err := index.New(
		db,
		watcher,
		shutdownCh,
		index.WithFlushSize(2),
		index.WithFlushTime(50*time.Millisecond),
		index.WithRebuildInterval(time.Hour),
	)
	if err != nil {
		t.Fatalf("calling the index.New method, got: %v, expected: %v", err, nil)
	}
	if err := idx.Run(ctx); err != nil {
		t.Fatalf("calling the Run method, got: %v, expected: %v", err, nil)
	}

	queryCfg := &query.Config{RequestTimeout: time.Minute, MaxQueryItems: 128}

	collectHandler, err := collect.NewHandler(&collect.Config{RequestTimeout: time.Minute}, idx)
	require.NoError(t, err)
	searchHandler, err := query.NewSearchHandler(queryCfg, idx, nil)
	require.NoError(t, err)
	nearestHandler, err := query.NewNearestHandler(queryCfg, idx, nil)
	require.NoError(t, err)
	rangeHandler, err := query.NewRangeHandler(queryCfg, idx, nil)
	require.NoError(t, err)
	namespacesHandler, err := query.NewNamespacesHandler(idx)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/collect", collectHandler)
	mux.Handle("/search", searchHandler)
	mux.Handle("/nearest", nearestHandler)
	mux.Handle("/range", rangeHandler)
	mux.Handle("/namespaces", namespacesHandler)
	mux.Handle("/health", server.HandleHealth(ctx))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewClient(srv.Listener.Addr().String()), shutdownCh
}

func TestServiceEndToEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, shutdownCh := startService(t, ctx)

	base := time.Now().Add(-time.Hour)
	vectors := [][]float64{{3, 6}, {17, 15}, {13, 15}, {6, 12}, {9, 1}, {2, 7}, {10, 19}}
	collectReq := CollectRequest{Namespace: "production"}
	for i, vec := range vectors {
		collectReq.Data = append(collectReq.Data, CollectItem{
			Vec:       vec,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		})
	}

	resp, err := client.Collect(collectReq)
	if err != nil {
		t.Fatalf("calling the Collect method, got: %v, expected: %v", err, nil)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("collect status code, got: %v, expected: %v", resp.StatusCode, http.StatusOK)
	}

	// Ingestion is asynchronous, wait until every entry surfaces in the
	// namespace listing.
	require.Eventually(t, func() bool {
		namespaces, err := client.Namespaces()
		if err != nil {
			return false
		}
		return len(namespaces.Namespaces) == 1 && namespaces.Namespaces[0].Len == len(vectors)
	}, 5*time.Second, 50*time.Millisecond, "entries were not indexed in time")

	namespaces, err := client.Namespaces()
	require.NoError(t, err)
	stat := namespaces.Namespaces[0]
	assert.Equal(t, "production", stat.Namespace)
	assert.Equal(t, 2, stat.Dims)
	assert.Equal(t, uint64(7), stat.Version)

	search, err := client.Search(QueryRequest{Namespace: "production", Queries: [][]float64{{3, 6}, {5, 5}}})
	require.NoError(t, err)
	require.Len(t, search.Results, 2)
	assert.Equal(t, []float64{3, 6}, search.Results[0].Vector)
	assert.True(t, search.Results[0].Found)
	assert.False(t, search.Results[1].Found)

	nearest, err := client.Nearest(QueryRequest{Namespace: "production", Queries: [][]float64{{7, 8}}})
	require.NoError(t, err)
	require.Len(t, nearest.Results, 1)
	assert.Equal(t, []float64{6, 12}, nearest.Results[0].Neighbor)
	assert.InDelta(t, 4.123105625617661, nearest.Results[0].Distance, 1e-12)

	ranged, err := client.RangeQuery(RangeRequest{Namespace: "production", Min: []float64{5, 5}, Max: []float64{15, 15}})
	require.NoError(t, err)
	assert.Equal(t, 2, ranged.Count)
	assert.ElementsMatch(t, [][]float64{{6, 12}, {13, 15}}, ranged.Points)

	_, err = client.Search(QueryRequest{Namespace: "staging", Queries: [][]float64{{1, 2}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown namespace")

	_, err = client.Nearest(QueryRequest{Namespace: "production", Queries: [][]float64{{1, 2, 3}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "point dimensions do not match tree dimensions")

	health, err := client.Health()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, health.StatusCode)
	_ = health.Body.Close()

	cancel()
	select {
	case err := <-shutdownCh:
		if err != nil {
			t.Errorf("calling the shutdown, got: %v, expected: %v", err, nil)
		}
	case <-time.After(5 * time.Second):
		t.Errorf("no shutdown signal after cancel")
	}
}

func TestServicePersistsAcrossRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "spin.db")
	vectors := [][]float64{{3, 6}, {17, 15}, {13, 15}}

	func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		db, err := database.NewFromEnv(ctx, &database.Config{FileName: file})
		require.NoError(t, err)
		defer db.Close(ctx)

		shutdownCh := make(chan error, 1024)
		watcher, err := watch.New(db, shutdownCh)
		require.NoError(t, err)
		idx, err := index.New(
			db,
			watcher,
			shutdownCh,
			index.WithFlushSize(1),
			index.WithFlushTime(20*time.Millisecond),
			index.WithRebuildInterval(time.Hour),
		)
		require.NoError(t, err)
		require.NoError(t, idx.Run(ctx))

		for _, vec := range vectors {
			require.NoError(t, idx.Collect(model.NewEntry("production", geom.NewPoint(vec), time.Now(), nil)))
		}

		// Wait until the write-back executor lands everything in bbolt
		// before shutting down.
		points := pointDb.New(db)
		require.Eventually(t, func() bool {
			count, err := points.CountByNamespace(ctx, "production")
			return err == nil && count == len(vectors)
		}, 5*time.Second, 20*time.Millisecond)

		cancel()
		select {
		case <-shutdownCh:
		case <-time.After(5 * time.Second):
			t.Fatalf("no shutdown signal after cancel")
		}
		idx.Stop()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewFromEnv(ctx, &database.Config{FileName: file})
	require.NoError(t, err)
	defer db.Close(ctx)

	shutdownCh := make(chan error, 1024)
	watcher, err := watch.New(db, shutdownCh)
	require.NoError(t, err)
	idx, err := index.New(db, watcher, shutdownCh, index.WithRebuildInterval(time.Hour))
	require.NoError(t, err)
	require.NoError(t, idx.Run(ctx))

	stats := idx.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, len(vectors), stats[0].Len)

	found, err := idx.Search("production", geom.Point{17, 15})
	require.NoError(t, err)
	assert.True(t, found)
}
