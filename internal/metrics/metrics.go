// Package metrics defines the OpenCensus measures and views the
// service reports: index ingestion, query traffic and latency, tree
// shape, watch hits and retention activity.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"github.com/go-spin/spin/internal/logging"
)

var (
	NamespaceKey = tag.MustNewKey("namespace")
	OperationKey = tag.MustNewKey("operation")
)

var (
	mCollected = stats.Int64("spin/index/collected_points",
		"Points accepted into the in-memory index", stats.UnitDimensionless)
	mDropped = stats.Int64("spin/index/dropped_points",
		"Points rejected on insert", stats.UnitDimensionless)
	mRetention = stats.Int64("spin/index/retention_deleted",
		"Points removed by the retention scheduler", stats.UnitDimensionless)
	mTreeLen = stats.Int64("spin/index/tree_len",
		"Points currently held by a namespace tree", stats.UnitDimensionless)
	mTreeHeight = stats.Int64("spin/index/tree_height",
		"Height of a namespace tree", stats.UnitDimensionless)
	mQueries = stats.Int64("spin/query/requests",
		"Queries served", stats.UnitDimensionless)
	mQueryLatency = stats.Float64("spin/query/latency",
		"Query latency", stats.UnitMilliseconds)
	mWatchHits = stats.Int64("spin/watch/hits",
		"Points matched by a watch region", stats.UnitDimensionless)
)

var views = []*view.View{
	{Measure: mCollected, TagKeys: []tag.Key{NamespaceKey}, Aggregation: view.Sum()},
	{Measure: mDropped, TagKeys: []tag.Key{NamespaceKey}, Aggregation: view.Sum()},
	{Measure: mRetention, TagKeys: []tag.Key{NamespaceKey}, Aggregation: view.Sum()},
	{Measure: mTreeLen, TagKeys: []tag.Key{NamespaceKey}, Aggregation: view.LastValue()},
	{Measure: mTreeHeight, TagKeys: []tag.Key{NamespaceKey}, Aggregation: view.LastValue()},
	{Measure: mQueries, TagKeys: []tag.Key{NamespaceKey, OperationKey}, Aggregation: view.Count()},
	{
		Measure:     mQueryLatency,
		TagKeys:     []tag.Key{NamespaceKey, OperationKey},
		Aggregation: view.Distribution(1, 2, 5, 10, 25, 50, 100, 250, 500, 1000),
	},
	{Measure: mWatchHits, TagKeys: []tag.Key{NamespaceKey}, Aggregation: view.Sum()},
}

var registerOnce sync.Once

// RegisterViews registers the package views with the view worker. Safe
// to call more than once.
func RegisterViews() error {
	var err error
	registerOnce.Do(func() {
		err = view.Register(views...)
	})
	return err
}

func record(ctx context.Context, mutators []tag.Mutator, ms ...stats.Measurement) {
	if err := stats.RecordWithTags(ctx, mutators, ms...); err != nil {
		logging.FromContext(ctx).Errorf("record stats: %v", err)
	}
}

func RecordCollected(ctx context.Context, namespace string) {
	record(ctx, []tag.Mutator{tag.Upsert(NamespaceKey, namespace)}, mCollected.M(1))
}

func RecordDropped(ctx context.Context, namespace string) {
	record(ctx, []tag.Mutator{tag.Upsert(NamespaceKey, namespace)}, mDropped.M(1))
}

// RecordQuery counts one served query and its wall-clock latency.
func RecordQuery(ctx context.Context, namespace, operation string, elapsed time.Duration) {
	record(ctx,
		[]tag.Mutator{tag.Upsert(NamespaceKey, namespace), tag.Upsert(OperationKey, operation)},
		mQueries.M(1),
		mQueryLatency.M(float64(elapsed)/float64(time.Millisecond)),
	)
}

// SetTreeStats reports the current size and height of a namespace tree.
func SetTreeStats(ctx context.Context, namespace string, length, height int) {
	record(ctx,
		[]tag.Mutator{tag.Upsert(NamespaceKey, namespace)},
		mTreeLen.M(int64(length)),
		mTreeHeight.M(int64(height)),
	)
}

func RecordWatchHit(ctx context.Context, namespace string) {
	record(ctx, []tag.Mutator{tag.Upsert(NamespaceKey, namespace)}, mWatchHits.M(1))
}

func RecordRetentionDeleted(ctx context.Context, namespace string, count int) {
	if count <= 0 {
		return
	}
	record(ctx, []tag.Mutator{tag.Upsert(NamespaceKey, namespace)}, mRetention.M(int64(count)))
}
