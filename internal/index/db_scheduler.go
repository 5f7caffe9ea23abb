package index

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-spin/spin/internal/logging"
	"github.com/go-spin/spin/internal/metrics"
	"github.com/go-spin/spin/internal/point/model"
)

type dbSchedulerConfig struct {
	maxItemsStored  int
	maxStorageTime  time.Duration
	rebuildInterval time.Duration
}

func newDBScheduler(config dbSchedulerConfig) *dbScheduler {
	return &dbScheduler{opts: config}
}

// dbScheduler enforces retention on persistent storage: a per-namespace
// size cap and an age limit. It reports which namespaces lost entries so
// their in-memory trees can be rebuilt.
type dbScheduler struct {
	opts dbSchedulerConfig
}

// processOutdatedEntries deletes every entry of the namespace that
// outlived maxStorageTime and reports how many went away.
func (s *dbScheduler) processOutdatedEntries(
	namespace string,
	fetchFn fetchByNamespaceFn,
	deleteFn deleteEntriesFn,
) (int, error) {
	entries, err := fetchFn(context.Background(), namespace, func(entry model.Entry) bool {
		return time.Since(entry.CreatedAt) > s.opts.maxStorageTime
	})
	if err != nil {
		return 0, fmt.Errorf("unable to find entries by namespace %s: %v", namespace, err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := deleteFn(context.Background(), entries); err != nil {
		return 0, fmt.Errorf("unable to delete outdated entries of namespace %s: %v", namespace, err)
	}
	return len(entries), nil
}

// processOverSizeEntries sorts the namespace by creation time and
// deletes the oldest entries until maxItemsStored remain.
func (s *dbScheduler) processOverSizeEntries(
	namespace string,
	fetchFn fetchByNamespaceFn,
	deleteFn deleteEntriesFn,
) (int, error) {
	entries, err := fetchFn(context.Background(), namespace, nil)
	if err != nil {
		return 0, fmt.Errorf("unable to find entries by namespace %s: %v", namespace, err)
	}
	if len(entries) <= s.opts.maxItemsStored {
		return 0, nil
	}

	// Can be a costly operation for large namespaces.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.UnixNano() < entries[j].CreatedAt.UnixNano()
	})

	victims := entries[:len(entries)-s.opts.maxItemsStored]
	if err := deleteFn(context.Background(), victims); err != nil {
		return 0, fmt.Errorf("unable to delete oversize entries of namespace %s: %v", namespace, err)
	}
	return len(victims), nil
}

// rebuildOutdated applies age-based retention to every namespace and
// returns the per-namespace count of deleted entries.
func (s *dbScheduler) rebuildOutdated(deps pullDependencies) (map[string]int, error) {
	keys, err := deps.fetchKeys(context.Background())
	if err != nil {
		return nil, fmt.Errorf("unable to fetch namespace keys: %v", err)
	}
	affected := map[string]int{}
	for i := range keys {
		n, err := s.processOutdatedEntries(keys[i], deps.fetchByNamespace, deps.deleteEntries)
		if err != nil {
			return affected, fmt.Errorf("unable to process entries: %v", err)
		}
		if n > 0 {
			affected[keys[i]] += n
		}
	}
	return affected, nil
}

// rebuildSize applies the size cap to every namespace that grew past it.
func (s *dbScheduler) rebuildSize(deps pullDependencies) (map[string]int, error) {
	keys, err := deps.fetchKeys(context.Background())
	if err != nil {
		return nil, fmt.Errorf("unable to fetch namespace keys: %v", err)
	}
	affected := map[string]int{}
	for i := range keys {
		length, err := deps.countByNamespace(context.Background(), keys[i])
		if err != nil {
			return affected, fmt.Errorf("unable to count by namespace %s: %v", keys[i], err)
		}
		if length > s.opts.maxItemsStored {
			n, err := s.processOverSizeEntries(keys[i], deps.fetchByNamespace, deps.deleteEntries)
			if err != nil {
				return affected, fmt.Errorf("unable to process entries: %v", err)
			}
			if n > 0 {
				affected[keys[i]] += n
			}
		}
	}
	return affected, nil
}

// schedule periodically applies retention and hands the affected
// namespaces to rebuildFn so the in-memory trees catch up with storage.
func (s *dbScheduler) schedule(ctx context.Context, deps pullDependencies, rebuildFn func(context.Context, []string)) {
	logger := logging.FromContext(ctx)
	ticker := time.NewTicker(s.opts.rebuildInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			affected := map[string]int{}
			if s.opts.maxItemsStored > 0 {
				deleted, err := s.rebuildSize(deps)
				if err != nil {
					logger.Errorf("unable to rebuild db size: %v", err)
				}
				for ns, n := range deleted {
					affected[ns] += n
				}
			}
			if s.opts.maxStorageTime > 0 {
				deleted, err := s.rebuildOutdated(deps)
				if err != nil {
					logger.Errorf("unable to rebuild db outdated: %v", err)
				}
				for ns, n := range deleted {
					affected[ns] += n
				}
			}
			if len(affected) == 0 {
				continue
			}

			namespaces := make([]string, 0, len(affected))
			for ns, n := range affected {
				metrics.RecordRetentionDeleted(ctx, ns, n)
				namespaces = append(namespaces, ns)
			}
			sort.Strings(namespaces)
			rebuildFn(ctx, namespaces)
		case <-ctx.Done():
			return
		}
	}
}
