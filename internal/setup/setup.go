// Package setup reads the environment configuration and assembles the
// service environment from it. Config sections are discovered through
// provider interfaces, so the entrypoint only wires what its config
// type exposes.
package setup

import (
	"context"
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/go-spin/spin/internal/cache"
	"github.com/go-spin/spin/internal/database"
	"github.com/go-spin/spin/internal/index"
	"github.com/go-spin/spin/internal/logging"
	"github.com/go-spin/spin/internal/scrape"
	"github.com/go-spin/spin/internal/srvenv"
	"github.com/go-spin/spin/internal/watch"
)

const (
	SvcModeScrape  string = "SCRAPE"
	SvcModeCollect string = "COLLECT"
)

type SvcModeConfigProvider interface {
	SvcMode() string
}

type IndexConfigProvider interface {
	IndexConfig() *index.Config
}

type WatchConfigProvider interface {
	WatchConfig() *watch.Config
}

type ScrapeConfigProvider interface {
	ScrapeConfig() *scrape.Config
}

type DatabaseConfigProvider interface {
	DatabaseConfig() *database.Config
}

type CacheConfigProvider interface {
	CacheConfig() *cache.Config
}

func Setup(ctx context.Context, config interface{}) (*srvenv.SrvEnv, error) {
	logger := logging.FromContext(ctx)
	var serverEnvOpts []srvenv.Option
	if err := envconfig.Process("", config); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	var db *database.DB
	if dbConfigProvider, ok := config.(DatabaseConfigProvider); ok {
		logger.Info("Configuring database")
		dbFromEnv, err := database.NewFromEnv(ctx, dbConfigProvider.DatabaseConfig())
		if err != nil {
			return nil, fmt.Errorf("unable to connect to database: %v", err)
		}
		db = dbFromEnv
		serverEnvOpts = append(serverEnvOpts, srvenv.WithDatabase(db))
	}

	if watchConfigProvider, ok := config.(WatchConfigProvider); ok {
		logger.Info("Configuring watches")
		provideFn, err := ProvideWatcherFor(watchConfigProvider, db)
		if err != nil {
			return nil, fmt.Errorf("unable create watcher provide function: %v", err)
		}
		serverEnvOpts = append(serverEnvOpts, srvenv.WithWatcher(provideFn))
	}

	if indexConfigProvider, ok := config.(IndexConfigProvider); ok {
		logger.Info("Configuring index")
		provideFn, err := ProvideIndexFor(indexConfigProvider, db)
		if err != nil {
			return nil, fmt.Errorf("unable create index provide function: %v", err)
		}
		serverEnvOpts = append(serverEnvOpts, srvenv.WithIndex(provideFn))
	}

	if svcModeConfigProvider, ok := config.(SvcModeConfigProvider); ok && svcModeConfigProvider.SvcMode() == SvcModeScrape {
		if scrapeConfigProvider, ok := config.(ScrapeConfigProvider); ok {
			logger.Info("Configuring scrapper")
			provideFn, err := ProvideScrapperFor(scrapeConfigProvider)
			if err != nil {
				return nil, fmt.Errorf("unable create scrapper provide function: %v", err)
			}
			serverEnvOpts = append(serverEnvOpts, srvenv.WithScrapper(provideFn))
		}
	}

	if cacheConfigProvider, ok := config.(CacheConfigProvider); ok {
		logger.Info("Configuring query cache")
		queryCache, err := cache.New(ctx, cacheConfigProvider.CacheConfig())
		if err != nil {
			return nil, fmt.Errorf("unable to connect to cache: %v", err)
		}
		serverEnvOpts = append(serverEnvOpts, srvenv.WithCache(queryCache))
	}

	return srvenv.New(serverEnvOpts...), nil
}

func ProvideScrapperFor(provider ScrapeConfigProvider) (scrape.ProvideFn, error) {
	cfg := provider.ScrapeConfig()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("dont process scrapper env: %w", err)
	}
	targets, err := cfg.LoadTargets()
	if err != nil {
		return nil, fmt.Errorf("unable to load scrape targets: %v", err)
	}
	return func(idx index.Manager, shutdownCh chan<- error) (scrape.Manager, error) {
		return scrape.New(
			idx,
			shutdownCh,
			scrape.WithInterval(cfg.Interval),
			scrape.WithRequestTimeout(cfg.RequestTimeout),
			scrape.WithMaxConcurrentRequest(cfg.MaxConcurrentRequest),
			scrape.WithTargets(targets),
		)
	}, nil
}

func ProvideWatcherFor(provider WatchConfigProvider, db *database.DB) (watch.ProvideFn, error) {
	cfg := provider.WatchConfig()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("dont process watch env: %w", err)
	}
	routes := cfg.Routes
	if !cfg.AllowWatches {
		routes = nil
	}
	return func(shutdownCh chan<- error) (watch.Manager, error) {
		return watch.New(
			db,
			shutdownCh,
			watch.WithRoutes(routes),
			watch.WithInterval(cfg.Interval),
			watch.WithRequestTimeout(cfg.RequestTimeout),
			watch.WithMaxConcurrentRequest(cfg.MaxConcurrentRequest),
		)
	}, nil
}

func ProvideIndexFor(provider IndexConfigProvider, db *database.DB) (index.ProvideFn, error) {
	cfg := provider.IndexConfig()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("dont process index env: %w", err)
	}
	return func(notifier watch.Manager, shutdownCh chan<- error) (index.Manager, error) {
		return index.New(
			db,
			notifier,
			shutdownCh,
			index.WithRebuildInterval(cfg.RebuildInterval),
			index.WithMaxItemsStored(cfg.MaxItemsStored),
			index.WithMaxStorageTime(cfg.MaxStorageTime),
			index.WithFlushSize(cfg.FlushSize),
			index.WithFlushTime(cfg.FlushTime),
		)
	}, nil
}
