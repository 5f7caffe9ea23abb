package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-spin/spin/internal/buildinfo"
	"github.com/go-spin/spin/internal/collect"
	spin "github.com/go-spin/spin/internal/config"
	"github.com/go-spin/spin/internal/logging"
	"github.com/go-spin/spin/internal/metrics"
	"github.com/go-spin/spin/internal/query"
	"github.com/go-spin/spin/internal/server"
	"github.com/go-spin/spin/internal/setup"
	"github.com/go-spin/spin/internal/shutdown"
)

func main() {
	_, _ = fmt.Fprint(os.Stdout, buildinfo.Graffiti)
	_, _ = fmt.Fprintf(
		os.Stdout,
		"%s: %s, %s\n",
		buildinfo.Info.Name(),
		buildinfo.Info.Time(),
		buildinfo.Info.Tag(),
	)

	ctx, done := shutdown.New()
	logger := logging.FromContext(ctx)
	if err := run(ctx, done); err != nil {
		logger.Fatal(err)
	}

	defer done()
}

func run(ctx context.Context, cancel func()) error {
	// Every index queue worker reports on the shutdown channel when it
	// drains, so the buffer is sized well past workers times namespaces.
	shutdownCh := make(chan error, 4096)
	config := spin.Config{}
	env, err := setup.Setup(ctx, &config)
	if err != nil {
		return fmt.Errorf("setup.Setup: %w", err)
	}
	defer env.Close(ctx)

	watcher, err := env.ProvideWatcher()(shutdownCh)
	if err != nil {
		return fmt.Errorf("watcher provider function error: %w", err)
	}
	idx, err := env.ProvideIndex()(watcher, shutdownCh)
	if err != nil {
		return fmt.Errorf("index provider function error: %w", err)
	}

	if config.SvcModeType == spin.SvcModeTypeScrape {
		scrapper, err := env.ProvideScrapper()(idx, shutdownCh)
		if err != nil {
			return fmt.Errorf("scrapperCaller: %w", err)
		}
		if err := scrapper.Run(ctx); err != nil {
			return fmt.Errorf("scrapperRun: %w", err)
		}
	} else if err := idx.Run(ctx); err != nil {
		return fmt.Errorf("index.Run: %w", err)
	}

	srv, err := server.New(config.SrvAddr, server.WithConnLimit(config.MaxConns))
	if err != nil {
		return fmt.Errorf("sever.New: %w", err)
	}

	mux := http.NewServeMux()

	searchHandler, err := query.NewSearchHandler(&config.Query, idx, env.Cache())
	if err != nil {
		return fmt.Errorf("query.NewSearchHandler: %w", err)
	}
	nearestHandler, err := query.NewNearestHandler(&config.Query, idx, env.Cache())
	if err != nil {
		return fmt.Errorf("query.NewNearestHandler: %w", err)
	}
	rangeHandler, err := query.NewRangeHandler(&config.Query, idx, env.Cache())
	if err != nil {
		return fmt.Errorf("query.NewRangeHandler: %w", err)
	}
	namespacesHandler, err := query.NewNamespacesHandler(idx)
	if err != nil {
		return fmt.Errorf("query.NewNamespacesHandler: %w", err)
	}

	mux.Handle("/search", searchHandler)
	mux.Handle("/nearest", nearestHandler)
	mux.Handle("/range", rangeHandler)
	mux.Handle("/namespaces", namespacesHandler)
	mux.Handle("/health", server.HandleHealth(ctx))

	if config.SvcModeType == spin.SvcModeTypeCollect {
		collectHandler, err := collect.NewHandler(&config.Collect, idx)
		if err != nil {
			return fmt.Errorf("collect.NewHandler: %w", err)
		}
		mux.Handle("/collect", collectHandler)
	}

	go func() {
		if err := srv.ServeHTTPHandler(ctx, mux); err != nil {
			cancel()
		}
	}()

	go func() {
		if err := serveDebug(ctx, config.DebugAddr); err != nil {
			cancel()
		}
	}()

	return <-shutdownCh
}

// serveDebug exposes the Prometheus exporter next to the pprof routes
// that net/http/pprof hangs on the default mux.
func serveDebug(ctx context.Context, addr string) error {
	metricsConfig, err := metrics.NewConfigFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("metrics.NewConfigFromEnv: %w", err)
	}
	exporter, err := metrics.NewExporter(ctx, metricsConfig)
	if err != nil {
		return fmt.Errorf("metrics.NewExporter: %w", err)
	}
	http.Handle("/metrics", exporter)
	return http.ListenAndServe(addr, nil)
}
