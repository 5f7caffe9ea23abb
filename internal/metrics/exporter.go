package metrics

import (
	"context"
	"fmt"

	"contrib.go.opencensus.io/exporter/prometheus"
	"go.opencensus.io/stats/view"

	"github.com/go-spin/spin/internal/logging"
)

// NewExporter registers the package views and returns a Prometheus
// exporter that serves them in exposition format. The caller mounts it
// on the debug mux.
func NewExporter(ctx context.Context, cfg *Config) (*prometheus.Exporter, error) {
	logger := logging.FromContext(ctx)

	if err := RegisterViews(); err != nil {
		return nil, fmt.Errorf("register views: %w", err)
	}
	view.SetReportingPeriod(cfg.ReportingPeriod)

	exporter, err := prometheus.NewExporter(prometheus.Options{
		Namespace: cfg.Namespace,
		OnError: func(err error) {
			logger.Errorf("prometheus exporter: %v", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	view.RegisterExporter(exporter)

	return exporter, nil
}
