package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config tunes the exporter. It is parsed separately from the root
// config so the debug listener can come up before the service sections.
type Config struct {
	Namespace       string        `env:"SPIN_METRICS_NAMESPACE"`
	ReportingPeriod time.Duration `env:"SPIN_METRICS_REPORTING_PERIOD,default=10s"`
}

func NewConfigFromEnv(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	return &cfg, nil
}
