package query

import (
	"time"
)

type Config struct {
	RequestTimeout time.Duration `envconfig:"SPIN_QUERY_REQUEST_TIMEOUT" default:"30s"`
	MaxQueryItems  int           `envconfig:"SPIN_QUERY_MAX_ITEMS" default:"128"`
}
