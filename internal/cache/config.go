package cache

import (
	"time"
)

type Config struct {
	// Redis address, caching is disabled when empty
	Addr     string `envconfig:"SPIN_CACHE_ADDR"`
	Password string `envconfig:"SPIN_CACHE_PASSWORD"`
	DB       int    `envconfig:"SPIN_CACHE_DB"`
	// How long a cached query result lives
	TTL time.Duration `envconfig:"SPIN_CACHE_TTL" default:"5m"`
}
