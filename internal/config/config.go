package spin

import (
	"github.com/go-spin/spin/internal/cache"
	"github.com/go-spin/spin/internal/collect"
	"github.com/go-spin/spin/internal/database"
	"github.com/go-spin/spin/internal/index"
	"github.com/go-spin/spin/internal/query"
	"github.com/go-spin/spin/internal/scrape"
	"github.com/go-spin/spin/internal/setup"
	"github.com/go-spin/spin/internal/watch"
)

var (
	_ setup.SvcModeConfigProvider  = (*Config)(nil)
	_ setup.IndexConfigProvider    = (*Config)(nil)
	_ setup.WatchConfigProvider    = (*Config)(nil)
	_ setup.ScrapeConfigProvider   = (*Config)(nil)
	_ setup.DatabaseConfigProvider = (*Config)(nil)
	_ setup.CacheConfigProvider    = (*Config)(nil)
)

const (
	SvcModeTypeCollect = "COLLECT"
	SvcModeTypeScrape  = "SCRAPE"
)

type Config struct {
	SvcModeType string `envconfig:"SPIN_SVC_MODE" default:"COLLECT"`
	SrvAddr     string `envconfig:"SPIN_ADDR" default:":8787"`
	DebugAddr   string `envconfig:"SPIN_DEBUG_ADDR" default:":8080"`
	MaxConns    int    `envconfig:"SPIN_MAX_CONNS" default:"512"`
	Index       index.Config
	Collect     collect.Config
	Query       query.Config
	Database    database.Config
	Scrape      scrape.Config
	Watch       watch.Config
	Cache       cache.Config
}

func (c *Config) SvcMode() string {
	return c.SvcModeType
}

func (c *Config) IndexConfig() *index.Config {
	return &c.Index
}

func (c *Config) WatchConfig() *watch.Config {
	return &c.Watch
}

func (c *Config) ScrapeConfig() *scrape.Config {
	return &c.Scrape
}

func (c *Config) DatabaseConfig() *database.Config {
	return &c.Database
}

func (c *Config) CacheConfig() *cache.Config {
	return &c.Cache
}
