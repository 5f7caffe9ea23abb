// Package srvenv carries the shared service environment assembled at
// startup: the database handle, the query cache and the provider
// functions the entrypoint wires together.
package srvenv

import (
	"context"

	"github.com/go-spin/spin/internal/cache"
	"github.com/go-spin/spin/internal/database"
	"github.com/go-spin/spin/internal/index"
	"github.com/go-spin/spin/internal/scrape"
	"github.com/go-spin/spin/internal/watch"
)

type Option func(*SrvEnv) *SrvEnv

func New(opts ...Option) *SrvEnv {
	env := &SrvEnv{}
	for _, f := range opts {
		env = f(env)
	}

	return env
}

type SrvEnv struct {
	database *database.DB
	index    index.ProvideFn
	watcher  watch.ProvideFn
	scrapper scrape.ProvideFn
	cache    *cache.Cache
}

func (s *SrvEnv) ProvideScrapper() scrape.ProvideFn {
	return s.scrapper
}

func (s *SrvEnv) ProvideWatcher() watch.ProvideFn {
	return s.watcher
}

func (s *SrvEnv) ProvideIndex() index.ProvideFn {
	return s.index
}

func (s *SrvEnv) Database() *database.DB {
	return s.database
}

// Cache returns the query cache, nil when caching is disabled.
func (s *SrvEnv) Cache() *cache.Cache {
	return s.cache
}

func WithScrapper(fn scrape.ProvideFn) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.scrapper = fn
		return s
	}
}

func WithWatcher(fn watch.ProvideFn) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.watcher = fn
		return s
	}
}

func WithIndex(fn index.ProvideFn) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.index = fn
		return s
	}
}

func WithDatabase(db *database.DB) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.database = db
		return s
	}
}

func WithCache(c *cache.Cache) Option {
	return func(s *SrvEnv) *SrvEnv {
		s.cache = c
		return s
	}
}

func (s *SrvEnv) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}

	if err := s.cache.Close(); err != nil {
		return err
	}
	if s.database != nil {
		return s.database.Close(ctx)
	}
	return nil
}
