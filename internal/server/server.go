// Package server wraps the HTTP listener lifecycle: bounded connection
// intake and a graceful drain once the process context is canceled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/go-spin/spin/internal/logging"
)

const drainTimeout = 5 * time.Second

type Option func(*Server)

// WithConnLimit caps the number of simultaneously accepted connections.
func WithConnLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.listener = netutil.LimitListener(s.listener, n)
		}
	}
}

type Server struct {
	addr     string
	listener net.Listener
}

func New(addr string, opts ...Option) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener on %s: %w", addr, err)
	}

	s := &Server{
		addr:     addr,
		listener: listener,
	}
	for _, f := range opts {
		f(s)
	}
	return s, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) ServeHTTP(ctx context.Context, srv *http.Server) error {
	logger := logging.FromContext(ctx)
	errCh := make(chan error, 1)
	go func() {
		<-ctx.Done()

		logger.Debugf("server.Serve: context closed")
		shutdownCtx, done := context.WithTimeout(context.Background(), drainTimeout)
		defer done()

		logger.Debugf("server.Serve: shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}

	logger.Debugf("server.Serve: serving stopped")

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to shutdown: %w", err)
	default:
		return nil
	}
}

func (s *Server) ServeHTTPHandler(ctx context.Context, handler http.Handler) error {
	return s.ServeHTTP(ctx, &http.Server{
		Handler: handler,
	})
}
