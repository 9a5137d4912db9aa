package dalmock

import (
	"log/slog"
	"time"

	"github.com/ismailtsdln/dalmock/fixtures"
)

// Option configures a Server.
type Option func(*Server)

// WithPort uses a fixed port instead of scanning for one.
func WithPort(port int) Option {
	return func(s *Server) {
		s.port = port
	}
}

// WithPortRange sets the scan range used when no fixed port is given.
func WithPortRange(base, limit, step int) Option {
	return func(s *Server) {
		s.base, s.limit, s.step = base, limit, step
	}
}

// WithTimeout sets connection I/O and idle timeouts.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithIdleExit controls whether the accept loop exits after a full timeout
// without connections. Enabled by default.
func WithIdleExit(enabled bool) Option {
	return func(s *Server) {
		s.idleExit = enabled
	}
}

// WithStore sets the fixture source. Defaults to fixtures.Embedded.
func WithStore(store fixtures.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithRoutes replaces the route table. Defaults to DefaultRoutes.
func WithRoutes(rt *RouteTable) Option {
	return func(s *Server) {
		s.routes = rt
	}
}

// WithAllocator sets the allocator whose registry holds the server's port.
func WithAllocator(a *Allocator) Option {
	return func(s *Server) {
		s.allocator = a
	}
}

// WithLogger sets the server's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithHooks sets callbacks run before start and after stop.
func WithHooks(h Hooks) Option {
	return func(s *Server) {
		s.hooks = h
	}
}

// WithOnRequest sets the per-request callback.
func WithOnRequest(fn func(*CapturedRequest)) Option {
	return func(s *Server) {
		s.OnRequest = fn
	}
}
