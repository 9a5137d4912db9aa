// Package dalmock runs a disposable HTTP server that answers with canned
// DAL (SIA, SCS, SSA, SLA) VOTable responses, for testing clients of those
// services without network access.
//
//	s := dalmock.NewTestServer(t)
//	resp, err := http.Get(s.URL() + "/sia?POS=0,0")
package dalmock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ismailtsdln/dalmock/fixtures"
	"github.com/ismailtsdln/dalmock/internal/logging"
)

// DefaultTimeout bounds connection I/O and idle time when none is configured.
const DefaultTimeout = 5 * time.Second

var (
	// ErrAlreadyStarted is returned by Start on a running server.
	ErrAlreadyStarted = errors.New("dalmock: server already started")
	// ErrServerStopped is returned by Start on a stopped server. Create a new one instead.
	ErrServerStopped = errors.New("dalmock: server stopped")
	// ErrPortReserved is returned when a fixed port is already claimed in the registry.
	ErrPortReserved = errors.New("dalmock: port already reserved")
)

// State is a server's lifecycle state.
type State int32

// Lifecycle states. StateStopped is terminal.
const (
	StateCreated State = iota
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	default:
		return "stopped"
	}
}

// Hooks are optional callbacks run around the serving lifetime, typically
// used by a harness to lift and restore network sandboxing.
type Hooks struct {
	BeforeStart func()
	AfterStop   func()
}

// CapturedRequest records one request and how it was answered.
// StatusCode is 0 when the response was aborted.
type CapturedRequest struct {
	ID         string
	Method     string
	Path       string
	Action     Action
	StatusCode int
	Bytes      int64
	Received   time.Time
	Duration   time.Duration
}

// Server is a mock DAL server bound to one port.
type Server struct {
	port              int
	base, limit, step int
	timeout           time.Duration
	idleExit          bool
	routes            *RouteTable
	store             fixtures.Store
	allocator         *Allocator
	hooks             Hooks
	log               *slog.Logger

	// OnRequest is called after every response. Set it before Start.
	OnRequest func(*CapturedRequest)

	mu       sync.Mutex // guards lifecycle fields below
	state    State
	starting bool
	httpSrv  *http.Server
	done     chan struct{}
	stopIdle chan struct{}

	reqMu    sync.Mutex
	requests []*CapturedRequest

	active     atomic.Int64
	lastActive atomic.Int64
}

// NewServer creates and starts a new mock server.
func NewServer(opts ...Option) (*Server, error) {
	s, err := NewUnstartedServer(opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewUnstartedServer creates a mock server with a reserved port but does not start it.
func NewUnstartedServer(opts ...Option) (*Server, error) {
	s := &Server{
		base:     DefaultBasePort,
		limit:    DefaultPortLimit,
		step:     DefaultPortStep,
		timeout:  DefaultTimeout,
		idleExit: true,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.routes == nil {
		s.routes = DefaultRoutes()
	}
	if s.store == nil {
		s.store = fixtures.Embedded()
	}
	if s.allocator == nil {
		s.allocator = DefaultAllocator()
	}

	if s.port == 0 {
		port, err := s.allocator.Allocate(context.Background(), s.base, s.limit, s.step)
		if err != nil {
			return nil, err
		}
		s.port = port
	} else {
		if s.port < 1 || s.port > 65535 {
			return nil, &SetupError{Base: s.port, Limit: s.port + 1, Step: 1, Err: ErrInvalidRange}
		}
		if !s.allocator.Registry().Reserve(s.port) {
			return nil, &SetupError{Base: s.port, Limit: s.port + 1, Step: 1, Err: ErrPortReserved}
		}
	}
	return s, nil
}

// NewTestServer starts a server for the duration of a test, failing the test
// if no port can be obtained. The server is closed by t.Cleanup.
func NewTestServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(opts...)
	if err != nil {
		t.Fatalf("dalmock: starting server: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Start binds the port on all interfaces and serves in the background.
// Hooks run without the server lock held, so they may call back into s.
func (s *Server) Start() error {
	s.mu.Lock()
	switch {
	case s.state == StateStarted, s.starting:
		s.mu.Unlock()
		return ErrAlreadyStarted
	case s.state == StateStopped:
		s.mu.Unlock()
		return ErrServerStopped
	}
	s.starting = true
	s.mu.Unlock()

	if s.hooks.BeforeStart != nil {
		s.hooks.BeforeStart()
	}

	s.mu.Lock()
	s.starting = false
	if s.state == StateStopped {
		// Stopped while BeforeStart ran; the port is already released.
		s.mu.Unlock()
		s.afterStop()
		return ErrServerStopped
	}

	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		s.state = StateStopped
		s.allocator.Release(s.port)
		s.mu.Unlock()
		s.afterStop()
		return fmt.Errorf("listening on port %d: %w", s.port, err)
	}

	srv := &http.Server{
		Handler:      s.handler(),
		ReadTimeout:  s.timeout,
		WriteTimeout: s.timeout,
		IdleTimeout:  s.timeout,
		ConnState:    s.trackConn,
		ErrorLog:     slog.NewLogLogger(s.log.Handler(), slog.LevelDebug),
	}
	done := make(chan struct{})
	s.httpSrv = srv
	s.done = done
	s.stopIdle = make(chan struct{})
	s.touch()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve loop failed", "port", s.port, "error", err)
		}
	}()
	if s.idleExit {
		go s.watchIdle(srv, s.stopIdle)
	}

	s.state = StateStarted
	s.mu.Unlock()
	s.log.Info("mock server started", "port", s.port, "timeout", s.timeout)
	return nil
}

// Stop stops accepting connections and waits up to timeout for the serve
// loop to exit. A timeout of zero or less means the server timeout plus one
// second. The port is released even if the wait times out, and AfterStop
// runs after that. Stopping a stopped server does nothing.
func (s *Server) Stop(timeout time.Duration) {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	started := s.state == StateStarted
	s.state = StateStopped
	if !started {
		// Never served. A Start blocked in BeforeStart runs AfterStop itself.
		s.allocator.Release(s.port)
		s.mu.Unlock()
		return
	}
	close(s.stopIdle)
	srv, done := s.httpSrv, s.done
	s.mu.Unlock()

	if timeout <= 0 {
		timeout = s.timeout + time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		if ctx.Err() == nil {
			s.log.Debug("shutdown", "port", s.port, "error", err)
		} else {
			s.log.Warn("connections did not drain in time, forcing close",
				"port", s.port, "timeout", timeout)
			_ = srv.Close()
		}
	}

	select {
	case <-done:
		s.log.Info("mock server stopped", "port", s.port)
	case <-ctx.Done():
		s.log.Warn("serve loop still running after timeout", "port", s.port, "timeout", timeout)
	}

	s.allocator.Release(s.port)
	s.afterStop()
}

func (s *Server) afterStop() {
	if s.hooks.AfterStop != nil {
		s.hooks.AfterStop()
	}
}

// Close stops the server with the default timeout.
func (s *Server) Close() error {
	s.Stop(0)
	return nil
}

// Done returns a channel closed when the accept loop exits, whether through
// Stop or idle exit. It is nil before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Port returns the server's port.
func (s *Server) Port() int { return s.port }

// Addr returns the listen address, on all interfaces.
func (s *Server) Addr() string { return fmt.Sprintf(":%d", s.port) }

// URL returns the base URL clients should use.
func (s *Server) URL() string { return fmt.Sprintf("http://localhost:%d", s.port) }

// Timeout returns the configured server timeout.
func (s *Server) Timeout() time.Duration { return s.timeout }

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) handler() http.Handler {
	resp := &responder{store: s.store, log: s.log}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured := &CapturedRequest{
			ID:       uuid.NewString(),
			Method:   r.Method,
			Path:     r.RequestURI,
			Received: time.Now(),
		}

		// Set once the response is complete; a later panic comes from
		// OnRequest and must not answer or record a second time.
		var recorded bool

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				captured.StatusCode = 0
				s.record(captured)
				panic(rec)
			}
			s.log.Error("handler panic", "path", r.RequestURI, "panic", rec)
			if recorded {
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "mock server panic: %v", rec)
			captured.StatusCode = http.StatusInternalServerError
			s.record(captured)
		}()

		if r.Method != http.MethodGet {
			captured.StatusCode, captured.Bytes = resp.notImplemented(w, r)
		} else {
			captured.Action = s.routes.Route(r.RequestURI)
			captured.StatusCode, captured.Bytes = resp.respond(w, r, captured.Action)
		}
		recorded = true
		s.record(captured)
	})
}

func (s *Server) record(c *CapturedRequest) {
	c.Duration = time.Since(c.Received)

	s.reqMu.Lock()
	s.requests = append(s.requests, c)
	s.reqMu.Unlock()

	s.log.Debug("request served",
		"method", c.Method, "path", c.Path, "action", c.Action.String(),
		"status", c.StatusCode, "bytes", c.Bytes)
	if s.OnRequest != nil {
		s.OnRequest(c)
	}
}

func (s *Server) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Server) trackConn(_ net.Conn, st http.ConnState) {
	switch st {
	case http.StateNew:
		s.active.Add(1)
	case http.StateHijacked, http.StateClosed:
		s.active.Add(-1)
	}
	s.touch()
}

// watchIdle closes srv once it has had no open connection for a full
// timeout. The port stays reserved until Stop.
func (s *Server) watchIdle(srv *http.Server, stop <-chan struct{}) {
	tick := time.NewTicker(max(s.timeout/4, 10*time.Millisecond))
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-tick.C:
			if s.active.Load() > 0 {
				continue
			}
			idle := now.Sub(time.Unix(0, s.lastActive.Load()))
			if idle < s.timeout {
				continue
			}
			s.log.Info("mock server idle, closing accept loop", "port", s.port, "idle", idle)
			_ = srv.Close()
			return
		}
	}
}

// Requests returns a copy of the request log in arrival order.
func (s *Server) Requests() []*CapturedRequest {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	out := make([]*CapturedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount returns the number of requests received.
func (s *Server) RequestCount() int {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	return len(s.requests)
}

// GetRequest returns the i-th request received, or nil.
func (s *Server) GetRequest(i int) *CapturedRequest {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	if i < 0 || i >= len(s.requests) {
		return nil
	}
	return s.requests[i]
}

// Reset clears the request log.
func (s *Server) Reset() {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	s.requests = nil
}

func (s *Server) calls(path string) int {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	n := 0
	for _, c := range s.requests {
		p, _, _ := strings.Cut(c.Path, "?")
		if p == path {
			n++
		}
	}
	return n
}

// AssertCalled checks that path, ignoring any query string, was requested at least once.
func (s *Server) AssertCalled(t testing.TB, path string) {
	t.Helper()
	if s.calls(path) == 0 {
		t.Errorf("expected %s to be called, but it was not", path)
	}
}

// AssertNotCalled checks that path was never requested.
func (s *Server) AssertNotCalled(t testing.TB, path string) {
	t.Helper()
	if n := s.calls(path); n > 0 {
		t.Errorf("expected %s NOT to be called, but it was called %d times", path, n)
	}
}

// AssertRequestCount checks the total number of requests received.
func (s *Server) AssertRequestCount(t testing.TB, count int) {
	t.Helper()
	if n := s.RequestCount(); n != count {
		t.Errorf("expected %d requests, got %d", count, n)
	}
}
