package dalmock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ismailtsdln/dalmock/internal/logging"
)

// Port scan defaults.
const (
	DefaultBasePort     = 8081
	DefaultPortLimit    = 8181
	DefaultPortStep     = 1
	DefaultProbeTimeout = 250 * time.Millisecond
	probePath           = "/path"
)

var (
	// ErrNoFreePort is returned when a scan reaches its limit without a usable port.
	ErrNoFreePort = errors.New("dalmock: no free port in scan range")
	// ErrInvalidRange is returned for a scan range that cannot yield a TCP port.
	ErrInvalidRange = errors.New("dalmock: invalid port range")
)

// SetupError reports a failure to obtain a port. It is fatal to the caller.
type SetupError struct {
	Base, Limit, Step int
	Err               error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("port setup [%d, %d) step %d: %v", e.Base, e.Limit, e.Step, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Registry records the ports claimed by live servers in this process.
type Registry struct {
	mu    sync.Mutex
	ports map[int]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ports: make(map[int]struct{})}
}

// Reserve claims port, reporting false if it was already claimed.
func (r *Registry) Reserve(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ports[port]; ok {
		return false
	}
	r.ports[port] = struct{}{}
	return true
}

// Release drops a claim. Releasing an unclaimed port is a no-op.
func (r *Registry) Release(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, port)
}

// Reserved reports whether port is claimed.
func (r *Registry) Reserved(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ports[port]
	return ok
}

// Ports returns the claimed ports in ascending order.
func (r *Registry) Ports() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.ports))
	for p := range r.ports {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Allocator picks free ports, skipping those claimed in its registry and
// those where something already answers HTTP.
type Allocator struct {
	registry *Registry
	client   *http.Client
	host     string
	log      *slog.Logger
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithProbeTimeout bounds each health probe.
func WithProbeTimeout(d time.Duration) AllocatorOption {
	return func(a *Allocator) {
		if d > 0 {
			a.client.Timeout = d
		}
	}
}

// WithProbeHost sets the host probed for existing listeners. Defaults to localhost.
func WithProbeHost(host string) AllocatorOption {
	return func(a *Allocator) {
		if host != "" {
			a.host = host
		}
	}
}

// WithAllocatorLogger sets the allocator's logger.
func WithAllocatorLogger(log *slog.Logger) AllocatorOption {
	return func(a *Allocator) {
		if log != nil {
			a.log = log
		}
	}
}

// NewAllocator returns an allocator claiming ports in reg.
func NewAllocator(reg *Registry, opts ...AllocatorOption) *Allocator {
	if reg == nil {
		reg = NewRegistry()
	}
	a := &Allocator{
		registry: reg,
		client: &http.Client{
			Timeout:   DefaultProbeTimeout,
			Transport: &http.Transport{DisableKeepAlives: true},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		host: "localhost",
		log:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var (
	defaultMu        sync.Mutex
	defaultAllocator *Allocator
)

// DefaultAllocator returns the process-wide allocator used by servers that
// are not given one explicitly. It is created on first use.
func DefaultAllocator() *Allocator {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultAllocator == nil {
		defaultAllocator = NewAllocator(NewRegistry())
	}
	return defaultAllocator
}

// ResetDefaultAllocator tears down the process-wide allocator and returns
// the ports it still held. Servers holding one of those ports keep working
// and release into the old registry on Stop. The next DefaultAllocator call
// starts from an empty registry, so call this only once those servers are
// stopped, typically at the end of TestMain.
func ResetDefaultAllocator() []int {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultAllocator == nil {
		return nil
	}
	held := defaultAllocator.registry.Ports()
	defaultAllocator = nil
	return held
}

// Registry returns the allocator's registry.
func (a *Allocator) Registry() *Registry { return a.registry }

// Allocate scans base, base+step, ... below limit and claims the first port
// that is neither registered nor answering HTTP.
func (a *Allocator) Allocate(ctx context.Context, base, limit, step int) (int, error) {
	if step <= 0 || base < 1 || limit > 65536 || base >= limit {
		return 0, &SetupError{Base: base, Limit: limit, Step: step, Err: ErrInvalidRange}
	}

	// The increment is clamped so a huge step cannot overflow past limit.
	for port := base; port < limit; port += min(step, limit-port) {
		if err := ctx.Err(); err != nil {
			return 0, &SetupError{Base: base, Limit: limit, Step: step, Err: err}
		}
		if a.registry.Reserved(port) {
			continue
		}
		if a.Answering(ctx, port) {
			a.log.Debug("port already serving", "port", port)
			continue
		}
		// Another allocator may have claimed it while we probed.
		if !a.registry.Reserve(port) {
			continue
		}
		a.log.Debug("port allocated", "port", port)
		return port, nil
	}
	return 0, &SetupError{Base: base, Limit: limit, Step: step, Err: ErrNoFreePort}
}

// Release returns port to the pool.
func (a *Allocator) Release(port int) {
	a.registry.Release(port)
}

// Answering reports whether an HTTP server responds on port.
func (a *Allocator) Answering(ctx context.Context, port int) bool {
	url := fmt.Sprintf("http://%s:%d%s", a.host, port, probePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode > 0
}
