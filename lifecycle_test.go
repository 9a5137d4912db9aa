package dalmock

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ismailtsdln/dalmock/internal/logging"
)

func TestUnstartedServer(t *testing.T) {
	a := newTestAllocator()
	s, err := NewUnstartedServer(WithAllocator(a), WithPortRange(testPortBase, testPortLimit, 1))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if s.State() != StateCreated {
		t.Errorf("expected created state, got %s", s.State())
	}
	if !a.Registry().Reserved(s.Port()) {
		t.Errorf("expected port %d to be reserved before start", s.Port())
	}

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}

	s.Stop(time.Second)
	s.Stop(time.Second)
	if s.State() != StateStopped {
		t.Errorf("expected stopped state, got %s", s.State())
	}
	if err := s.Start(); !errors.Is(err, ErrServerStopped) {
		t.Errorf("expected ErrServerStopped, got %v", err)
	}
	if a.Registry().Reserved(s.Port()) {
		t.Errorf("expected port %d to be released", s.Port())
	}
}

func TestStopNeverStarted(t *testing.T) {
	a := newTestAllocator()
	s, err := NewUnstartedServer(WithAllocator(a), WithPortRange(testPortBase, testPortLimit, 1))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if a.Registry().Reserved(s.Port()) {
		t.Errorf("expected port %d to be released", s.Port())
	}
}

func TestFixedPort(t *testing.T) {
	a := newTestAllocator()
	port := testPortLimit + 7

	s, err := NewUnstartedServer(WithAllocator(a), WithPort(port))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	defer s.Close()
	if s.Port() != port {
		t.Errorf("expected port %d, got %d", port, s.Port())
	}
	if s.Addr() != ":"+strconv.Itoa(port) {
		t.Errorf("unexpected addr %s", s.Addr())
	}

	_, err = NewUnstartedServer(WithAllocator(a), WithPort(port))
	if !errors.Is(err, ErrPortReserved) {
		t.Errorf("expected ErrPortReserved, got %v", err)
	}

	_, err = NewUnstartedServer(WithAllocator(a), WithPort(70000))
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestStartBindFailureReleasesPort(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Skipf("unable to listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	var stops int
	a := newTestAllocator()
	s, err := NewUnstartedServer(WithAllocator(a), WithPort(port),
		WithHooks(Hooks{AfterStop: func() { stops++ }}))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	if err := s.Start(); err == nil {
		t.Fatal("expected bind failure on an occupied port")
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped state, got %s", s.State())
	}
	if a.Registry().Reserved(port) {
		t.Errorf("expected port %d to be released", port)
	}
	if stops != 1 {
		t.Errorf("expected AfterStop once, got %d", stops)
	}
}

func TestHooks(t *testing.T) {
	var starts, stops int
	s, _ := testServer(t, WithHooks(Hooks{
		BeforeStart: func() { starts++ },
		AfterStop:   func() { stops++ },
	}))

	s.Stop(time.Second)
	s.Stop(time.Second)

	if starts != 1 || stops != 1 {
		t.Errorf("expected one start and one stop hook, got %d and %d", starts, stops)
	}
}

func TestHooksMayCallServer(t *testing.T) {
	a := newTestAllocator()
	var (
		startState     State
		stopState      State
		releasedByStop bool
		s              *Server
	)
	s, err := NewUnstartedServer(WithAllocator(a), WithPortRange(testPortBase, testPortLimit, 1),
		WithHooks(Hooks{
			BeforeStart: func() { startState = s.State() },
			AfterStop: func() {
				stopState = s.State()
				_ = s.Done()
				releasedByStop = !a.Registry().Reserved(s.Port())
			},
		}))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if err := s.Start(); err != nil {
			t.Errorf("failed to start: %v", err)
			return
		}
		s.Stop(time.Second)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Start/Stop blocked on a hook calling back into the server")
	}

	if startState != StateCreated {
		t.Errorf("expected BeforeStart to see created state, got %s", startState)
	}
	if stopState != StateStopped {
		t.Errorf("expected AfterStop to see stopped state, got %s", stopState)
	}
	if !releasedByStop {
		t.Errorf("expected port to be released before AfterStop runs")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStopForcesCloseAfterTimeout(t *testing.T) {
	var logs lockedBuffer
	a := newTestAllocator()
	s, err := NewServer(
		WithAllocator(a),
		WithPortRange(testPortBase, testPortLimit, 1),
		WithTimeout(5*time.Second),
		WithLogger(logging.New(logging.Config{Level: logging.LevelDebug, Output: &logs})),
	)
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	defer s.Close()

	// A request with unfinished headers keeps the connection active.
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("GET /sia HTTP/1.1\r\nHost: localhost\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	s.Stop(300 * time.Millisecond)
	elapsed := time.Since(start)

	if elapsed < 300*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("expected Stop to give up after about 300ms, took %s", elapsed)
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped state, got %s", s.State())
	}
	if a.Registry().Reserved(s.Port()) {
		t.Errorf("expected port %d to be released after a forced close", s.Port())
	}
	if !strings.Contains(logs.String(), "forcing close") {
		t.Errorf("expected a forced-close warning, got logs:\n%s", logs.String())
	}
}

func TestNewTestServerCleanup(t *testing.T) {
	a := newTestAllocator()
	var port int

	t.Run("inner", func(t *testing.T) {
		s := NewTestServer(t, WithAllocator(a), WithPortRange(testPortBase, testPortLimit, 1))
		port = s.Port()
		if !a.Registry().Reserved(port) {
			t.Errorf("expected port %d to be reserved while running", port)
		}
	})

	if a.Registry().Reserved(port) {
		t.Errorf("expected cleanup to release port %d", port)
	}
}

func TestIdleExit(t *testing.T) {
	s, a := testServer(t, WithTimeout(200*time.Millisecond))

	resp, err := testClient.Get(s.URL() + "/path")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	time.Sleep(time.Second)

	if _, err := testClient.Get(s.URL() + "/path"); err == nil {
		t.Fatal("server kept accepting connections after idle timeout")
	}
	if !a.Registry().Reserved(s.Port()) {
		t.Errorf("idle exit should keep the port reserved until Stop")
	}

	s.Stop(time.Second)
	if a.Registry().Reserved(s.Port()) {
		t.Errorf("expected Stop to release port %d", s.Port())
	}
}

func TestIdleExitDisabled(t *testing.T) {
	s, _ := testServer(t, WithTimeout(100*time.Millisecond), WithIdleExit(false))

	time.Sleep(400 * time.Millisecond)

	resp, err := testClient.Get(s.URL() + "/path")
	if err != nil {
		t.Fatalf("expected server to keep serving, got %v", err)
	}
	resp.Body.Close()
}
