package server_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matgreaves/intercept/engine"
	"github.com/matgreaves/intercept/server"
)

type response struct {
	connID int
	d      engine.Disposition
	data   []byte
}

// fakeEngine records every call the controller makes.
type fakeEngine struct {
	mu         sync.Mutex
	running    bool
	cfg        engine.Config
	stats      engine.Stats
	ifaces     string
	ifacesErr  error
	respondErr error
	intercept  engine.InterceptConfig
	responses  []response
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{cfg: engine.Config{
		BindAddress: engine.DefaultBindAddress,
		Port:        engine.DefaultPort,
		LogFile:     engine.DefaultLogFile,
	}}
}

func (f *fakeEngine) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return engine.ErrAlreadyRunning
	}
	f.running = true
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return engine.ErrNotRunning
	}
	f.running = false
	return nil
}

func (f *fakeEngine) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeEngine) SetConfig(cfg engine.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return engine.ErrConfigRejected
	}
	f.cfg = cfg
	return nil
}

func (f *fakeEngine) Config() (engine.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, nil
}

func (f *fakeEngine) Stats() (engine.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

func (f *fakeEngine) SystemInterfaces() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ifaces, f.ifacesErr
}

func (f *fakeEngine) SetInterceptEnabled(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intercept.Enabled = on
	return nil
}

func (f *fakeEngine) SetInterceptDirection(d engine.Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intercept.Direction = d
	return nil
}

func (f *fakeEngine) RespondToIntercept(connID int, d engine.Disposition, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.respondErr != nil {
		return f.respondErr
	}
	f.responses = append(f.responses, response{connID, d, append([]byte(nil), data...)})
	return nil
}

func (f *fakeEngine) Responses() []response {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]response(nil), f.responses...)
}

func (f *fakeEngine) InterceptConfig() engine.InterceptConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intercept
}

// startController runs a controller with eng attached (nil for none) until
// the test ends.
func startController(t *testing.T, eng engine.Engine, opts server.Options) *server.Controller {
	t.Helper()
	if opts.StatsInterval == 0 {
		opts.StatsInterval = -1
	}
	c := server.New(opts)
	if eng != nil {
		if err := c.Attach(eng); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

// barrier waits until everything queued before it has been processed.
func barrier(t *testing.T, c *server.Controller) server.Statistics {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	return s
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func hasStatus(c *server.Controller, substr string) bool {
	for _, m := range c.StatusMessages() {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")
