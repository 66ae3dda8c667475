package server

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/matgreaves/intercept/engine"
)

// StatusView summarises the controller for operators.
type StatusView struct {
	EngineLoaded bool          `json:"engine_loaded"`
	Running      bool          `json:"running"`
	Config       engine.Config `json:"config"`
	Stats        Statistics    `json:"stats"`
	Intercept    InterceptView `json:"intercept"`
	LastStatus   string        `json:"last_status,omitempty"`
}

// ConfigRequest is operator-supplied engine configuration. Port is text as
// typed by the operator.
type ConfigRequest struct {
	BindAddress string `json:"bind_address"`
	Port        string `json:"port"`
	LogFile     string `json:"log_file"`
	Verbose     bool   `json:"verbose"`
}

// Parse validates r and converts it to an engine configuration. An empty
// bind address means loopback.
func (r ConfigRequest) Parse() (engine.Config, error) {
	cfg := engine.Config{
		BindAddress: strings.TrimSpace(r.BindAddress),
		LogFile:     strings.TrimSpace(r.LogFile),
		Verbose:     r.Verbose,
	}
	if cfg.BindAddress == "" {
		cfg.BindAddress = engine.DefaultBindAddress
	}
	if net.ParseIP(cfg.BindAddress) == nil {
		return engine.Config{}, fmt.Errorf("%w: bind address %q is not an IP address", ErrInvalidConfig, cfg.BindAddress)
	}
	port := strings.TrimSpace(r.Port)
	if port == "" {
		return engine.Config{}, fmt.Errorf("%w: port is required", ErrInvalidConfig)
	}
	p, err := nat.ParsePort(port)
	if err != nil || p == 0 {
		return engine.Config{}, fmt.Errorf("%w: port %q must be between 1 and 65535", ErrInvalidConfig, port)
	}
	cfg.Port = p
	return cfg, nil
}

func (c *Controller) loadEngineConfig() {
	cfg, err := c.eng.Config()
	if err != nil {
		c.status(fmt.Sprintf("[ERROR] Failed to load configuration: %v", err))
		return
	}
	c.engineCfg = cfg
	c.status(fmt.Sprintf("[CONFIG] Loaded configuration - Bind: %s, Port: %d", cfg.BindAddress, cfg.Port))
	c.status(fmt.Sprintf("[CONFIG] Log file: %s, Verbose mode: %s", cfg.LogFile, onOff(cfg.Verbose)))
}

func onOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}

// Snapshot returns the controller state.
func (c *Controller) Snapshot(ctx context.Context) (StatusView, error) {
	var v StatusView
	err := c.do(ctx, func() error {
		v = StatusView{
			EngineLoaded: c.eng != nil,
			Running:      c.eng != nil && c.eng.Running(),
			Config:       c.engineCfg,
			Stats:        c.stats,
			Intercept:    c.interceptView(),
		}
		v.LastStatus, _ = c.messages.Last()
		return nil
	})
	return v, err
}

// Stats returns the aggregated counters.
func (c *Controller) Stats(ctx context.Context) (Statistics, error) {
	var s Statistics
	err := c.do(ctx, func() error {
		s = c.stats
		return nil
	})
	return s, err
}

// StartProxy starts the engine.
func (c *Controller) StartProxy(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.eng == nil {
			return engine.ErrNotLoaded
		}
		if c.eng.Running() {
			return engine.ErrAlreadyRunning
		}
		if err := c.eng.Start(); err != nil {
			c.status(fmt.Sprintf("[ERROR] Failed to start proxy: %v", err))
			return fmt.Errorf("start proxy: %w", err)
		}
		cfg := c.engineCfg
		c.publish(FeedEvent{Type: FeedProxyStarted, Message: "proxy started on " + cfg.Addr()})
		c.status("[PROXY] Proxy started successfully. Configure clients to use the proxy:")
		c.status("[PROXY] - Host: " + cfg.BindAddress)
		c.status(fmt.Sprintf("[PROXY] - Port: %d", cfg.Port))
		return nil
	})
}

// StopProxy stops the engine. A pending intercept is forwarded first.
func (c *Controller) StopProxy(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.eng == nil {
			return engine.ErrNotLoaded
		}
		if !c.eng.Running() {
			return engine.ErrNotRunning
		}
		if c.pending != nil {
			c.resolve(engine.Forward, nil)
		}
		if err := c.eng.Stop(); err != nil {
			c.status(fmt.Sprintf("[ERROR] Failed to stop proxy: %v", err))
			return fmt.Errorf("stop proxy: %w", err)
		}
		c.publish(FeedEvent{Type: FeedProxyStopped, Message: "proxy stopped"})
		c.status("[SYSTEM] Proxy stopped")
		return nil
	})
}

// Config reads the engine's configuration.
func (c *Controller) Config(ctx context.Context) (engine.Config, error) {
	var cfg engine.Config
	err := c.do(ctx, func() error {
		if c.eng == nil {
			return engine.ErrNotLoaded
		}
		got, err := c.eng.Config()
		if err != nil {
			return fmt.Errorf("read engine config: %w", err)
		}
		c.engineCfg = got
		cfg = got
		return nil
	})
	return cfg, err
}

// ApplyConfig validates req and pushes it to the engine. Invalid input
// leaves the engine untouched.
func (c *Controller) ApplyConfig(ctx context.Context, req ConfigRequest) (engine.Config, error) {
	cfg, err := req.Parse()
	if err != nil {
		return engine.Config{}, err
	}
	err = c.do(ctx, func() error {
		if c.eng == nil {
			return engine.ErrNotLoaded
		}
		if err := c.eng.SetConfig(cfg); err != nil {
			c.status(fmt.Sprintf("[ERROR] Failed to apply configuration: %v", err))
			return fmt.Errorf("apply config: %w", err)
		}
		c.engineCfg = cfg
		c.status(fmt.Sprintf("[CONFIG] Configuration applied - Bind: %s, Port: %d", cfg.BindAddress, cfg.Port))
		c.status(fmt.Sprintf("[CONFIG] Log file: %s, Verbose mode: %s", cfg.LogFile, onOff(cfg.Verbose)))
		return nil
	})
	if err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// Interfaces lists bind addresses. The engine's list is preferred; local
// enumeration is used when the engine is missing or returns nothing.
func (c *Controller) Interfaces(ctx context.Context) ([]string, error) {
	var addrs []string
	err := c.do(ctx, func() error {
		if c.eng != nil {
			list, err := c.eng.SystemInterfaces()
			if err == nil {
				addrs = splitInterfaces(list)
			} else {
				c.status(fmt.Sprintf("[ERROR] Failed to get network interfaces from engine: %v", err))
			}
		}
		if len(addrs) > 0 {
			c.status(fmt.Sprintf("[SYSTEM] Found %d network interfaces", len(addrs)))
			return nil
		}
		local, err := c.opts.LocalInterfaces()
		if err != nil {
			c.status(fmt.Sprintf("[ERROR] Failed to enumerate network interfaces: %v", err))
		}
		addrs = local
		if len(addrs) == 0 {
			addrs = []string{"127.0.0.1"}
		}
		return nil
	})
	return addrs, err
}

// ClearConnections empties the connection log. Counters are unchanged.
func (c *Controller) ClearConnections(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.connections.Clear()
		c.status("[SYSTEM] Connection history cleared")
		return nil
	})
}

// ClearTraffic empties the traffic history.
func (c *Controller) ClearTraffic(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.traffic.Clear()
		c.status("[SYSTEM] Traffic history cleared")
		return nil
	})
}
