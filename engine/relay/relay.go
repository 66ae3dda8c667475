// Package relay is a plain TCP relay engine. Every accepted connection is
// forwarded to a single upstream target, and the relay reports connections,
// traffic and statistics to an engine.Notifier. When interception is enabled
// the relay holds matching chunks until the controller responds.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"github.com/matgreaves/intercept/codec"
	"github.com/matgreaves/intercept/engine"
	"github.com/tevino/abool"
	"golang.org/x/net/proxy"
)

// bufferSize is the largest chunk read (and intercepted) at once.
const bufferSize = 16384

// Options configure a Relay.
type Options struct {
	// Target is the upstream host:port every connection is forwarded to.
	Target string

	// UpstreamSOCKS5, when set, routes upstream dials through a SOCKS5 proxy.
	UpstreamSOCKS5 string

	// StatsInterval is how often Statistics is pushed. Defaults to one second.
	StatsInterval time.Duration

	// DialTimeout bounds upstream dials. Defaults to five seconds.
	DialTimeout time.Duration

	Logger *slog.Logger
}

// Relay implements engine.Engine.
type Relay struct {
	opts   Options
	notify engine.Notifier
	log    *slog.Logger

	mu      sync.Mutex
	cfg     engine.Config
	ln      net.Listener
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logFile *os.File
	verbose *slog.Logger

	running     *abool.AtomicBool
	intercepted *abool.AtomicBool
	direction   atomic.Int32

	nextID    atomic.Int64
	total     atomic.Int64
	active    atomic.Int64
	bytesSent atomic.Int64
	bytesRecv atomic.Int64

	waitMu  sync.Mutex
	waiters map[int]chan verdict
}

var _ engine.Engine = (*Relay)(nil)

// New creates a stopped relay with the default configuration.
func New(notify engine.Notifier, opts Options) *Relay {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Relay{
		opts:   opts,
		notify: notify,
		log:    opts.Logger.With("component", "relay"),
		cfg: engine.Config{
			BindAddress: engine.DefaultBindAddress,
			Port:        engine.DefaultPort,
			LogFile:     engine.DefaultLogFile,
		},
		running:     abool.New(),
		intercepted: abool.New(),
		waiters:     make(map[int]chan verdict),
	}
}

// Start opens the listener and begins relaying.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.IsSet() {
		return engine.ErrAlreadyRunning
	}
	if r.opts.Target == "" {
		return fmt.Errorf("relay: no upstream target configured")
	}

	ln, err := net.Listen("tcp", r.cfg.Addr())
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", r.cfg.Addr(), err)
	}
	r.openLogFile()

	ctx, cancel := context.WithCancel(context.Background())
	r.ln = ln
	r.cancel = cancel
	r.running.Set()

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.acceptLoop(ctx, ln)
	}()
	go func() {
		defer r.wg.Done()
		r.statsLoop(ctx)
	}()

	r.notify.Status(fmt.Sprintf("[SYSTEM] Proxy listening on %s, forwarding to %s", ln.Addr(), r.opts.Target))
	return nil
}

// Stop closes the listener and every relayed connection, and waits for them
// to finish. Held intercepts are released as forwarded.
func (r *Relay) Stop() error {
	r.mu.Lock()
	if !r.running.IsSet() {
		r.mu.Unlock()
		return engine.ErrNotRunning
	}
	r.running.UnSet()
	r.cancel()
	r.ln.Close()
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	if r.logFile != nil {
		r.logFile.Close()
		r.logFile = nil
		r.verbose = nil
	}
	r.mu.Unlock()

	r.notify.Status("[SYSTEM] Proxy stopped")
	return nil
}

// Running reports whether the relay is accepting connections.
func (r *Relay) Running() bool {
	return r.running.IsSet()
}

// Addr returns the bound listener address, or nil when stopped.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil || !r.running.IsSet() {
		return nil
	}
	return r.ln.Addr()
}

// SetConfig replaces the listener configuration. Port 0 selects an
// ephemeral port. The relay must be stopped.
func (r *Relay) SetConfig(cfg engine.Config) error {
	if r.running.IsSet() {
		return fmt.Errorf("%w: stop the proxy before reconfiguring", engine.ErrConfigRejected)
	}
	if net.ParseIP(cfg.BindAddress) == nil {
		return fmt.Errorf("%w: invalid bind address %q", engine.ErrConfigRejected, cfg.BindAddress)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", engine.ErrConfigRejected, cfg.Port)
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	return nil
}

// Config returns the current listener configuration.
func (r *Relay) Config() (engine.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg, nil
}

// Stats returns cumulative counters since the relay was created.
func (r *Relay) Stats() (engine.Stats, error) {
	sent, recv := r.bytesSent.Load(), r.bytesRecv.Load()
	return engine.Stats{
		Connections:      r.total.Load(),
		BytesTransferred: sent + recv,
		BytesSent:        sent,
		BytesReceived:    recv,
	}, nil
}

// SystemInterfaces lists the IPv4 addresses of every interface that is up,
// comma separated.
func (r *Relay) SystemInterfaces() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("relay: list interfaces: %w", err)
	}
	var ips []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			ips = append(ips, ipnet.IP.String())
		}
	}
	return strings.Join(ips, ","), nil
}

func (r *Relay) SetInterceptEnabled(enabled bool) error {
	r.intercepted.SetTo(enabled)
	return nil
}

func (r *Relay) SetInterceptDirection(d engine.Direction) error {
	if d < engine.DirectionNone || d > engine.DirectionBoth {
		return fmt.Errorf("relay: unknown intercept direction %d", int(d))
	}
	r.direction.Store(int32(d))
	return nil
}

// openLogFile opens the verbose traffic log. Failure is reported as a status
// line; the relay keeps running without a log file. Caller must hold r.mu.
func (r *Relay) openLogFile() {
	if r.cfg.LogFile == "" {
		return
	}
	f, err := os.OpenFile(r.cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		r.notify.Status(fmt.Sprintf("[ERROR] Failed to open log file %s: %v", r.cfg.LogFile, err))
		return
	}
	level := slog.LevelInfo
	if r.cfg.Verbose {
		level = slog.LevelDebug
	}
	r.logFile = f
	r.verbose = slog.New(tint.NewHandler(f, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    true,
	}))
}

// trafficLog returns the log-file logger, or a discarding one.
func (r *Relay) trafficLog() *slog.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.verbose == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.verbose
}

func (r *Relay) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.notify.Status(fmt.Sprintf("[ERROR] accept: %v", err))
			r.log.Error("accept failed", "error", err)
			return
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handleConn(ctx, conn)
		}()
	}
}

func (r *Relay) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.notify.Statistics(
				int(r.total.Load()),
				int(r.active.Load()),
				r.bytesSent.Load()+r.bytesRecv.Load(),
			)
		}
	}
}

// conn is the per-connection relay state.
type conn struct {
	id         int
	clientIP   string
	clientPort int
	targetHost string
	targetPort int

	// holdMu allows one held chunk per connection at a time.
	holdMu sync.Mutex
}

func (r *Relay) handleConn(ctx context.Context, client net.Conn) {
	c := &conn{id: int(r.nextID.Add(1))}
	c.clientIP, c.clientPort = splitAddr(client.RemoteAddr().String())
	c.targetHost, c.targetPort = splitAddr(r.opts.Target)

	r.total.Add(1)
	r.active.Add(1)
	r.notify.ConnectionOpened(c.clientIP, c.clientPort, c.targetHost, c.targetPort, c.id)

	reason := "connection closed"
	defer func() {
		r.active.Add(-1)
		r.notify.ConnectionClosed(c.id, reason)
	}()

	target, err := r.dial(ctx)
	if err != nil {
		client.Close()
		reason = fmt.Sprintf("upstream dial failed: %v", err)
		return
	}

	// Close both when context is cancelled.
	go func() {
		<-ctx.Done()
		client.Close()
		target.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(2)

	// client → target
	go func() {
		defer wg.Done()
		r.pump(ctx, c, client, target, true)
		if tc, ok := target.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	// target → client
	go func() {
		defer wg.Done()
		r.pump(ctx, c, target, client, false)
		if tc, ok := client.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	wg.Wait()
	client.Close()
	target.Close()

	if ctx.Err() != nil {
		reason = "proxy stopped"
	}
}

func (r *Relay) dial(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: r.opts.DialTimeout}
	if r.opts.UpstreamSOCKS5 == "" {
		return d.DialContext(ctx, "tcp", r.opts.Target)
	}
	pd, err := proxy.SOCKS5("tcp", r.opts.UpstreamSOCKS5, nil, d)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", r.opts.UpstreamSOCKS5, err)
	}
	if cd, ok := pd.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", r.opts.Target)
	}
	return pd.Dial("tcp", r.opts.Target)
}

// pump copies src to dst chunk by chunk, reporting each chunk and holding it
// for a disposition when interception applies.
func (r *Relay) pump(ctx context.Context, c *conn, src, dst net.Conn, clientToServer bool) {
	buf := make([]byte, bufferSize)
	srcIP, dstIP, dstPort := c.clientIP, c.targetHost, c.targetPort
	if !clientToServer {
		srcIP, dstIP, dstPort = c.targetHost, c.clientIP, c.clientPort
	}
	counter := &r.bytesSent
	if !clientToServer {
		counter = &r.bytesRecv
	}

	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			r.record(srcIP, dstIP, dstPort, chunk)
			r.trafficLog().Debug("chunk", "conn", c.id, "direction", directionLabel(clientToServer), "bytes", n)

			out, forward := chunk, true
			if r.intercepted.IsSet() && engine.Direction(r.direction.Load()).Matches(clientToServer) {
				out, forward = r.hold(ctx, c, clientToServer, srcIP, dstIP, dstPort, chunk)
			}
			if forward {
				if _, werr := dst.Write(out); werr != nil {
					return
				}
				counter.Add(int64(len(out)))
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				r.trafficLog().Debug("read failed", "conn", c.id, "error", err)
			}
			return
		}
	}
}

func (r *Relay) record(srcIP, dstIP string, dstPort int, chunk []byte) {
	msgType := engine.MessageBinary
	switch {
	case len(chunk) == 0:
		msgType = engine.MessageEmpty
	case codec.IsPrintable(chunk):
		msgType = engine.MessageText
	}
	r.notify.DataRecord(
		time.Now().Format(time.TimeOnly),
		srcIP, dstIP, dstPort,
		msgType,
		codec.HistoryString(chunk),
	)
}

func directionLabel(clientToServer bool) string {
	if clientToServer {
		return "Client->Server"
	}
	return "Server->Client"
}

func splitAddr(hostport string) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
