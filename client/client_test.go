package client_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matgreaves/intercept/client"
	"github.com/matgreaves/intercept/engine"
	"github.com/matgreaves/intercept/engine/relay"
	"github.com/matgreaves/intercept/server"
	"github.com/matryer/is"
)

// startEcho runs a TCP echo server for the duration of the test.
func startEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().String()
}

// startDaemon wires a controller, a relay in front of an echo server and
// the HTTP API, the way interceptd serve does.
func startDaemon(t *testing.T) (*client.Client, *relay.Relay) {
	t.Helper()
	ctrl := server.New(server.Options{StatsInterval: -1})
	r := relay.New(ctrl, relay.Options{Target: startEcho(t)})
	if err := r.SetConfig(engine.Config{BindAddress: "127.0.0.1", Port: 0}); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Attach(r); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	ts := httptest.NewServer(server.NewServer(ctrl, t.TempDir(), nil))
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})
	return client.New(ts.URL), r
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClient_InterceptRoundTrip(t *testing.T) {
	is := is.New(t)
	ctx := ctxT(t)
	c, r := startDaemon(t)

	is.NoErr(c.Health(ctx))
	is.NoErr(c.Start(ctx))

	st, err := c.Status(ctx)
	is.NoErr(err)
	is.True(st.EngineLoaded)
	is.True(st.Running)

	on := true
	dir := engine.DirectionClientToServer
	v, err := c.SetIntercept(ctx, &on, &dir, nil)
	is.NoErr(err)
	is.True(v.Enabled)
	is.Equal(v.Direction, engine.DirectionClientToServer)

	conn, err := net.Dial("tcp", r.Addr().String())
	is.NoErr(err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Write([]byte("hello"))
	is.NoErr(err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		v, err = c.Intercept(ctx)
		is.NoErr(err)
		if v.Pending != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no intercept became pending")
		}
		time.Sleep(10 * time.Millisecond)
	}
	is.Equal(v.Pending.Text, "hello")

	v, err = c.Edit(ctx, "HELLO")
	is.NoErr(err)
	is.True(v.Pending.Modified)

	v, err = c.Forward(ctx)
	is.NoErr(err)
	is.Equal(v.Pending, nil)

	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	is.NoErr(err)
	is.Equal(string(buf), "HELLO")

	traffic, err := c.Traffic(ctx)
	is.NoErr(err)
	var modified bool
	for _, e := range traffic {
		if e.Modified && e.Data == "HELLO" && e.OriginalData == "hello" {
			modified = true
		}
	}
	is.True(modified)

	is.NoErr(c.Stop(ctx))
	st, err = c.Status(ctx)
	is.NoErr(err)
	is.True(!st.Running)
}

func TestClient_APIError(t *testing.T) {
	is := is.New(t)
	ctx := ctxT(t)
	c, _ := startDaemon(t)

	_, err := c.Forward(ctx)
	var apiErr *client.APIError
	is.True(errors.As(err, &apiErr))
	is.Equal(apiErr.StatusCode, http.StatusConflict)
	is.True(strings.Contains(apiErr.Message, "no intercept"))

	err = c.Stop(ctx)
	is.True(errors.As(err, &apiErr))
	is.Equal(apiErr.StatusCode, http.StatusConflict)

	_, err = c.SetConfig(ctx, server.ConfigRequest{Port: "not-a-port"})
	is.True(errors.As(err, &apiErr))
	is.Equal(apiErr.StatusCode, http.StatusBadRequest)
}

func TestClient_ConfigAndLogs(t *testing.T) {
	is := is.New(t)
	ctx := ctxT(t)
	c, _ := startDaemon(t)

	cfg, err := c.SetConfig(ctx, server.ConfigRequest{BindAddress: "0.0.0.0", Port: "9000", Verbose: true})
	is.NoErr(err)
	is.Equal(cfg.Addr(), "0.0.0.0:9000")

	cfg, err = c.Config(ctx)
	is.NoErr(err)
	is.Equal(cfg.Port, 9000)
	is.True(cfg.Verbose)

	msgs, err := c.StatusMessages(ctx)
	is.NoErr(err)
	var applied bool
	for _, m := range msgs {
		if strings.Contains(m, "[CONFIG] Configuration applied - Bind: 0.0.0.0, Port: 9000") {
			applied = true
		}
	}
	is.True(applied)

	var buf bytes.Buffer
	is.NoErr(c.ExportCSV(ctx, "connections", &buf))
	is.True(strings.HasPrefix(buf.String(), "Timestamp,"))

	files, err := c.ExportToDir(ctx)
	is.NoErr(err)
	is.Equal(len(files), 2)

	is.NoErr(c.ClearConnections(ctx))
	is.NoErr(c.ClearTraffic(ctx))
	conns, err := c.Connections(ctx)
	is.NoErr(err)
	is.Equal(len(conns), 0)
}

func TestClient_Follow(t *testing.T) {
	is := is.New(t)
	ctx := ctxT(t)
	c, _ := startDaemon(t)

	is.NoErr(c.Start(ctx))

	followCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var started bool
	err := c.Follow(followCtx, 0, false, func(ev server.FeedEvent) error {
		is.True(ev.Type != server.FeedStatistics)
		if ev.Type == server.FeedProxyStarted {
			started = true
			cancel()
		}
		return nil
	})
	is.True(errors.Is(err, context.Canceled))
	is.True(started)
}

func TestClient_FollowStopsOnCallbackError(t *testing.T) {
	is := is.New(t)
	ctx := ctxT(t)
	c, _ := startDaemon(t)

	is.NoErr(c.Start(ctx))

	errStop := errors.New("stop")
	err := c.Follow(ctx, 0, false, func(server.FeedEvent) error { return errStop })
	is.Equal(err, errStop)
}
