package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/matgreaves/run"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health serves the standard gRPC health protocol. The overall status is
// SERVING while the engine is running and NOT_SERVING otherwise.
type Health struct {
	ctrl *Controller
	addr string
	log  *slog.Logger
	hs   *health.Server
}

// NewHealth creates a health service for ctrl listening on addr.
func NewHealth(ctrl *Controller, addr string, log *slog.Logger) *Health {
	if log == nil {
		log = slog.Default()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &Health{ctrl: ctrl, addr: addr, log: log, hs: hs}
}

// Runner serves until ctx is cancelled.
func (h *Health) Runner() run.Runner {
	return run.Func(func(ctx context.Context) error {
		ln, err := net.Listen("tcp", h.addr)
		if err != nil {
			return fmt.Errorf("grpc health listen %s: %w", h.addr, err)
		}
		return h.Serve(ctx, ln)
	})
}

// Serve serves on ln until ctx is cancelled.
func (h *Health) Serve(ctx context.Context, ln net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h.hs)

	go h.track(ctx)
	go func() {
		<-ctx.Done()
		h.hs.Shutdown()
		srv.GracefulStop()
	}()

	h.log.Info("grpc health listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// track follows the controller feed and flips the serving status as the
// engine starts and stops.
func (h *Health) track(ctx context.Context) {
	feed := h.ctrl.Feed()
	from := feed.Seq()
	if v, err := h.ctrl.Snapshot(ctx); err == nil {
		h.set(v.Running)
	}
	for e := range feed.Subscribe(ctx, from) {
		switch e.Type {
		case FeedProxyStarted:
			h.set(true)
		case FeedProxyStopped:
			h.set(false)
		}
	}
}

func (h *Health) set(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus("", st)
}
