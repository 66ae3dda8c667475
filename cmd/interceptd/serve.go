package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/hashicorp/go-multierror"
	"github.com/lmittmann/tint"
	"github.com/matgreaves/intercept/config"
	"github.com/matgreaves/intercept/engine/relay"
	"github.com/matgreaves/intercept/server"
	"github.com/matgreaves/intercept/sink"
	"github.com/matgreaves/run"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

type serveFlags struct {
	config     string
	listen     string
	target     string
	bind       string
	port       string
	socks5     string
	grpcHealth string
	logLevel   string
	intercept  bool
	direction  string
}

func init() {
	rootCmd.AddCommand(newServeCmd(&serveFlags{}))
}

func newServeCmd(f *serveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the interception daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "YAML configuration file")
	fl.StringVar(&f.listen, "listen", "", "operator API listen address")
	fl.StringVar(&f.target, "target", "", "upstream host:port to relay to")
	fl.StringVar(&f.bind, "bind", "", "proxy bind address")
	fl.StringVar(&f.port, "port", "", "proxy listen port")
	fl.StringVar(&f.socks5, "socks5", "", "dial upstream through this SOCKS5 proxy")
	fl.StringVar(&f.grpcHealth, "grpc-health", "", "serve grpc.health.v1 on this address")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fl.BoolVar(&f.intercept, "intercept", false, "start with interception enabled")
	fl.StringVar(&f.direction, "direction", "", "intercept direction")
	return cmd
}

// load reads the config file and applies any flags that were set.
func (f *serveFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return cfg, err
	}
	fl := cmd.Flags()
	if fl.Changed("listen") {
		cfg.Listen = f.listen
	}
	if fl.Changed("target") {
		cfg.Engine.Target = f.target
	}
	if fl.Changed("bind") {
		cfg.Engine.BindAddress = f.bind
	}
	if fl.Changed("port") {
		port, err := nat.ParsePort(f.port)
		if err != nil {
			return cfg, fmt.Errorf("--port: %w", err)
		}
		cfg.Engine.Port = port
	}
	if fl.Changed("socks5") {
		cfg.Engine.UpstreamSOCKS5 = f.socks5
	}
	if fl.Changed("grpc-health") {
		cfg.GRPCHealth = f.grpcHealth
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fl.Changed("intercept") {
		cfg.Intercept.Enabled = f.intercept
	}
	if fl.Changed("direction") {
		cfg.Intercept.Direction = f.direction
	}
	return cfg, cfg.Validate()
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}

func serve(cfg config.Config) (err error) {
	level, _ := config.ParseLevel(cfg.LogLevel)
	log := newLogger(level)
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	intercept, view := cfg.InterceptConfig()
	opts := server.Options{
		Logger:           log,
		Metrics:          server.NewMetrics(reg),
		LogCapacity:      cfg.LogCapacity,
		StatsInterval:    cfg.StatsInterval,
		InterceptTimeout: cfg.Intercept.Timeout,
		Intercept:        intercept,
		View:             view,
	}

	var kafka *sink.Kafka
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err = sink.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			return err
		}
		opts.Mirror = kafka
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if cerr := kafka.Close(ctx); cerr != nil {
				err = multierror.Append(err, cerr).ErrorOrNil()
			}
		}()
	}
	if cfg.S3.Bucket != "" {
		opts.Uploader = sink.NewS3(sink.S3Options{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	}

	ctrl := server.New(opts)
	eng := relay.New(ctrl, relay.Options{
		Target:         cfg.Engine.Target,
		UpstreamSOCKS5: cfg.Engine.UpstreamSOCKS5,
		Logger:         log,
	})
	if err := eng.SetConfig(cfg.EngineConfig()); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := ctrl.Attach(eng); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	httpSrv := &http.Server{Handler: server.NewServer(ctrl, cfg.ExportDir, reg)}

	group := run.Group{
		"controller": ctrl.Runner(),
		"api": run.Func(func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				httpSrv.Shutdown(shutdownCtx)
			}()
			log.Info("operator API listening", "addr", ln.Addr().String())
			if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}),
	}
	if cfg.GRPCHealth != "" {
		group["health"] = server.NewHealth(ctrl, cfg.GRPCHealth, log).Runner()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = group.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("interceptd stopped")
	return err
}
