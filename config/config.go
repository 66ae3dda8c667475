// Package config loads the interceptd configuration file.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/matgreaves/intercept/codec"
	"github.com/matgreaves/intercept/engine"
	"gopkg.in/yaml.v3"
)

// DefaultListen is the operator API address.
const DefaultListen = "127.0.0.1:7070"

type Engine struct {
	BindAddress    string `yaml:"bind_address"`
	Port           int    `yaml:"port"`
	LogFile        string `yaml:"log_file"`
	Verbose        bool   `yaml:"verbose"`
	Target         string `yaml:"target"`
	UpstreamSOCKS5 string `yaml:"upstream_socks5,omitempty"`
}

type Intercept struct {
	Enabled   bool          `yaml:"enabled"`
	Direction string        `yaml:"direction"`
	View      string        `yaml:"view"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type S3 struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
}

type Config struct {
	Listen        string        `yaml:"listen"`
	GRPCHealth    string        `yaml:"grpc_health,omitempty"`
	LogLevel      string        `yaml:"log_level"`
	Engine        Engine        `yaml:"engine"`
	Intercept     Intercept     `yaml:"intercept"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	LogCapacity   int           `yaml:"log_capacity"`
	ExportDir     string        `yaml:"export_dir"`
	Kafka         Kafka         `yaml:"kafka"`
	S3            S3            `yaml:"s3"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:   DefaultListen,
		LogLevel: "info",
		Engine: Engine{
			BindAddress: engine.DefaultBindAddress,
			Port:        engine.DefaultPort,
			LogFile:     engine.DefaultLogFile,
		},
		Intercept: Intercept{
			Direction: engine.DirectionClientToServer.String(),
			View:      codec.Text.String(),
		},
		StatsInterval: 100 * time.Millisecond,
		LogCapacity:   1000,
		ExportDir:     ".",
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		add("listen: %v", err)
	}
	if c.GRPCHealth != "" {
		if _, _, err := net.SplitHostPort(c.GRPCHealth); err != nil {
			add("grpc_health: %v", err)
		}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		add("log_level: %v", err)
	}
	if net.ParseIP(c.Engine.BindAddress) == nil {
		add("engine.bind_address: %q is not an IP address", c.Engine.BindAddress)
	}
	if c.Engine.Port < 1 || c.Engine.Port > 65535 {
		add("engine.port: %d is outside 1-65535", c.Engine.Port)
	}
	if c.Engine.Target == "" {
		add("engine.target: required")
	} else if _, _, err := net.SplitHostPort(c.Engine.Target); err != nil {
		add("engine.target: %v", err)
	}
	if _, err := engine.ParseDirection(c.Intercept.Direction); err != nil {
		add("intercept.direction: %v", err)
	}
	if _, err := codec.ParseViewMode(c.Intercept.View); err != nil {
		add("intercept.view: %v", err)
	}
	if c.Intercept.Timeout < 0 {
		add("intercept.timeout: must not be negative")
	}
	if c.StatsInterval <= 0 {
		add("stats_interval: must be positive")
	}
	if c.LogCapacity <= 0 {
		add("log_capacity: must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		add("kafka.topic: required when brokers are set")
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		add("s3.region: required when bucket is set")
	}
	return result.ErrorOrNil()
}

// EngineConfig returns the listener configuration for the engine.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		BindAddress: c.Engine.BindAddress,
		Port:        c.Engine.Port,
		LogFile:     c.Engine.LogFile,
		Verbose:     c.Engine.Verbose,
	}
}

// InterceptConfig returns the initial intercept settings. Call Validate
// first; unparseable values fall back to their zero value.
func (c Config) InterceptConfig() (engine.InterceptConfig, codec.ViewMode) {
	d, _ := engine.ParseDirection(c.Intercept.Direction)
	v, _ := codec.ParseViewMode(c.Intercept.View)
	return engine.InterceptConfig{Enabled: c.Intercept.Enabled, Direction: d}, v
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
