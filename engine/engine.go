// Package engine defines the boundary between the interception controller and
// the proxying engine that carries the traffic. The controller drives an
// Engine; the engine reports back through a Notifier.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotLoaded is returned when an action needs an engine and none is attached.
	ErrNotLoaded = errors.New("engine not loaded")

	// ErrNotRunning is returned by Stop (and disposition calls) when the engine is stopped.
	ErrNotRunning = errors.New("engine not running")

	// ErrAlreadyRunning is returned by Start when the engine is already accepting connections.
	ErrAlreadyRunning = errors.New("engine already running")

	// ErrConfigRejected is returned by SetConfig when the engine refuses a configuration.
	ErrConfigRejected = errors.New("engine rejected configuration")

	// ErrUnknownConnection is returned by RespondToIntercept when no intercept
	// is held for the given connection.
	ErrUnknownConnection = errors.New("no intercept held for connection")
)

// Default configuration values.
const (
	DefaultPort        = 4444
	DefaultBindAddress = "127.0.0.1"
	DefaultLogFile     = "tls_proxy.log"
)

// Config is the engine's listener configuration.
type Config struct {
	BindAddress string `json:"bind_address" yaml:"bind_address"`
	Port        int    `json:"port" yaml:"port"`
	LogFile     string `json:"log_file" yaml:"log_file"`
	Verbose     bool   `json:"verbose" yaml:"verbose"`
}

// Addr returns BindAddress:Port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Stats is the engine's aggregate counter snapshot. Engines that can tell the
// directions apart fill BytesSent and BytesReceived; otherwise only
// BytesTransferred is set.
type Stats struct {
	Connections      int64 `json:"connections"`
	BytesTransferred int64 `json:"bytes_transferred"`
	BytesSent        int64 `json:"bytes_sent,omitempty"`
	BytesReceived    int64 `json:"bytes_received,omitempty"`
}

// Direction filters which traffic direction(s) pause for inspection.
type Direction int

const (
	DirectionNone           Direction = 0
	DirectionClientToServer Direction = 1
	DirectionServerToClient Direction = 2
	DirectionBoth           Direction = 3
)

func (d Direction) String() string {
	switch d {
	case DirectionNone:
		return "none"
	case DirectionClientToServer:
		return "client-to-server"
	case DirectionServerToClient:
		return "server-to-client"
	case DirectionBoth:
		return "both"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Matches reports whether traffic flowing clientToServer (or the reverse)
// is selected by the filter.
func (d Direction) Matches(clientToServer bool) bool {
	if clientToServer {
		return d == DirectionClientToServer || d == DirectionBoth
	}
	return d == DirectionServerToClient || d == DirectionBoth
}

// ParseDirection accepts the names produced by String as well as the numeric
// values 0 to 3 and the short forms "c2s"/"s2c".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0":
		return DirectionNone, nil
	case "client-to-server", "c2s", "1":
		return DirectionClientToServer, nil
	case "server-to-client", "s2c", "2":
		return DirectionServerToClient, nil
	case "both", "3":
		return DirectionBoth, nil
	}
	return DirectionNone, fmt.Errorf("unknown intercept direction %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	if d < DirectionNone || d > DirectionBoth {
		return nil, fmt.Errorf("unknown intercept direction %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// InterceptConfig is the operator-controlled interception setting pushed to
// the engine.
type InterceptConfig struct {
	Enabled   bool      `json:"enabled"`
	Direction Direction `json:"direction"`
}

// Disposition is the operator's decision for an intercepted message. The
// numeric values are part of the engine protocol.
type Disposition int

const (
	Forward Disposition = 0
	Drop    Disposition = 1
	Modify  Disposition = 2
)

func (d Disposition) String() string {
	switch d {
	case Forward:
		return "forward"
	case Drop:
		return "drop"
	case Modify:
		return "modify"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}

// Engine is the control surface of a proxying engine.
type Engine interface {
	Start() error
	Stop() error
	Running() bool

	SetConfig(Config) error
	Config() (Config, error)
	Stats() (Stats, error)

	// SystemInterfaces returns the bindable addresses, separated by ',' or ';'.
	SystemInterfaces() (string, error)

	SetInterceptEnabled(enabled bool) error
	SetInterceptDirection(d Direction) error

	// RespondToIntercept releases the message held for connID. data is only
	// used with Modify. The call does not wait for the message to be written.
	RespondToIntercept(connID int, d Disposition, data []byte) error
}

// Notifier receives the engine's asynchronous notifications. Implementations
// must return quickly; engines call these from their I/O goroutines.
type Notifier interface {
	Status(message string)
	ConnectionOpened(clientIP string, clientPort int, targetHost string, targetPort int, connID int)
	ConnectionClosed(connID int, reason string)
	DataRecord(timestamp, srcIP, dstIP string, dstPort int, messageType, data string)
	Statistics(totalConnections, activeConnections int, totalBytes int64)

	// InterceptRequest reports a held message. The engine keeps the
	// connection paused until RespondToIntercept is called for connID.
	// data is only valid for the duration of the call.
	InterceptRequest(connID int, direction, srcIP, dstIP string, dstPort int, data []byte)
}

// Message types reported in DataRecord.
const (
	MessageText   = "Text"
	MessageBinary = "Binary"
	MessageEmpty  = "Empty"
)
