package server

import (
	"time"

	"github.com/matgreaves/intercept/codec"
	"github.com/matgreaves/intercept/engine"
)

// ConnectionKind distinguishes connection log entries.
type ConnectionKind string

const (
	Connect    ConnectionKind = "Connect"
	Disconnect ConnectionKind = "Disconnect"
)

// ConnectionEvent is a connection log entry. For Disconnect entries the
// reason is carried in DestinationIP as well as Reason, matching the layout
// of exported connection logs.
type ConnectionEvent struct {
	Seq             uint64         `json:"seq"`
	Timestamp       time.Time      `json:"timestamp"`
	Kind            ConnectionKind `json:"event"`
	ConnectionID    int            `json:"connection_id"`
	SourceIP        string         `json:"source_ip"`
	SourcePort      int            `json:"source_port"`
	DestinationIP   string         `json:"destination_ip"`
	DestinationPort int            `json:"destination_port"`
	Reason          string         `json:"reason,omitempty"`
}

// LogEvent is a traffic history entry. Engine-reported entries carry the
// engine's rendering of the payload in both Data and OriginalData; entries
// synthesized by a modified forward carry the edit in Data.
type LogEvent struct {
	Seq           uint64 `json:"seq"`
	Timestamp     string `json:"timestamp"`
	SourceIP      string `json:"source_ip"`
	DestinationIP string `json:"destination_ip"`
	Port          int    `json:"port"`
	Type          string `json:"type"`
	Data          string `json:"data"`
	OriginalData  string `json:"original_data,omitempty"`
	Modified      bool   `json:"modified"`
}

// Statistics are the aggregate counters shown to the operator.
type Statistics struct {
	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	BytesSent         int64 `json:"bytes_sent"`
	BytesReceived     int64 `json:"bytes_received"`
}

// PendingIntercept is the message currently held for an operator decision.
type PendingIntercept struct {
	ConnectionID    int
	Direction       string
	SourceIP        string
	DestinationIP   string
	DestinationPort int
	Data            []byte
	Waiting         bool
	Modified        bool
	Edited          string
	ReceivedAt      time.Time
}

// InterceptView is the operator-facing snapshot of the intercept state.
type InterceptView struct {
	Enabled   bool             `json:"enabled"`
	Direction engine.Direction `json:"direction"`
	Mode      codec.ViewMode   `json:"view"`
	Pending   *PendingView     `json:"pending,omitempty"`
}

// PendingView describes the held message rendered in the active view mode.
// Text is the edited text once the operator has modified it.
type PendingView struct {
	ConnectionID    int       `json:"connection_id"`
	Direction       string    `json:"direction"`
	SourceIP        string    `json:"source_ip"`
	DestinationIP   string    `json:"destination_ip"`
	DestinationPort int       `json:"destination_port"`
	Size            int       `json:"size"`
	Text            string    `json:"text"`
	Modified        bool      `json:"modified"`
	ReceivedAt      time.Time `json:"received_at"`
}

// FeedType identifies entries in the status feed.
type FeedType string

const (
	FeedStatus            FeedType = "status"
	FeedConnectionOpened  FeedType = "connection.opened"
	FeedConnectionClosed  FeedType = "connection.closed"
	FeedStatistics        FeedType = "statistics"
	FeedInterceptPending  FeedType = "intercept.pending"
	FeedInterceptResolved FeedType = "intercept.resolved"
	FeedProxyStarted      FeedType = "proxy.started"
	FeedProxyStopped      FeedType = "proxy.stopped"
)

// FeedEvent is an entry in the status feed streamed to operators.
type FeedEvent struct {
	Seq         uint64           `json:"seq"`
	Type        FeedType         `json:"type"`
	Timestamp   time.Time        `json:"timestamp"`
	Message     string           `json:"message,omitempty"`
	Connection  *ConnectionEvent `json:"connection,omitempty"`
	Stats       *Statistics      `json:"stats,omitempty"`
	Intercept   *PendingView     `json:"intercept,omitempty"`
	Disposition string           `json:"disposition,omitempty"`
}

func stampConnection(e *ConnectionEvent, seq uint64) { e.Seq = seq }
func stampTraffic(e *LogEvent, seq uint64)           { e.Seq = seq }
func stampFeed(e *FeedEvent, seq uint64) {
	e.Seq = seq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
}
