package server

import (
	"strings"
	"time"

	"github.com/matgreaves/intercept/engine"
)

var _ engine.Notifier = (*Controller)(nil)

// The engine.Notifier methods below run on engine goroutines. Each one only
// hands its arguments to the dispatch loop.

// Status implements engine.Notifier.
func (c *Controller) Status(message string) {
	c.enqueue("status", func() {
		c.status(clean(message, ""))
	})
}

// ConnectionOpened implements engine.Notifier.
func (c *Controller) ConnectionOpened(clientIP string, clientPort int, targetHost string, targetPort int, connID int) {
	now := time.Now()
	c.enqueue("connection_opened", func() {
		c.connectionOpened(ConnectionEvent{
			Timestamp:       now,
			Kind:            Connect,
			ConnectionID:    connID,
			SourceIP:        clean(clientIP, "unknown"),
			SourcePort:      clientPort,
			DestinationIP:   clean(targetHost, "unknown"),
			DestinationPort: targetPort,
		})
	})
}

// ConnectionClosed implements engine.Notifier.
func (c *Controller) ConnectionClosed(connID int, reason string) {
	now := time.Now()
	c.enqueue("connection_closed", func() {
		c.connectionClosed(now, connID, clean(reason, ""))
	})
}

// DataRecord implements engine.Notifier.
func (c *Controller) DataRecord(timestamp, srcIP, dstIP string, dstPort int, messageType, data string) {
	now := time.Now()
	c.enqueue("data_record", func() {
		data := clean(data, "")
		c.appendTraffic(LogEvent{
			Timestamp:     clean(timestamp, now.Format(time.TimeOnly)),
			SourceIP:      clean(srcIP, "unknown"),
			DestinationIP: clean(dstIP, "unknown"),
			Port:          dstPort,
			Type:          clean(messageType, "Unknown"),
			Data:          data,
			OriginalData:  data,
		})
	})
}

// Statistics implements engine.Notifier.
func (c *Controller) Statistics(totalConnections, activeConnections int, totalBytes int64) {
	c.enqueue("statistics", func() {
		c.pushedStats(totalConnections, activeConnections, totalBytes)
	})
}

// InterceptRequest implements engine.Notifier. data is copied before this
// method returns.
func (c *Controller) InterceptRequest(connID int, direction, srcIP, dstIP string, dstPort int, data []byte) {
	p := &PendingIntercept{
		ConnectionID:    connID,
		Direction:       direction,
		SourceIP:        srcIP,
		DestinationIP:   dstIP,
		DestinationPort: dstPort,
		Data:            append([]byte(nil), data...),
		ReceivedAt:      time.Now(),
	}
	c.enqueue("intercept_request", func() {
		p.Direction = clean(p.Direction, "unknown")
		p.SourceIP = clean(p.SourceIP, "unknown")
		p.DestinationIP = clean(p.DestinationIP, "unknown")
		c.interceptRequest(p)
	})
}

// enqueue hands fn to the dispatch loop. A notification that cannot be
// queued is logged and dropped.
func (c *Controller) enqueue(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.incDropped()
			c.log.Error("dropping engine notification", "kind", kind, "panic", r)
		}
	}()

	c.metrics.incIngress(kind)
	if err := c.q.push(fn); err != nil {
		c.metrics.incDropped()
		c.log.Warn("dropping engine notification", "kind", kind, "err", err)
		return
	}
	c.metrics.setQueueDepth(c.q.len())
}

// clean replaces invalid UTF-8 and substitutes def for an empty string.
func clean(s, def string) string {
	s = strings.ToValidUTF8(s, "�")
	if s == "" {
		return def
	}
	return s
}
