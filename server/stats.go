package server

import (
	"time"
)

func (c *Controller) connectionOpened(e ConnectionEvent) {
	e.Seq = c.connections.Append(e)
	c.open[e.ConnectionID] = e
	c.stats.ActiveConnections++
	c.stats.TotalConnections++
	c.metrics.setActive(c.stats.ActiveConnections)
	c.publish(FeedEvent{Type: FeedConnectionOpened, Connection: &e})
}

// connectionClosed records a Disconnect entry. The reason goes in
// DestinationIP, which is where exported logs carry it.
func (c *Controller) connectionClosed(at time.Time, connID int, reason string) {
	e := ConnectionEvent{
		Timestamp:     at,
		Kind:          Disconnect,
		ConnectionID:  connID,
		DestinationIP: reason,
		Reason:        reason,
	}
	if opened, ok := c.open[connID]; ok {
		e.SourceIP = opened.SourceIP
		e.SourcePort = opened.SourcePort
		delete(c.open, connID)
	}
	e.Seq = c.connections.Append(e)
	if c.stats.ActiveConnections > 0 {
		c.stats.ActiveConnections--
	}
	c.metrics.setActive(c.stats.ActiveConnections)
	c.publish(FeedEvent{Type: FeedConnectionClosed, Connection: &e})
}

func (c *Controller) appendTraffic(e LogEvent) {
	e.Seq = c.traffic.Append(e)
	if c.opts.Mirror != nil {
		c.opts.Mirror.Mirror(e)
	}
}

// pushedStats applies an engine statistics notification. The engine only
// reports an aggregate byte count, which is split evenly between the two
// directions unless polling has already supplied per-direction counts.
func (c *Controller) pushedStats(total, active int, totalBytes int64) {
	c.stats.TotalConnections = int64(total)
	c.stats.ActiveConnections = int64(max(active, 0))
	if !c.directional {
		c.stats.BytesSent = totalBytes / 2
		c.stats.BytesReceived = totalBytes / 2
	}
	c.metrics.setActive(c.stats.ActiveConnections)
	s := c.stats
	c.publish(FeedEvent{Type: FeedStatistics, Stats: &s})
}

// pollStats refreshes the counters from a running engine. The active count
// is left alone; it is owned by connection notifications.
func (c *Controller) pollStats() {
	if c.eng == nil || !c.eng.Running() {
		return
	}
	s, err := c.eng.Stats()
	if err != nil {
		c.log.Debug("poll engine stats", "err", err)
		return
	}
	c.stats.TotalConnections = s.Connections
	if s.BytesSent != 0 || s.BytesReceived != 0 {
		c.directional = true
		c.stats.BytesSent = s.BytesSent
		c.stats.BytesReceived = s.BytesReceived
	} else {
		c.stats.BytesSent = s.BytesTransferred / 2
		c.stats.BytesReceived = s.BytesTransferred / 2
	}
}
