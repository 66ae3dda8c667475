package relay

import (
	"context"

	"github.com/matgreaves/intercept/engine"
)

// verdict is the controller's answer for a held chunk.
type verdict struct {
	disposition engine.Disposition
	data        []byte
}

// hold reports chunk as an intercept request and blocks until the controller
// responds or the relay stops. It returns the bytes to write and whether to
// write them at all. Shutdown releases the chunk unchanged.
func (r *Relay) hold(ctx context.Context, c *conn, clientToServer bool, srcIP, dstIP string, dstPort int, chunk []byte) ([]byte, bool) {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()

	ch := make(chan verdict, 1)
	r.waitMu.Lock()
	r.waiters[c.id] = ch
	r.waitMu.Unlock()

	defer func() {
		r.waitMu.Lock()
		if r.waiters[c.id] == ch {
			delete(r.waiters, c.id)
		}
		r.waitMu.Unlock()
	}()

	r.notify.InterceptRequest(c.id, directionLabel(clientToServer), srcIP, dstIP, dstPort, chunk)

	select {
	case v := <-ch:
		switch v.disposition {
		case engine.Drop:
			r.trafficLog().Info("intercept dropped", "conn", c.id)
			return nil, false
		case engine.Modify:
			r.trafficLog().Info("intercept modified", "conn", c.id, "bytes", len(v.data))
			return v.data, true
		default:
			return chunk, true
		}
	case <-ctx.Done():
		return chunk, true
	}
}

// RespondToIntercept releases the chunk held for connID. It never blocks.
func (r *Relay) RespondToIntercept(connID int, d engine.Disposition, data []byte) error {
	r.waitMu.Lock()
	ch, ok := r.waiters[connID]
	if ok {
		delete(r.waiters, connID)
	}
	r.waitMu.Unlock()
	if !ok {
		return engine.ErrUnknownConnection
	}

	v := verdict{disposition: d}
	if d == engine.Modify {
		v.data = append([]byte(nil), data...)
	}
	ch <- v // buffered, and removed from waiters so only one send happens
	return nil
}

// Held returns the connection ids currently waiting for a disposition.
func (r *Relay) Held() []int {
	r.waitMu.Lock()
	defer r.waitMu.Unlock()
	ids := make([]int, 0, len(r.waiters))
	for id := range r.waiters {
		ids = append(ids, id)
	}
	return ids
}
