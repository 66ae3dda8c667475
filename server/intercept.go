package server

import (
	"context"
	"fmt"
	"time"

	"github.com/matgreaves/intercept/codec"
	"github.com/matgreaves/intercept/engine"
)

// interceptRequest makes p the pending intercept. A request that is still
// pending is released unmodified first, so the slot always holds the
// latest request.
func (c *Controller) interceptRequest(p *PendingIntercept) {
	if prev := c.pending; prev != nil {
		c.status(fmt.Sprintf("[INTERCEPT] Connection %d superseded by connection %d, forwarding unchanged", prev.ConnectionID, p.ConnectionID))
		c.resolve(engine.Forward, nil)
	}

	p.Waiting = true
	p.Modified = false
	p.Edited = ""
	c.pending = p

	c.status(fmt.Sprintf("[INTERCEPT] Intercepted data from connection %d", p.ConnectionID))
	c.warnUnrenderable()
	c.publish(FeedEvent{Type: FeedInterceptPending, Intercept: c.pendingView()})
}

// warnUnrenderable reports a payload that cannot be shown in the active
// view mode. The view falls back to hex.
func (c *Controller) warnUnrenderable() {
	if c.pending == nil {
		return
	}
	if _, err := codec.Render(c.pending.Data, c.view); err != nil {
		c.status(fmt.Sprintf("[WARNING] Intercepted data is not valid text, showing hex: %v", err))
	}
}

// pendingView renders the pending intercept, or returns nil when idle.
func (c *Controller) pendingView() *PendingView {
	p := c.pending
	if p == nil {
		return nil
	}
	text := p.Edited
	if !p.Modified {
		text, _ = codec.Render(p.Data, c.presentation(p))
	}
	return &PendingView{
		ConnectionID:    p.ConnectionID,
		Direction:       p.Direction,
		SourceIP:        p.SourceIP,
		DestinationIP:   p.DestinationIP,
		DestinationPort: p.DestinationPort,
		Size:            len(p.Data),
		Text:            text,
		Modified:        p.Modified,
		ReceivedAt:      p.ReceivedAt,
	}
}

// presentation returns the mode p is shown and edited in. A payload that is
// not valid text is shown as hex even in text view.
func (c *Controller) presentation(p *PendingIntercept) codec.ViewMode {
	if _, err := codec.Render(p.Data, c.view); err != nil {
		return codec.Hex
	}
	return c.view
}

func (c *Controller) interceptView() InterceptView {
	return InterceptView{
		Enabled:   c.intercept.Enabled,
		Direction: c.intercept.Direction,
		Mode:      c.view,
		Pending:   c.pendingView(),
	}
}

// resolve sends d for the pending intercept and returns to idle. The slot
// is cleared even when the engine rejects the disposition.
func (c *Controller) resolve(d engine.Disposition, data []byte) error {
	p := c.pending
	c.pending = nil
	p.Waiting = false

	var err error
	if c.eng == nil {
		err = engine.ErrNotLoaded
	} else {
		err = c.eng.RespondToIntercept(p.ConnectionID, d, data)
	}
	c.metrics.incDisposition(d.String())

	view := &PendingView{
		ConnectionID:    p.ConnectionID,
		Direction:       p.Direction,
		SourceIP:        p.SourceIP,
		DestinationIP:   p.DestinationIP,
		DestinationPort: p.DestinationPort,
		Size:            len(p.Data),
		Modified:        d == engine.Modify,
		ReceivedAt:      p.ReceivedAt,
	}
	c.publish(FeedEvent{Type: FeedInterceptResolved, Intercept: view, Disposition: d.String()})

	if err != nil {
		c.status(fmt.Sprintf("[ERROR] Failed to send %s for connection %d: %v", d, p.ConnectionID, err))
		return fmt.Errorf("respond to intercept: %w", err)
	}
	c.status("[INTERCEPT] Intercepted data " + dispositionLabel(d))
	return nil
}

func dispositionLabel(d engine.Disposition) string {
	switch d {
	case engine.Drop:
		return "dropped"
	case engine.Modify:
		return "forwarded with modifications"
	default:
		return "forwarded"
	}
}

// forward releases the pending intercept. An edited intercept is decoded in
// the mode it was presented in and sent as a modification, and a history entry
// records both versions.
func (c *Controller) forward() error {
	p := c.pending
	if p == nil {
		return ErrNoPendingIntercept
	}
	if !p.Modified {
		return c.resolve(engine.Forward, nil)
	}

	mode := c.presentation(p)
	data, err := codec.Parse(p.Edited, mode)
	if err != nil {
		c.status(fmt.Sprintf("[ERROR] Error parsing modified data: %v", err))
		return fmt.Errorf("%w: %w", ErrInvalidEdit, err)
	}

	entry := LogEvent{
		Timestamp:     time.Now().Format(time.TimeOnly),
		SourceIP:      p.SourceIP,
		DestinationIP: p.DestinationIP,
		Port:          p.DestinationPort,
		Type:          engine.MessageText,
		Data:          orEmpty(p.Edited),
		OriginalData:  orEmpty(codec.HistoryString(p.Data)),
		Modified:      true,
	}
	if mode == codec.Hex {
		entry.Type = engine.MessageBinary
	}

	if err := c.resolve(engine.Modify, data); err != nil {
		return err
	}
	c.appendTraffic(entry)
	return nil
}

func orEmpty(s string) string {
	if s == "" {
		return "[Empty]"
	}
	return s
}

func (c *Controller) drop() error {
	if c.pending == nil {
		return ErrNoPendingIntercept
	}
	return c.resolve(engine.Drop, nil)
}

func (c *Controller) edit(text string) error {
	if c.pending == nil {
		return ErrNoPendingIntercept
	}
	c.pending.Edited = text
	c.pending.Modified = true
	return nil
}

// setViewMode switches presentation. An in-progress edit is discarded.
func (c *Controller) setViewMode(m codec.ViewMode) {
	if m == c.view {
		return
	}
	c.view = m
	c.status("[INTERCEPT] View mode set to: " + m.String())
	if c.pending != nil {
		c.pending.Modified = false
		c.pending.Edited = ""
		c.warnUnrenderable()
	}
}

func (c *Controller) setInterceptEnabled(on bool) error {
	if c.eng == nil {
		return engine.ErrNotLoaded
	}
	if err := c.eng.SetInterceptEnabled(on); err != nil {
		c.status(fmt.Sprintf("[ERROR] Failed to update interception: %v", err))
		return fmt.Errorf("set intercept enabled: %w", err)
	}
	c.intercept.Enabled = on
	if on {
		c.status("[INTERCEPT] Interception enabled")
		return nil
	}
	c.status("[INTERCEPT] Interception disabled")
	if c.pending != nil {
		return c.resolve(engine.Forward, nil)
	}
	return nil
}

func (c *Controller) setInterceptDirection(d engine.Direction) error {
	if c.eng == nil {
		return engine.ErrNotLoaded
	}
	if err := c.eng.SetInterceptDirection(d); err != nil {
		c.status(fmt.Sprintf("[ERROR] Failed to update intercept direction: %v", err))
		return fmt.Errorf("set intercept direction: %w", err)
	}
	c.intercept.Direction = d
	c.status("[INTERCEPT] Intercept direction set to: " + d.String())
	return nil
}

// pushInterceptConfig sends the current settings to a newly attached engine.
func (c *Controller) pushInterceptConfig() {
	if err := c.eng.SetInterceptDirection(c.intercept.Direction); err != nil {
		c.status(fmt.Sprintf("[ERROR] Failed to set intercept direction: %v", err))
	}
	if err := c.eng.SetInterceptEnabled(c.intercept.Enabled); err != nil {
		c.status(fmt.Sprintf("[ERROR] Failed to set interception: %v", err))
	}
}

// expireIntercept auto-forwards a pending intercept older than the
// configured timeout.
func (c *Controller) expireIntercept() {
	timeout := c.opts.InterceptTimeout
	if timeout <= 0 || c.pending == nil || time.Since(c.pending.ReceivedAt) < timeout {
		return
	}
	c.status(fmt.Sprintf("[INTERCEPT] Connection %d waited longer than %s, forwarding unchanged", c.pending.ConnectionID, timeout))
	c.resolve(engine.Forward, nil)
}

// Intercept returns the current intercept settings and pending message.
func (c *Controller) Intercept(ctx context.Context) (InterceptView, error) {
	var v InterceptView
	err := c.do(ctx, func() error {
		v = c.interceptView()
		return nil
	})
	return v, err
}

// EditIntercept replaces the pending message's text.
func (c *Controller) EditIntercept(ctx context.Context, text string) error {
	return c.do(ctx, func() error { return c.edit(text) })
}

// ForwardIntercept releases the pending message, modified if it was edited.
func (c *Controller) ForwardIntercept(ctx context.Context) error {
	return c.do(ctx, c.forward)
}

// DropIntercept discards the pending message.
func (c *Controller) DropIntercept(ctx context.Context) error {
	return c.do(ctx, c.drop)
}

// SetInterceptEnabled turns interception on or off. Turning it off
// forwards a pending message.
func (c *Controller) SetInterceptEnabled(ctx context.Context, on bool) error {
	return c.do(ctx, func() error { return c.setInterceptEnabled(on) })
}

// SetInterceptDirection selects which direction(s) are intercepted.
func (c *Controller) SetInterceptDirection(ctx context.Context, d engine.Direction) error {
	return c.do(ctx, func() error { return c.setInterceptDirection(d) })
}

// SetViewMode selects how intercepted data is rendered and parsed.
func (c *Controller) SetViewMode(ctx context.Context, m codec.ViewMode) error {
	return c.do(ctx, func() error {
		c.setViewMode(m)
		return nil
	})
}
