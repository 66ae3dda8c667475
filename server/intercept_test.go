package server_test

import (
	"errors"
	"testing"
	"time"

	"github.com/matgreaves/intercept/codec"
	"github.com/matgreaves/intercept/engine"
	"github.com/matgreaves/intercept/server"
	"github.com/matryer/is"
)

func pendingView(t *testing.T, c *server.Controller) *server.PendingView {
	t.Helper()
	v, err := c.Intercept(ctxT(t))
	if err != nil {
		t.Fatalf("intercept view: %v", err)
	}
	return v.Pending
}

func TestIntercept_EditAndForward(t *testing.T) {
	is := is.New(t)
	eng := newFakeEngine()
	c := startController(t, eng, server.Options{})
	ctx := ctxT(t)

	c.InterceptRequest(7, "Client->Server", "10.0.0.5", "93.184.216.34", 443, []byte{0x68, 0x69})
	p := pendingView(t, c)
	is.True(p != nil)
	is.Equal(p.Text, "hi")
	is.Equal(p.ConnectionID, 7)
	is.Equal(p.Size, 2)

	is.NoErr(c.EditIntercept(ctx, "HI"))
	is.NoErr(c.ForwardIntercept(ctx))

	is.Equal(eng.Responses(), []response{{7, engine.Modify, []byte{0x48, 0x49}}})
	is.Equal(pendingView(t, c), nil)

	traffic := c.Traffic()
	is.Equal(len(traffic), 1)
	h := traffic[0]
	is.True(h.Modified)
	is.Equal(h.OriginalData, "hi")
	is.Equal(h.Data, "HI")
	is.Equal(h.Type, engine.MessageText)
	is.Equal(h.Port, 443)
	is.True(hasStatus(c, "forwarded with modifications"))
}

func TestIntercept_DropHexWithoutEdit(t *testing.T) {
	is := is.New(t)
	eng := newFakeEngine()
	c := startController(t, eng, server.Options{})
	ctx := ctxT(t)

	is.NoErr(c.SetViewMode(ctx, codec.Hex))
	c.InterceptRequest(3, "Server->Client", "1.1.1.1", "2.2.2.2", 80, []byte{0xde, 0xad})
	is.Equal(pendingView(t, c).Text, "DE AD")

	is.NoErr(c.DropIntercept(ctx))

	is.Equal(eng.Responses(), []response{{3, engine.Drop, nil}})
	is.Equal(len(c.Traffic()), 0)
	is.Equal(pendingView(t, c), nil)
	is.True(hasStatus(c, "Intercepted data dropped"))
}

func TestIntercept_ForwardWithoutEditAddsNoHistory(t *testing.T) {
	is := is.New(t)
	eng := newFakeEngine()
	c := startController(t, eng, server.Options{})

	c.InterceptRequest(1, "Client->Server", "1.1.1.1", "2.2.2.2", 80, []byte("GET / HTTP/1.1\r\n"))
	is.NoErr(c.ForwardIntercept(ctxT(t)))

	is.Equal(len(c.Traffic()), 0)
	is.Equal(eng.Responses(), []response{{1, engine.Forward, nil}})
}

func TestIntercept_LatestRequestWins(t *testing.T) {
	is := is.New(t)
	eng := newFakeEngine()
	c := startController(t, eng, server.Options{})

	c.InterceptRequest(1, "Client->Server", "1.1.1.1", "2.2.2.2", 80, []byte("one"))
	c.InterceptRequest(2, "Server->Client", "3.3.3.3", "4.4.4.4", 81, []byte("two"))
	c.InterceptRequest(3, "Client->Server", "5.5.5.5", "6.6.6.6", 82, []byte("three"))

	p := pendingView(t, c)
	is.Equal(p.ConnectionID, 3)
	is.Equal(p.SourceIP, "5.5.5.5")
	is.Equal(p.DestinationPort, 82)
	is.Equal(p.Text, "three")

	// Displaced requests were released unchanged.
	is.Equal(eng.Responses(), []response{
		{1, engine.Forward, nil},
		{2, engine.Forward, nil},
	})
}

func TestIntercept_PayloadIsCopied(t *testing.T) {
	is := is.New(t)
	c := startController(t, newFakeEngine(), server.Options{})

	buf := []byte("abc")
	c.InterceptRequest(1, "Client->Server", "1.1.1.1", "2.2.2.2", 80, buf)
	copy(buf, "xyz")

	is.Equal(pendingView(t, c).Text, "abc")
}

func TestIntercept_InvalidHexEditStaysPending(t *testing.T) {
	is := is.New(t)
	eng := newFakeEngine()
	c := startController(t, eng, server.Options{View: codec.Hex})
	ctx := ctxT(t)

	c.InterceptRequest(4, "Client->Server", "1.1.1.1", "2.2.2.2", 80, []byte{0x01, 0x02})
	is.NoErr(c.EditIntercept(ctx, "ABC"))

	err := c.ForwardIntercept(ctx)
	is.True(errors.Is(err, server.ErrInvalidEdit))
	is.True(errors.Is(err, codec.ErrOddLength))

	p := pendingView(t, c)
	is.True(p != nil)
	is.True(p.Modified)
	is.Equal(p.Text, "ABC")
	is.Equal(len(eng.Responses()), 0)
	is.True(hasStatus(c, "Error parsing modified data"))

	// A corrected edit goes through as binary.
	is.NoErr(c.EditIntercept(ctx, "0A-0B"))
	is.NoErr(c.ForwardIntercept(ctx))
	is.Equal(eng.Responses(), []response{{4, engine.Modify, []byte{0x0a, 0x0b}}})
	traffic := c.Traffic()
	is.Equal(traffic[0].Type, engine.MessageBinary)
	is.Equal(traffic[0].OriginalData, "01 02")
}

func TestIntercept_NothingPending(t *testing.T) {
	c := startController(t, newFakeEngine(), server.Options{})
	ctx := ctxT(t)

	for name, fn := range map[string]func() error{
		"forward": func() error { return c.ForwardIntercept(ctx) },
		"drop":    func() error { return c.DropIntercept(ctx) },
		"edit":    func() error { return c.EditIntercept(ctx, "x") },
	} {
		if err := fn(); !errors.Is(err, server.ErrNoPendingIntercept) {
			t.Errorf("%s: err = %v, want ErrNoPendingIntercept", name, err)
		}
	}
}

func TestIntercept_ViewModeChangeDiscardsEdit(t *testing.T) {
	is := is.New(t)
	eng := newFakeEngine()
	c := startController(t, eng, server.Options{})
	ctx := ctxT(t)

	c.InterceptRequest(5, "Client->Server", "1.1.1.1", "2.2.2.2", 80, []byte("hi"))
	is.NoErr(c.EditIntercept(ctx, "changed"))
	is.NoErr(c.SetViewMode(ctx, codec.Hex))

	p := pendingView(t, c)
	is.Equal(p.Modified, false)
	is.Equal(p.Text, "68 69")

	is.NoErr(c.ForwardIntercept(ctx))
	is.Equal(eng.Responses(), []response{{5, engine.Forward, nil}})
}

func TestIntercept_BinaryInTextModeFallsBackToHex(t *testing.T) {
	is := is.New(t)
	c := startController(t, newFakeEngine(), server.Options{})

	c.InterceptRequest(6, "Server->Client", "1.1.1.1", "2.2.2.2", 80, []byte{0xff, 0x00})
	is.Equal(pendingView(t, c).Text, "FF 00")
	is.True(hasStatus(c, "[WARNING]"))
}

func TestIntercept_BinaryInTextModeEditsAsHex(t *testing.T) {
	is := is.New(t)
	eng := newFakeEngine()
	c := startController(t, eng, server.Options{})
	ctx := ctxT(t)

	c.InterceptRequest(6, "Server->Client", "1.1.1.1", "2.2.2.2", 80, []byte{0xff, 0x00})
	is.Equal(pendingView(t, c).Text, "FF 00")

	is.NoErr(c.EditIntercept(ctx, "FF 01"))
	is.NoErr(c.ForwardIntercept(ctx))

	is.Equal(eng.Responses(), []response{{6, engine.Modify, []byte{0xff, 0x01}}})
	traffic := c.Traffic()
	is.Equal(len(traffic), 1)
	is.Equal(traffic[0].Type, engine.MessageBinary)
	is.Equal(traffic[0].Data, "FF 01")
	is.Equal(traffic[0].OriginalData, "FF 00")
}

func TestIntercept_DisableForwardsPending(t *testing.T) {
	is := is.New(t)
	eng := newFakeEngine()
	c := startController(t, eng, server.Options{})
	ctx := ctxT(t)

	is.NoErr(c.SetInterceptEnabled(ctx, true))
	is.NoErr(c.SetInterceptDirection(ctx, engine.DirectionBoth))
	is.Equal(eng.InterceptConfig(), engine.InterceptConfig{Enabled: true, Direction: engine.DirectionBoth})

	c.InterceptRequest(8, "Client->Server", "1.1.1.1", "2.2.2.2", 80, []byte("x"))
	is.NoErr(c.SetInterceptEnabled(ctx, false))

	is.Equal(eng.Responses(), []response{{8, engine.Forward, nil}})
	is.Equal(pendingView(t, c), nil)
	is.Equal(eng.InterceptConfig().Enabled, false)
}

func TestIntercept_InitialSettingsPushedOnAttach(t *testing.T) {
	is := is.New(t)
	eng := newFakeEngine()
	want := engine.InterceptConfig{Enabled: true, Direction: engine.DirectionServerToClient}
	c := startController(t, eng, server.Options{Intercept: want})
	barrier(t, c)

	is.Equal(eng.InterceptConfig(), want)
}

func TestIntercept_NotLoaded(t *testing.T) {
	c := startController(t, nil, server.Options{})
	err := c.SetInterceptEnabled(ctxT(t), true)
	if !errors.Is(err, engine.ErrNotLoaded) {
		t.Fatalf("err = %v, want ErrNotLoaded", err)
	}
}

func TestIntercept_Timeout(t *testing.T) {
	eng := newFakeEngine()
	c := startController(t, eng, server.Options{
		StatsInterval:    5 * time.Millisecond,
		InterceptTimeout: 20 * time.Millisecond,
	})

	c.InterceptRequest(9, "Client->Server", "1.1.1.1", "2.2.2.2", 80, []byte("x"))
	eventually(t, func() bool { return len(eng.Responses()) == 1 })

	is := is.New(t)
	is.Equal(eng.Responses(), []response{{9, engine.Forward, nil}})
	is.Equal(pendingView(t, c), nil)
}

func TestIntercept_RespondFailureClearsPending(t *testing.T) {
	is := is.New(t)
	eng := newFakeEngine()
	eng.respondErr = engine.ErrUnknownConnection
	c := startController(t, eng, server.Options{})

	c.InterceptRequest(10, "Client->Server", "1.1.1.1", "2.2.2.2", 80, []byte("x"))
	err := c.DropIntercept(ctxT(t))

	is.True(errors.Is(err, engine.ErrUnknownConnection))
	is.Equal(pendingView(t, c), nil)
	is.True(hasStatus(c, "[ERROR] Failed to send drop"))
}
