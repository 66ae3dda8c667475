package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/matgreaves/intercept/codec"
	"github.com/matgreaves/intercept/engine"
	"github.com/matgreaves/intercept/server"
)

// maxDataWidth truncates payloads in table rows.
const maxDataWidth = 60

// renderTable prints rows under bold headers with columns padded to the
// widest cell. Cells must be uncolored.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for j, c := range r {
			if len(c) > widths[j] {
				widths[j] = len(c)
			}
		}
	}

	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(w, "  ")
		}
		fmt.Fprint(w, bold(h)+strings.Repeat(" ", widths[i]-len(h)))
	}
	fmt.Fprintln(w)

	for _, r := range rows {
		for j, c := range r {
			if j > 0 {
				fmt.Fprint(w, "  ")
			}
			if j == len(r)-1 {
				fmt.Fprint(w, c)
			} else {
				fmt.Fprintf(w, "%-*s", widths[j], c)
			}
		}
		fmt.Fprintln(w)
	}
}

func renderStatus(w io.Writer, v server.StatusView) {
	state := red("not loaded")
	switch {
	case v.EngineLoaded && v.Running:
		state = green("running")
	case v.EngineLoaded:
		state = yellow("stopped")
	}
	fmt.Fprintf(w, "%s %s\n", bold("Proxy:"), state)
	if v.EngineLoaded {
		fmt.Fprintf(w, "%s %s  %s %s  %s %s\n",
			bold("Listen:"), v.Config.Addr(),
			bold("Log file:"), v.Config.LogFile,
			bold("Verbose:"), onOff(v.Config.Verbose))
	}
	s := v.Stats
	fmt.Fprintf(w, "%s %d total, %d active  %s %s sent, %s received\n",
		bold("Connections:"), s.TotalConnections, s.ActiveConnections,
		bold("Bytes:"), formatBytes(s.BytesSent), formatBytes(s.BytesReceived))
	renderIntercept(w, v.Intercept)
	if v.LastStatus != "" {
		fmt.Fprintf(w, "%s %s\n", bold("Last:"), colorStatus(v.LastStatus))
	}
}

func renderIntercept(w io.Writer, v server.InterceptView) {
	fmt.Fprintf(w, "%s %s  %s %s  %s %s\n",
		bold("Intercept:"), onOff(v.Enabled),
		bold("Direction:"), v.Direction,
		bold("View:"), v.Mode)
	p := v.Pending
	if p == nil {
		fmt.Fprintln(w, dim("No intercept pending."))
		return
	}
	edited := ""
	if p.Modified {
		edited = yellow(" (edited)")
	}
	fmt.Fprintf(w, "%s connection %d %s %s -> %s:%d, %d bytes, held %s%s\n",
		cyan("Pending:"), p.ConnectionID, p.Direction,
		p.SourceIP, p.DestinationIP, p.DestinationPort, p.Size,
		time.Since(p.ReceivedAt).Round(time.Second), edited)
	fmt.Fprintln(w, p.Text)
}

func renderConnections(w io.Writer, events []server.ConnectionEvent) {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		dst := e.DestinationIP
		if e.Kind == server.Connect {
			dst = e.DestinationIP + ":" + strconv.Itoa(e.DestinationPort)
		}
		rows = append(rows, []string{
			e.Timestamp.Local().Format(time.DateTime),
			string(e.Kind),
			strconv.Itoa(e.ConnectionID),
			e.SourceIP + ":" + strconv.Itoa(e.SourcePort),
			dst,
		})
	}
	renderTable(w, []string{"TIME", "EVENT", "ID", "SOURCE", "DESTINATION"}, rows)
}

func renderTraffic(w io.Writer, events []server.LogEvent, full bool) {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		mod := ""
		if e.Modified {
			mod = "*"
		}
		rows = append(rows, []string{
			e.Timestamp,
			e.SourceIP,
			e.DestinationIP + ":" + strconv.Itoa(e.Port),
			e.Type + mod,
			trafficData(e, full),
		})
	}
	renderTable(w, []string{"TIME", "SOURCE", "DESTINATION", "TYPE", "DATA"}, rows)
}

// trafficData is the DATA cell: the payload for text and binary entries and
// a size description for anything else.
func trafficData(e server.LogEvent, full bool) string {
	switch e.Type {
	case engine.MessageText, engine.MessageBinary:
	case engine.MessageEmpty:
		return "[Empty]"
	default:
		return codec.DescribeSize(e.Data)
	}
	d := strings.ReplaceAll(e.Data, "\n", `\n`)
	d = strings.ReplaceAll(d, "\r", `\r`)
	if r := []rune(d); !full && len(r) > maxDataWidth {
		d = string(r[:maxDataWidth-3]) + "..."
	}
	return d
}

// formatFeed renders one feed event as a single line for watch.
func formatFeed(ev server.FeedEvent) string {
	ts := dim(ev.Timestamp.Local().Format(time.TimeOnly))
	switch ev.Type {
	case server.FeedStatus:
		return ts + " " + colorStatus(ev.Message)
	case server.FeedConnectionOpened, server.FeedConnectionClosed:
		c := ev.Connection
		if c == nil {
			break
		}
		if ev.Type == server.FeedConnectionOpened {
			return fmt.Sprintf("%s %s #%d %s:%d -> %s:%d", ts, green("open "),
				c.ConnectionID, c.SourceIP, c.SourcePort, c.DestinationIP, c.DestinationPort)
		}
		return fmt.Sprintf("%s %s #%d %s", ts, dim("close"), c.ConnectionID, c.Reason)
	case server.FeedStatistics:
		if s := ev.Stats; s != nil {
			return fmt.Sprintf("%s %s %d total, %d active, %s sent, %s received", ts, dim("stats"),
				s.TotalConnections, s.ActiveConnections, formatBytes(s.BytesSent), formatBytes(s.BytesReceived))
		}
	case server.FeedInterceptPending:
		if p := ev.Intercept; p != nil {
			return fmt.Sprintf("%s %s #%d %s %d bytes", ts, cyan("held "), p.ConnectionID, p.Direction, p.Size)
		}
	case server.FeedInterceptResolved:
		if p := ev.Intercept; p != nil {
			return fmt.Sprintf("%s %s #%d %s", ts, cyan("done "), p.ConnectionID, ev.Disposition)
		}
	}
	return ts + " " + string(ev.Type) + " " + ev.Message
}

func formatBytes(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}
