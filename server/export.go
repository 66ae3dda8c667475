package server

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	connectionsHeader = "Timestamp,Event,ConnectionID,SourceIP,SourcePort,DestinationIP,DestinationPort"
	trafficHeader     = "Timestamp,SourceIP,DestinationIP,Port,Type,Modified,Data"
)

// Uploader stores an exported file somewhere other than local disk.
type Uploader interface {
	Upload(ctx context.Context, name string, body []byte) error
}

// WriteConnectionsCSV writes the connection log in its export layout.
func WriteConnectionsCSV(w io.Writer, events []ConnectionEvent) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, connectionsHeader)
	for _, e := range events {
		fmt.Fprintf(bw, "%s,%s,%d,%s,%d,%s,%d\n",
			e.Timestamp.Format(time.DateTime), e.Kind, e.ConnectionID,
			field(e.SourceIP), e.SourcePort, field(e.DestinationIP), e.DestinationPort)
	}
	return bw.Flush()
}

// WriteTrafficCSV writes the traffic history in its export layout. Data is
// always quoted.
func WriteTrafficCSV(w io.Writer, events []LogEvent) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, trafficHeader)
	for _, e := range events {
		modified := "No"
		if e.Modified {
			modified = "Yes"
		}
		fmt.Fprintf(bw, "%s,%s,%s,%d,%s,%s,%s\n",
			e.Timestamp, e.SourceIP, e.DestinationIP, e.Port, e.Type, modified, quote(e.Data))
	}
	return bw.Flush()
}

// field quotes s only when it would otherwise break the row.
func field(s string) string {
	if strings.ContainsAny(s, ",\"\r\n") {
		return quote(s)
	}
	return s
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// ExportName returns the file name used for an export of kind taken at t.
func ExportName(kind string, t time.Time) string {
	return fmt.Sprintf("%s_%s.csv", kind, t.Format("20060102_150405"))
}

// Export writes both logs to dir with timestamped names and, when an
// Uploader is configured, uploads them as well. It returns the written
// paths.
func (c *Controller) Export(ctx context.Context, dir string) ([]string, error) {
	now := time.Now()
	files := []struct {
		kind  string
		write func(io.Writer) error
		n     int
	}{
		{"connections", func(w io.Writer) error { return WriteConnectionsCSV(w, c.Connections()) }, c.connections.Len()},
		{"traffic", func(w io.Writer) error { return WriteTrafficCSV(w, c.Traffic()) }, c.traffic.Len()},
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	var paths []string
	for _, f := range files {
		var buf bytes.Buffer
		if err := f.write(&buf); err != nil {
			return paths, fmt.Errorf("export %s: %w", f.kind, err)
		}
		name := ExportName(f.kind, now)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return paths, fmt.Errorf("export %s: %w", f.kind, err)
		}
		paths = append(paths, path)
		c.note(fmt.Sprintf("[SYSTEM] Exported %d %s entries to %s", f.n, f.kind, path))

		if c.opts.Uploader != nil {
			if err := c.opts.Uploader.Upload(ctx, name, buf.Bytes()); err != nil {
				c.note(fmt.Sprintf("[ERROR] Failed to upload %s: %v", name, err))
				return paths, fmt.Errorf("upload %s: %w", name, err)
			}
		}
	}
	return paths, nil
}
