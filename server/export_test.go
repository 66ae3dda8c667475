package server_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matgreaves/intercept/server"
	"github.com/matryer/is"
)

func TestWriteConnectionsCSV(t *testing.T) {
	is := is.New(t)
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	var buf bytes.Buffer
	is.NoErr(server.WriteConnectionsCSV(&buf, []server.ConnectionEvent{
		{Timestamp: at, Kind: server.Connect, ConnectionID: 7, SourceIP: "10.0.0.5", SourcePort: 51000, DestinationIP: "example.com", DestinationPort: 443},
		{Timestamp: at, Kind: server.Disconnect, ConnectionID: 7, SourceIP: "10.0.0.5", SourcePort: 51000, DestinationIP: "closed"},
		{Timestamp: at, Kind: server.Disconnect, ConnectionID: 8, SourceIP: "10.0.0.5", SourcePort: 51001, DestinationIP: "read: reset, \"peer\"\ngone"},
	}))

	is.Equal(buf.String(), ""+
		"Timestamp,Event,ConnectionID,SourceIP,SourcePort,DestinationIP,DestinationPort\n"+
		"2024-03-01 09:30:00,Connect,7,10.0.0.5,51000,example.com,443\n"+
		"2024-03-01 09:30:00,Disconnect,7,10.0.0.5,51000,closed,0\n"+
		"2024-03-01 09:30:00,Disconnect,8,10.0.0.5,51001,\"read: reset, \"\"peer\"\"\ngone\",0\n")
}

func TestWriteTrafficCSV(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	is.NoErr(server.WriteTrafficCSV(&buf, []server.LogEvent{
		{Timestamp: "09:30:00", SourceIP: "1.1.1.1", DestinationIP: "2.2.2.2", Port: 80, Type: "Text", Data: `say "hi", ok`},
		{Timestamp: "09:30:01", SourceIP: "1.1.1.1", DestinationIP: "2.2.2.2", Port: 80, Type: "Binary", Data: "DE AD", Modified: true},
	}))

	is.Equal(buf.String(), ""+
		"Timestamp,SourceIP,DestinationIP,Port,Type,Modified,Data\n"+
		`09:30:00,1.1.1.1,2.2.2.2,80,Text,No,"say ""hi"", ok"`+"\n"+
		`09:30:01,1.1.1.1,2.2.2.2,80,Binary,Yes,"DE AD"`+"\n")
}

func TestExportName(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 5, 7, 0, time.Local)
	if got := server.ExportName("traffic", at); got != "traffic_20240301_090507.csv" {
		t.Errorf("ExportName = %q", got)
	}
}

type uploads struct {
	mu    sync.Mutex
	files map[string]string
}

func (u *uploads) Upload(_ context.Context, name string, body []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.files[name] = string(body)
	return nil
}

func TestExport_WritesAndUploads(t *testing.T) {
	is := is.New(t)
	up := &uploads{files: map[string]string{}}
	c := startController(t, newFakeEngine(), server.Options{Uploader: up})

	c.ConnectionOpened("10.0.0.5", 51000, "example.com", 443, 1)
	c.DataRecord("09:30:00", "10.0.0.5", "example.com", 443, "Text", "hello")
	barrier(t, c)

	dir := filepath.Join(t.TempDir(), "exports")
	paths, err := c.Export(ctxT(t), dir)
	is.NoErr(err)
	is.Equal(len(paths), 2)

	conns, err := os.ReadFile(paths[0])
	is.NoErr(err)
	is.True(strings.HasPrefix(filepath.Base(paths[0]), "connections_"))
	is.True(strings.Contains(string(conns), ",Connect,1,10.0.0.5,51000,example.com,443"))

	traffic, err := os.ReadFile(paths[1])
	is.NoErr(err)
	is.True(strings.HasSuffix(string(traffic), `09:30:00,10.0.0.5,example.com,443,Text,No,"hello"`+"\n"))

	up.mu.Lock()
	defer up.mu.Unlock()
	is.Equal(up.files[filepath.Base(paths[1])], string(traffic))
}
