package sink_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/matgreaves/intercept/server"
	"github.com/matgreaves/intercept/sink"
	"github.com/matryer/is"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestRecord(t *testing.T) {
	is := is.New(t)

	e := server.LogEvent{Seq: 42, Timestamp: "09:30:00", SourceIP: "1.1.1.1", DestinationIP: "2.2.2.2", Port: 80, Type: "Text", Data: "HI", OriginalData: "hi", Modified: true}
	rec, err := sink.Record(e)
	is.NoErr(err)

	is.Equal(string(rec.Key), "42")
	var got server.LogEvent
	is.NoErr(json.Unmarshal(rec.Value, &got))
	is.Equal(got, e)

	headers := map[string]string{}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	is.Equal(headers, map[string]string{"type": "Text", "modified": "true"})
}

func TestKafka_CloseWithNothingBuffered(t *testing.T) {
	k, err := sink.NewKafka([]string{"127.0.0.1:1"}, "traffic", nil)
	if err != nil {
		t.Fatal(err)
	}
	// Nothing produced, so flushing has nothing to wait for.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := k.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKafka_MirrorDoesNotBlockWhenBrokerDown(t *testing.T) {
	k, err := sink.NewKafka([]string{"127.0.0.1:1"}, "traffic", nil, kgo.MaxBufferedRecords(10))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		k.Close(ctx)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 100 {
			k.Mirror(server.LogEvent{Seq: uint64(i + 1), Type: "Text", Data: "x"})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Mirror blocked with the producer buffer full")
	}

	deadline := time.Now().Add(5 * time.Second)
	for k.Dropped() < 90 {
		if time.Now().After(deadline) {
			t.Fatalf("dropped = %d, want at least 90", k.Dropped())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestS3_Upload(t *testing.T) {
	is := is.New(t)

	var mu sync.Mutex
	var method, path, body, contentType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body, contentType = r.Method, r.URL.Path, string(b), r.Header.Get("Content-Type")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	up := sink.NewS3(sink.S3Options{
		Bucket:          "captures",
		Prefix:          "exports",
		Region:          "us-east-1",
		Endpoint:        ts.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	is.NoErr(up.Upload(ctx, "traffic_20240301_093000.csv", []byte("Timestamp,SourceIP\n")))

	mu.Lock()
	defer mu.Unlock()
	is.Equal(method, http.MethodPut)
	is.Equal(path, "/captures/exports/traffic_20240301_093000.csv")
	is.Equal(body, "Timestamp,SourceIP\n")
	is.Equal(contentType, "text/csv")
}

func TestS3_UploadError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
	}))
	defer ts.Close()

	up := sink.NewS3(sink.S3Options{Bucket: "b", Region: "us-east-1", Endpoint: ts.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := up.Upload(ctx, "x.csv", []byte("x")); err == nil {
		t.Fatal("expected upload error")
	}
}
