// Package sink ships controller data to external systems: traffic entries
// to a Kafka topic and CSV exports to an S3 bucket.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/matgreaves/intercept/server"
	"github.com/tevino/abool"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Kafka mirrors traffic log entries to a topic. Mirror never blocks: when
// the producer buffer is full the entry is dropped and counted. Delivery
// failures are logged and otherwise ignored.
type Kafka struct {
	client   *kgo.Client
	log      *slog.Logger
	dropped  atomic.Int64
	dropping *abool.AtomicBool
}

var _ server.TrafficMirror = (*Kafka)(nil)

// NewKafka creates a producer for topic. No connection is made until the
// first record is produced. opts are applied after the defaults.
func NewKafka(brokers []string, topic string, log *slog.Logger, opts ...kgo.Opt) (*Kafka, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := kgo.NewClient(append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("interceptd"),
	}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Kafka{client: client, log: log, dropping: abool.New()}, nil
}

// Mirror implements server.TrafficMirror.
func (k *Kafka) Mirror(e server.LogEvent) {
	rec, err := Record(e)
	if err != nil {
		k.log.Warn("encode traffic record", "err", err)
		return
	}
	k.client.TryProduce(context.Background(), rec, func(r *kgo.Record, err error) {
		switch {
		case errors.Is(err, kgo.ErrMaxBuffered):
			k.dropped.Add(1)
			if k.dropping.SetToIf(false, true) {
				k.log.Warn("kafka producer buffer full, dropping traffic", "topic", r.Topic)
			}
		case err != nil:
			k.log.Warn("mirror traffic to kafka", "topic", r.Topic, "err", err)
		default:
			if k.dropping.SetToIf(true, false) {
				k.log.Info("kafka mirror resumed", "topic", r.Topic, "dropped", k.dropped.Load())
			}
		}
	})
}

// Dropped returns the number of entries discarded because the producer
// buffer was full.
func (k *Kafka) Dropped() int64 {
	return k.dropped.Load()
}

// Close flushes buffered records and closes the client.
func (k *Kafka) Close(ctx context.Context) error {
	defer k.client.Close()
	if err := k.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush kafka: %w", err)
	}
	return nil
}

// Record encodes e as a Kafka record keyed by its sequence number.
func Record(e server.LogEvent) (*kgo.Record, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	rec := &kgo.Record{
		Key:   []byte(strconv.FormatUint(e.Seq, 10)),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if e.Modified {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: "modified", Value: []byte("true")})
	}
	return rec, nil
}
