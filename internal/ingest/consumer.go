// Package ingest consumes attendance-change events from Kafka and
// turns them into store writes plus an out-of-cycle refresh, so edits
// made in upstream systems show up before the next scheduled tick.
// With no brokers configured the consumer is disabled.
package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/mattdh/officepulse/internal/config"
	"github.com/mattdh/officepulse/internal/models"
	"github.com/mattdh/officepulse/internal/store"
)

// Event is the wire format of one attendance change.
type Event struct {
	Op     string                 `json:"op"` // "upsert" or "delete"
	Entry  models.AttendanceEntry `json:"entry"`
	Source string                 `json:"source,omitempty"`
}

// Consumer reads the attendance topic and applies events to the store.
type Consumer struct {
	reader *kafka.Reader
	store  store.Store
	kick   func()
	log    *slog.Logger
}

// New builds a consumer from config; returns nil when no brokers are
// configured.
func New(cfg config.Config, st store.Store, kick func(), lg *slog.Logger) *Consumer {
	if len(cfg.KafkaBrokers) == 0 {
		return nil
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaGroupID,
			Topic:    cfg.KafkaTopic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		}),
		store: st,
		kick:  kick,
		log:   lg.With(slog.String("component", "ingest")),
	}
}

// Run consumes until the context ends. Malformed messages are logged
// and skipped; store errors are logged and the message is retried via
// consumer-group redelivery semantics on restart.
func (c *Consumer) Run(ctx context.Context) {
	c.log.Info("consuming", slog.String("topic", c.reader.Config().Topic))
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			c.log.Error("read failed", slog.String("err", err.Error()))
			continue
		}
		if err := c.apply(ctx, msg.Value); err != nil {
			c.log.Error("event rejected",
				slog.Int64("offset", msg.Offset),
				slog.String("err", err.Error()),
			)
			continue
		}
		c.kick()
	}
}

func (c *Consumer) apply(ctx context.Context, raw []byte) error {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	switch ev.Op {
	case "delete":
		err := c.store.DeleteEntry(ctx, ev.Entry.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil // already gone, deletes are idempotent
		}
		return err
	case "upsert", "":
		if !models.ValidStatus(ev.Entry.Status) {
			return errors.New("ingest: bad status " + ev.Entry.Status)
		}
		if _, err := models.ParseDate(ev.Entry.Date); err != nil {
			return err
		}
		return c.store.PutEntry(ctx, ev.Entry)
	}
	return errors.New("ingest: unknown op " + ev.Op)
}
