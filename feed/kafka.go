// Package feed publishes the node's fill events to a Kafka topic for
// downstream consumers (settlement, market data). The book calls Publish
// under its lock, so events are handed to an internal queue and written by
// a background goroutine.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	exchange "github.com/AceTheNinja/bfx-challenge"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger allows setting a custom logger
func SetLogger(l *slog.Logger) {
	logger = l
}

// KafkaPublisher implements exchange.FillPublisher on a Kafka topic.
// Messages are keyed by item so fills for one instrument stay ordered
// within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	events chan *exchange.FillEvent
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		events: make(chan *exchange.FillEvent, 1024),
	}
}

// Publish queues events for delivery. It never blocks the caller; when the
// queue is full the event is dropped and logged.
func (p *KafkaPublisher) Publish(events ...*exchange.FillEvent) {
	for _, event := range events {
		select {
		case p.events <- event:
		default:
			logger.Warn("fill feed queue full, dropping event",
				"item", event.Item,
				"buy_order_id", event.BuyOrderID,
				"sell_order_id", event.SellOrderID)
		}
	}
}

// Run delivers queued events until the context is cancelled, then flushes
// whatever is still queued.
func (p *KafkaPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return ctx.Err()
		case event := <-p.events:
			p.write(ctx, event)
		}
	}
}

func (p *KafkaPublisher) flush() {
	for {
		select {
		case event := <-p.events:
			p.write(context.Background(), event)
		default:
			return
		}
	}
}

func (p *KafkaPublisher) write(ctx context.Context, event *exchange.FillEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		logger.Error("marshal fill event", "error", err)
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(wctx, kafka.Message{
		Key:   []byte(event.Item),
		Value: value,
	})
	if err != nil {
		logger.Error("write fill event", "item", event.Item, "error", err)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
