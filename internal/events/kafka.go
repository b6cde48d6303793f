package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mohamaddakhiliuad/tenantorders/internal/domain"
)

// MessageWriter is the part of *kafka.Writer the dispatcher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes events as JSON keyed by tenant and order, so all
// events for one order land on the same partition in commit order.
type KafkaDispatcher struct {
	writer MessageWriter
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// publishBatchTimeout bounds how long a synchronous write waits for a batch to
// fill. Dispatch runs on the request path after commit, one event at a time.
const publishBatchTimeout = 10 * time.Millisecond

// NewKafkaWriter returns a synchronous writer that flushes each dispatched
// message without waiting for kafka-go's default one second batch timer.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    1,
		BatchTimeout: publishBatchTimeout,
	}
}

func NewKafkaDispatcher(writer MessageWriter) *KafkaDispatcher {
	return &KafkaDispatcher{writer: writer}
}

type envelope struct {
	TenantID string `json:"tenant_id"`
	domain.Event
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, tenantID string, ev domain.Event) error {
	data, err := json.Marshal(envelope{TenantID: tenantID, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(tenantID + ":" + strconv.FormatInt(ev.OrderID, 10)),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "tenant_id", Value: []byte(tenantID)},
		},
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
