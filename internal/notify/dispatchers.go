package notify

import (
	"context"
	"log"

	"github.com/segmentio/kafka-go"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/receipt"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher forwards every event to the notification topic. Email and
// admin-alert delivery are downstream consumers of that topic.
type KafkaDispatcher struct {
	w messageWriter
}

func NewKafkaDispatcher(brokers []string, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

func (d *KafkaDispatcher) Name() string { return "kafka" }

func (d *KafkaDispatcher) Dispatch(ctx context.Context, ev Event) error {
	value, err := encode(ev)
	if err != nil {
		return err
	}
	return d.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.CorrelationID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(ev.EventType)},
			{Key: "x-trace-id", Value: []byte(ev.TraceID)},
		},
	})
}

func (d *KafkaDispatcher) Close() error {
	return d.w.Close()
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}

// AuditDispatcher persists activity events to the audit log.
type AuditDispatcher struct {
	repo auditWriter
}

func NewAuditDispatcher(repo auditWriter) *AuditDispatcher {
	return &AuditDispatcher{repo: repo}
}

func (d *AuditDispatcher) Name() string { return "audit" }

func (d *AuditDispatcher) Dispatch(ctx context.Context, ev Event) error {
	if ev.EventType != EventActivityLogged {
		return nil
	}
	entry, err := Decode[domain.AuditLog](ev)
	if err != nil {
		return err
	}
	return d.repo.CreateAuditLog(ctx, entry)
}

type spool interface {
	Push(ctx context.Context, key string, payload []byte) error
}

// ReceiptDispatcher spools ESC/POS bytes for new bills; the printer bridge
// drains the list.
type ReceiptDispatcher struct {
	spool spool
	key   string
	opts  receipt.Options
}

func NewReceiptDispatcher(sp spool, key string, opts receipt.Options) *ReceiptDispatcher {
	return &ReceiptDispatcher{spool: sp, key: key, opts: opts}
}

func (d *ReceiptDispatcher) Name() string { return "receipt" }

func (d *ReceiptDispatcher) Dispatch(ctx context.Context, ev Event) error {
	if ev.EventType != EventBillCreated {
		return nil
	}
	bill, err := Decode[domain.Bill](ev)
	if err != nil {
		return err
	}
	return d.spool.Push(ctx, d.key, receipt.Escpos(bill, d.opts))
}

// LogDispatcher writes one line per event.
type LogDispatcher struct{}

func (LogDispatcher) Name() string { return "log" }

func (LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	log.Printf("[notify] %s id=%s correlation=%s trace=%s", ev.EventType, ev.EventID, ev.CorrelationID, ev.TraceID)
	return nil
}
