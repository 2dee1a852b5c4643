package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const paidEventType = "payment.paid"

// Publisher accepts decoded notifications; Hub implements it.
type Publisher interface {
	Publish(n Notification) int
}

type paidEvent struct {
	ReferenceCode string          `json:"reference_code"`
	Amount        decimal.Decimal `json:"amount"`
}

// KafkaFeed consumes provider payment events and republishes payment.paid
// messages to the hub.
type KafkaFeed struct {
	reader *kafka.Reader
	out    Publisher
	logger *zap.Logger
}

// NewKafkaFeed reads topic with groupID. Each instance should use its own
// group so every instance sees every event for the sessions it holds.
func NewKafkaFeed(out Publisher, topic, groupID string, logger *zap.Logger, brokers ...string) *KafkaFeed {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &KafkaFeed{
		reader: reader,
		out:    out,
		logger: logger.With(zap.String("component", "kafka_feed")),
	}
}

func (f *KafkaFeed) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		f.readAndPublish(ctx)
	}
}

func (f *KafkaFeed) Close() {
	if err := f.reader.Close(); err != nil {
		f.logger.Warn("error closing reader", zap.Error(err))
	}
}

func (f *KafkaFeed) readAndPublish(ctx context.Context) {
	m, err := f.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			f.logger.Warn("error reading message", zap.Error(err))
		}
		return
	}

	n, ok, err := decodePaid(m)
	if err != nil {
		f.logger.Warn("error parsing message", zap.Error(err), zap.Int64("offset", m.Offset))
		return
	}
	if !ok {
		return
	}
	delivered := f.out.Publish(n)
	f.logger.Debug("payment event relayed",
		zap.String("reference_code", n.ReferenceCode),
		zap.Int("subscribers", delivered))
}

// decodePaid returns ok=false for messages that are not payment.paid.
func decodePaid(m kafka.Message) (Notification, bool, error) {
	if headerValue(m, "event_type") != paidEventType {
		return Notification{}, false, nil
	}
	var ev paidEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return Notification{}, false, fmt.Errorf("decode payment event: %w", err)
	}
	if ev.ReferenceCode == "" {
		return Notification{}, false, errors.New("missing reference_code")
	}
	return Notification{
		ReferenceCode: ev.ReferenceCode,
		Status:        domain.PaymentPaid,
		Amount:        ev.Amount,
	}, true, nil
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
