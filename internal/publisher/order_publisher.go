package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const OrderPlacedEventType = "order.placed"

type orderPlacedPayload struct {
	OrderID       string               `json:"order_id"`
	ReferenceCode string               `json:"reference_code,omitempty"`
	UserID        string               `json:"user_id"`
	Items         []domain.OrderItem   `json:"items"`
	CouponCode    string               `json:"coupon_code,omitempty"`
	ShippingFee   decimal.Decimal      `json:"shipping_fee"`
	TotalAmount   decimal.Decimal      `json:"total_amount"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	PlacedAt      time.Time            `json:"placed_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderPublisher emits one order.placed message per placed order, keyed by
// order id.
type OrderPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewOrderPublisher(topic string, logger *zap.Logger, brokers ...string) *OrderPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}
	return &OrderPublisher{writer: w, logger: logger.With(zap.String("component", "order_publisher"))}
}

func (p *OrderPublisher) PublishOrderPlaced(ctx context.Context, order *domain.Order) error {
	msg, err := orderPlacedMessage(order)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order placed: %w", err)
	}
	p.logger.Debug("order placed event published",
		zap.String("order_id", order.ID),
		zap.String("reference_code", order.ReferenceCode))
	return nil
}

func (p *OrderPublisher) Close() error {
	return p.writer.Close()
}

func orderPlacedMessage(order *domain.Order) (kafka.Message, error) {
	payload := orderPlacedPayload{
		OrderID:       order.ID,
		ReferenceCode: order.ReferenceCode,
		UserID:        order.UserID,
		Items:         order.Items,
		CouponCode:    order.CouponCode,
		ShippingFee:   order.ShippingFee,
		TotalAmount:   order.Total,
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
		PlacedAt:      order.CreatedAt,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal order payload: %w", err)
	}
	return kafka.Message{
		Key:   []byte(order.ID),
		Value: payloadJSON,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(OrderPlacedEventType)},
		},
	}, nil
}
