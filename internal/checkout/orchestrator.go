package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/cart"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/htbacgiang/ecobacgiang/internal/metrics"
	"github.com/htbacgiang/ecobacgiang/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrPlacementInProgress = errors.New("order placement already in progress")
	ErrPlacementFailed     = errors.New("order placement failed")
	ErrPaymentNotConfirmed = errors.New("payment is not confirmed")
	ErrPaidAmountMismatch  = errors.New("cart total no longer matches the paid amount")
	ErrEmptyCart           = errors.New("cart is empty, nothing to checkout")
)

// OrderBackend creates orders and acknowledges payments at the storefront
// backend.
type OrderBackend interface {
	CreateOrder(ctx context.Context, idempotencyKey string, order *domain.Order) (string, error)
	ConfirmPayment(ctx context.Context, userID, referenceCode, orderID string) error
}

type IntentMarker interface {
	MarkOrderPlaced(ctx context.Context, referenceCode, orderID string) error
}

type PlacementAudit interface {
	RecordPlacement(ctx context.Context, p *repository.Placement) error
}

type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, order *domain.Order) error
}

type PlaceRequest struct {
	// Key is the payment reference code for prepaid orders and the checkout
	// key otherwise.
	Key         string
	OwnerID     string
	Cart        *cart.Aggregate
	Shipping    domain.ShippingInfo
	ShippingFee decimal.Decimal
	Method      domain.PaymentMethod
	// Intent is nil for cash on delivery.
	Intent *domain.PaymentIntent
}

type PlaceResult struct {
	Order   *domain.Order
	OrderID string
	// Duplicate is set when the key had already been placed; Order is nil.
	Duplicate bool
}

type Orchestrator struct {
	orders  OrderBackend
	guard   PlacementGuard
	intents IntentMarker
	audit   PlacementAudit
	events  EventPublisher
	logger  *zap.Logger
}

func NewOrchestrator(orders OrderBackend, guard PlacementGuard, intents IntentMarker, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		orders:  orders,
		guard:   guard,
		intents: intents,
		logger:  logger.With(zap.String("component", "checkout")),
	}
}

func (o *Orchestrator) WithAudit(audit PlacementAudit) *Orchestrator {
	o.audit = audit
	return o
}

func (o *Orchestrator) WithEvents(events EventPublisher) *Orchestrator {
	o.events = events
	return o
}

// Place turns the cart into an order at most once per key. Shipping is
// checked before the guard is touched so an incomplete address can be fixed
// and placement retried. A failure after payment never changes the intent's
// paid status.
func (o *Orchestrator) Place(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	if err := req.Shipping.Validate(); err != nil {
		return PlaceResult{}, err
	}
	if req.Method.RequiresPrepayment() {
		if req.Intent == nil || req.Intent.Status != domain.PaymentPaid {
			return PlaceResult{}, ErrPaymentNotConfirmed
		}
	}
	log := o.logger.With(zap.String("reference_code", req.Key))

	if orderID, placed, err := o.guard.PlacedOrder(ctx, req.Key); err != nil {
		return PlaceResult{}, err
	} else if placed {
		o.absorbDuplicate(log, orderID)
		return PlaceResult{OrderID: orderID, Duplicate: true}, nil
	}

	token, ok, err := o.guard.Acquire(ctx, req.Key)
	if err != nil {
		return PlaceResult{}, err
	}
	if !ok {
		if orderID, placed, _ := o.guard.PlacedOrder(ctx, req.Key); placed {
			o.absorbDuplicate(log, orderID)
			return PlaceResult{OrderID: orderID, Duplicate: true}, nil
		}
		metrics.DuplicatePlacements.Inc()
		return PlaceResult{Duplicate: true}, ErrPlacementInProgress
	}

	snapshot := req.Cart.Snapshot()
	if snapshot.IsEmpty() {
		o.release(req.Key, token)
		return PlaceResult{}, ErrEmptyCart
	}
	if req.Intent != nil {
		if payable := domain.PayableAmount(snapshot, req.ShippingFee); !payable.Equal(req.Intent.Amount) {
			o.release(req.Key, token)
			log.Error("paid amount does not match cart total",
				zap.String("paid", req.Intent.Amount.String()),
				zap.String("payable", payable.String()))
			return PlaceResult{}, fmt.Errorf("%w: paid %s, cart %s", ErrPaidAmountMismatch, req.Intent.Amount, payable)
		}
	}

	order := domain.NewOrder(req.OwnerID, snapshot, req.Shipping, req.ShippingFee, req.Method, req.Intent)
	orderID, err := o.orders.CreateOrder(ctx, req.Key, order)
	if err != nil {
		o.release(req.Key, token)
		metrics.PlacementFailures.Inc()
		log.Error("order placement failed, payment status kept", zap.Error(err))
		return PlaceResult{}, fmt.Errorf("%w: %w", ErrPlacementFailed, err)
	}
	order.ID = orderID

	if err := o.guard.Commit(ctx, req.Key, token, orderID); err != nil {
		log.Error("placement guard commit failed", zap.String("order_id", orderID), zap.Error(err))
	}
	if err := req.Cart.Clear(ctx); err != nil {
		log.Warn("clear cart after placement failed", zap.Error(err))
	}

	metrics.OrdersPlaced.WithLabelValues(string(req.Method)).Inc()
	log.Info("order placed",
		zap.String("order_id", orderID),
		zap.String("method", string(req.Method)),
		zap.String("total", order.Total.String()))

	o.followUp(ctx, req, order)
	return PlaceResult{Order: order, OrderID: orderID}, nil
}

// followUp runs the side effects that must not undo a placed order.
func (o *Orchestrator) followUp(ctx context.Context, req PlaceRequest, order *domain.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	log := o.logger.With(zap.String("reference_code", req.Key), zap.String("order_id", order.ID))

	if req.Intent != nil {
		if err := o.intents.MarkOrderPlaced(ctx, req.Intent.ReferenceCode, order.ID); err != nil {
			log.Warn("mark intent order placed failed", zap.Error(err))
		}
		if err := o.orders.ConfirmPayment(ctx, req.OwnerID, req.Intent.ReferenceCode, order.ID); err != nil {
			log.Warn("confirm payment at backend failed", zap.Error(err))
		}
	}

	if o.audit != nil {
		err := o.audit.RecordPlacement(ctx, &repository.Placement{
			Key:           req.Key,
			OrderID:       order.ID,
			OwnerID:       req.OwnerID,
			ReferenceCode: order.ReferenceCode,
			Method:        req.Method,
			Total:         order.Total,
			PlacedAt:      order.CreatedAt,
		})
		switch {
		case errors.Is(err, repository.ErrDuplicatePlacement):
			log.Debug("placement already audited")
		case err != nil:
			log.Warn("record placement failed", zap.Error(err))
		}
	}

	if o.events != nil {
		if err := o.events.PublishOrderPlaced(ctx, order); err != nil {
			log.Warn("publish order placed failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) absorbDuplicate(log *zap.Logger, orderID string) {
	metrics.DuplicatePlacements.Inc()
	log.Info("duplicate placement absorbed", zap.String("order_id", orderID))
}

func (o *Orchestrator) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.guard.Release(ctx, key, token); err != nil {
		o.logger.Warn("release placement guard failed", zap.String("reference_code", key), zap.Error(err))
	}
}
