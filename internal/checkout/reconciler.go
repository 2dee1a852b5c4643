package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/htbacgiang/ecobacgiang/internal/metrics"
	"github.com/htbacgiang/ecobacgiang/internal/payment"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IntentService is the slice of the payment manager a session drives.
type IntentService interface {
	Create(ctx context.Context, req payment.CreateRequest) (*domain.PaymentIntent, error)
	RefreshQR(ctx context.Context, referenceCode string) (string, error)
	Discard(ctx context.Context, referenceCode string) error
	Transition(ctx context.Context, referenceCode string, to domain.PaymentStatus) (bool, error)
	MarkOrderPlaced(ctx context.Context, referenceCode, orderID string) error
	Open(ctx context.Context, ownerID string) (*domain.PaymentIntent, error)
}

type Reconciler struct {
	intents IntentService
	logger  *zap.Logger
}

func NewReconciler(intents IntentService, logger *zap.Logger) *Reconciler {
	return &Reconciler{intents: intents, logger: logger.With(zap.String("component", "reconciler"))}
}

// IsStale reports whether a pending intent is bound to an amount other than
// what the cart now costs. Non-pending intents are never stale.
func (r *Reconciler) IsStale(intent *domain.PaymentIntent, c *domain.Cart, shippingFee decimal.Decimal) bool {
	if !intent.IsPending() {
		return false
	}
	return !domain.PayableAmount(c, shippingFee).Equal(intent.Amount)
}

// Replace tears down old and creates an intent for req.Amount. stop must
// silence the old intent's listener; it runs before the old intent is
// discarded so no confirmation for it can be accepted afterwards. When
// creation fails only with ErrQRUnavailable the new intent is returned with
// the error.
func (r *Reconciler) Replace(ctx context.Context, old *domain.PaymentIntent, req payment.CreateRequest, stop func()) (*domain.PaymentIntent, error) {
	if stop != nil {
		stop()
	}
	if old != nil {
		if err := r.intents.Discard(ctx, old.ReferenceCode); err != nil {
			return nil, fmt.Errorf("discard stale intent: %w", err)
		}
	}

	next, err := r.intents.Create(ctx, req)
	if err != nil && !(next != nil && errors.Is(err, payment.ErrQRUnavailable)) {
		return nil, err
	}
	if old != nil {
		metrics.IntentReplacements.Inc()
		r.logger.Info("payment intent replaced",
			zap.String("reference_code", next.ReferenceCode),
			zap.String("replaced", old.ReferenceCode),
			zap.String("old_amount", old.Amount.String()),
			zap.String("new_amount", next.Amount.String()))
	}
	return next, err
}
