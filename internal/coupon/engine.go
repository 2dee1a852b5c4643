package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/htbacgiang/ecobacgiang/internal/backend"
	"github.com/htbacgiang/ecobacgiang/internal/cart"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/htbacgiang/ecobacgiang/internal/metrics"
	"go.uber.org/zap"
)

var ErrValidatorUnavailable = errors.New("coupon validator unavailable")

// Validator performs the remote validation round trip.
type Validator interface {
	ApplyCoupon(ctx context.Context, userID, code string) (domain.CouponValidation, error)
}

// Engine applies coupons to a cart only from validator answers.
type Engine struct {
	validator Validator
	logger    *zap.Logger
	attempts  int
	backoff   time.Duration
}

func NewEngine(validator Validator, logger *zap.Logger) *Engine {
	return &Engine{
		validator: validator,
		logger:    logger.With(zap.String("component", "coupon")),
		attempts:  3,
		backoff:   200 * time.Millisecond,
	}
}

// WithRetry overrides the transient-error retry budget and the first wait
// between attempts.
func (e *Engine) WithRetry(attempts int, backoff time.Duration) *Engine {
	if attempts < 1 {
		attempts = 1
	}
	e.attempts = attempts
	e.backoff = backoff
	return e
}

// Apply validates code remotely and installs the confirmed discount. On any
// failure the cart keeps its prior coupon state.
func (e *Engine) Apply(ctx context.Context, userID string, agg *cart.Aggregate, code string) (*domain.Cart, error) {
	conf, err := e.confirm(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	c, err := agg.Dispatch(ctx, cart.ApplyCoupon{Confirmation: conf})
	if err != nil {
		return nil, fmt.Errorf("apply coupon: %w", err)
	}
	e.logger.Info("coupon applied",
		zap.String("code", conf.Code()),
		zap.String("discount_percent", conf.Percent().String()))
	return c, nil
}

func (e *Engine) Clear(ctx context.Context, agg *cart.Aggregate) (*domain.Cart, error) {
	c, err := agg.Dispatch(ctx, cart.ClearCoupon{})
	if err != nil {
		return nil, fmt.Errorf("clear coupon: %w", err)
	}
	return c, nil
}

// Revalidation is the outcome of re-checking an active coupon after a cart
// mutation.
type Revalidation struct {
	Cart    *domain.Cart
	Removed bool
	Reason  string
}

// Revalidate re-applies the active coupon against the server. A coupon the
// server no longer confirms is cleared. If the validator cannot be reached
// the coupon is cleared as well, so no unconfirmed discount survives.
func (e *Engine) Revalidate(ctx context.Context, userID string, agg *cart.Aggregate) (Revalidation, error) {
	current := agg.Snapshot()
	if !current.HasCoupon() {
		return Revalidation{Cart: current}, nil
	}
	code := current.CouponCode

	conf, err := e.confirm(ctx, userID, code)
	if err == nil {
		c, err := agg.Dispatch(ctx, cart.ApplyCoupon{Confirmation: conf})
		if err != nil {
			return Revalidation{}, fmt.Errorf("reapply coupon: %w", err)
		}
		return Revalidation{Cart: c}, nil
	}
	if errors.Is(err, context.Canceled) {
		return Revalidation{}, err
	}

	reason := err.Error()
	metrics.CouponsRemoved.Inc()
	e.logger.Warn("coupon removed after revalidation", zap.String("code", code), zap.Error(err))
	c, clearErr := agg.Dispatch(ctx, cart.ClearCoupon{})
	if clearErr != nil {
		return Revalidation{}, fmt.Errorf("clear rejected coupon: %w", clearErr)
	}
	return Revalidation{Cart: c, Removed: true, Reason: reason}, nil
}

func (e *Engine) confirm(ctx context.Context, userID, code string) (domain.CouponConfirmation, error) {
	v, err := e.validate(ctx, userID, code)
	if err != nil {
		return domain.CouponConfirmation{}, err
	}
	return domain.ConfirmCoupon(code, v)
}

// validate retries transient validator errors with exponential backoff. A
// non-transient error stops the retries at once.
func (e *Engine) validate(ctx context.Context, userID, code string) (domain.CouponValidation, error) {
	var (
		v         domain.CouponValidation
		permanent error
	)
	op := func() error {
		res, err := e.validator.ApplyCoupon(ctx, userID, code)
		if err == nil {
			v = res
			return nil
		}
		if !backend.IsTransient(err) {
			permanent = fmt.Errorf("validate coupon: %w", err)
			return backoff.Permanent(permanent)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(e.retryBackOff(), uint64(e.attempts-1)), ctx))
	switch {
	case err == nil:
		return v, nil
	case permanent != nil:
		return domain.CouponValidation{}, permanent
	case ctx.Err() != nil:
		return domain.CouponValidation{}, ctx.Err()
	default:
		return domain.CouponValidation{}, fmt.Errorf("%w: %v", ErrValidatorUnavailable, err)
	}
}

func (e *Engine) retryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.backoff
	b.MaxInterval = 10 * e.backoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
