package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/backend"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/htbacgiang/ecobacgiang/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrUnauthenticated     = errors.New("prepayment requires a signed-in account")
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	ErrInvalidAmount       = errors.New("payment amount must be positive")
	ErrAmountMismatch      = errors.New("provider bound a different amount")
	ErrIntentNotPending    = errors.New("payment intent is no longer pending")
)

// Backend is the payments part of the REST backend.
type Backend interface {
	CreatePayment(ctx context.Context, userID string, req backend.CreatePaymentRequest) (*backend.PaymentDTO, error)
	RefreshQR(ctx context.Context, referenceCode string) (string, error)
	CancelPayment(ctx context.Context, referenceCode string) error
}

type CreateRequest struct {
	OwnerID      string
	CustomerName string
	Amount       decimal.Decimal
	ShippingFee  decimal.Decimal
	Provider     domain.Provider
	ItemCount    int
}

// Manager creates and tears down payment intents.
type Manager struct {
	api    Backend
	repo   Repository
	qr     *QRResolver
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(api Backend, repo Repository, qr *QRResolver, prefix string, logger *zap.Logger) *Manager {
	if prefix == "" {
		prefix = "ECO"
	}
	return &Manager{
		api:    api,
		repo:   repo,
		qr:     qr,
		prefix: prefix,
		logger: logger.With(zap.String("component", "payment")),
		now:    time.Now,
	}
}

// Create registers a new pending intent bound to req.Amount. When the QR
// asset cannot be reached from either source the intent is still returned
// together with an error wrapping ErrQRUnavailable, so the shopper can retry
// the QR without a new intent.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*domain.PaymentIntent, error) {
	switch {
	case req.ItemCount == 0:
		return nil, ErrEmptyCart
	case req.OwnerID == "":
		return nil, ErrUnauthenticated
	case !req.Provider.Valid():
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, req.Provider)
	case !req.Amount.IsPositive():
		return nil, ErrInvalidAmount
	}

	now := m.now()
	ref := NewReferenceCode(m.prefix)
	intent := &domain.PaymentIntent{
		ReferenceCode: ref,
		Amount:        req.Amount,
		ShippingFee:   req.ShippingFee,
		Provider:      req.Provider,
		TransferMemo:  TransferMemo(ref, req.CustomerName, now),
		Status:        domain.PaymentPending,
		OwnerID:       req.OwnerID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	dto, err := m.api.CreatePayment(ctx, req.OwnerID, backend.CreatePaymentRequest{
		ReferenceCode: ref,
		Amount:        req.Amount,
		Provider:      req.Provider,
		Memo:          intent.TransferMemo,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if !dto.Amount.IsZero() && !dto.Amount.Equal(req.Amount) {
		m.cancel(ref)
		return nil, fmt.Errorf("%w: requested %s, got %s", ErrAmountMismatch, req.Amount, dto.Amount)
	}

	descriptor, qrErr := m.qr.Resolve(ctx, intent, dto.QRURL)
	intent.QRDescriptor = descriptor

	if err := m.repo.Save(ctx, intent); err != nil {
		m.cancel(ref)
		return nil, fmt.Errorf("save payment intent: %w", err)
	}

	metrics.IntentsCreated.WithLabelValues(string(req.Provider)).Inc()
	m.logger.Info("payment intent created",
		zap.String("reference_code", ref),
		zap.String("amount", req.Amount.String()),
		zap.String("provider", string(req.Provider)))

	if qrErr != nil {
		return intent, qrErr
	}
	return intent, nil
}

// RefreshQR asks the provider for a fresh asset for a pending intent.
func (m *Manager) RefreshQR(ctx context.Context, referenceCode string) (string, error) {
	intent, err := m.repo.Get(ctx, referenceCode)
	if err != nil {
		return "", err
	}
	if !intent.IsPending() {
		return "", ErrIntentNotPending
	}

	fresh, err := m.api.RefreshQR(ctx, referenceCode)
	if err != nil && !backend.IsTransient(err) {
		return "", fmt.Errorf("refresh QR: %w", err)
	}
	// on a transient provider error the configured sources still get a chance
	descriptor, err := m.qr.Resolve(ctx, intent, fresh)
	if err != nil {
		return "", err
	}

	intent.QRDescriptor = descriptor
	if err := m.repo.Save(ctx, intent); err != nil {
		return "", fmt.Errorf("save payment intent: %w", err)
	}
	return descriptor, nil
}

// Discard expires a pending intent and cancels it at the provider. Terminal
// intents are left as they are.
func (m *Manager) Discard(ctx context.Context, referenceCode string) error {
	moved, err := m.repo.TransitionStatus(ctx, referenceCode, domain.PaymentPending, domain.PaymentExpired)
	if err != nil && !errors.Is(err, ErrIntentNotFound) {
		return fmt.Errorf("discard payment intent: %w", err)
	}
	if moved {
		m.logger.Info("payment intent discarded", zap.String("reference_code", referenceCode))
		m.cancel(referenceCode)
	}
	return nil
}

// Transition moves a pending intent to a terminal status. It reports false
// when the intent had already left pending.
func (m *Manager) Transition(ctx context.Context, referenceCode string, to domain.PaymentStatus) (bool, error) {
	moved, err := m.repo.TransitionStatus(ctx, referenceCode, domain.PaymentPending, to)
	if err != nil {
		return false, fmt.Errorf("transition payment intent: %w", err)
	}
	if moved {
		m.logger.Info("payment intent resolved",
			zap.String("reference_code", referenceCode),
			zap.String("status", to.String()))
	}
	return moved, nil
}

func (m *Manager) Get(ctx context.Context, referenceCode string) (*domain.PaymentIntent, error) {
	return m.repo.Get(ctx, referenceCode)
}

// Open returns the owner's intent a new session should pick up, or
// ErrIntentNotFound.
func (m *Manager) Open(ctx context.Context, ownerID string) (*domain.PaymentIntent, error) {
	return m.repo.OpenByOwner(ctx, ownerID)
}

func (m *Manager) MarkOrderPlaced(ctx context.Context, referenceCode, orderID string) error {
	return m.repo.MarkOrderPlaced(ctx, referenceCode, orderID)
}

func (m *Manager) cancel(referenceCode string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.api.CancelPayment(ctx, referenceCode); err != nil {
		m.logger.Warn("cancel payment at provider failed",
			zap.String("reference_code", referenceCode),
			zap.Error(err))
	}
}
