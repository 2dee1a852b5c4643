package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
)

var ErrIntentNotFound = errors.New("payment intent not found")

// Repository records intents and their transitions. TransitionStatus only
// moves an intent whose current status equals from, so a terminal status is
// never overwritten.
type Repository interface {
	Save(ctx context.Context, intent *domain.PaymentIntent) error
	Get(ctx context.Context, referenceCode string) (*domain.PaymentIntent, error)
	TransitionStatus(ctx context.Context, referenceCode string, from, to domain.PaymentStatus) (bool, error)
	MarkOrderPlaced(ctx context.Context, referenceCode, orderID string) error
	// OpenByOwner returns the owner's newest intent that still needs a session:
	// a paid one without an order, else a pending one.
	OpenByOwner(ctx context.Context, ownerID string) (*domain.PaymentIntent, error)
}

// MemoryRepository is a process-local Repository.
type MemoryRepository struct {
	mu      sync.Mutex
	intents map[string]*domain.PaymentIntent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{intents: make(map[string]*domain.PaymentIntent)}
}

func (m *MemoryRepository) Save(_ context.Context, intent *domain.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[intent.ReferenceCode] = intent.Clone()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, referenceCode string) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[referenceCode]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return intent.Clone(), nil
}

func (m *MemoryRepository) TransitionStatus(_ context.Context, referenceCode string, from, to domain.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[referenceCode]
	if !ok {
		return false, ErrIntentNotFound
	}
	if intent.Status != from || !domain.CanTransitionTo(from, to) {
		return false, nil
	}
	intent.Status = to
	intent.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryRepository) MarkOrderPlaced(_ context.Context, referenceCode, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[referenceCode]
	if !ok {
		return ErrIntentNotFound
	}
	intent.OrderID = orderID
	intent.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) OpenByOwner(_ context.Context, ownerID string) (*domain.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paid, pending *domain.PaymentIntent
	for _, intent := range m.intents {
		if intent.OwnerID != ownerID {
			continue
		}
		switch {
		case intent.Status == domain.PaymentPaid && intent.OrderID == "":
			if paid == nil || intent.CreatedAt.After(paid.CreatedAt) {
				paid = intent
			}
		case intent.Status == domain.PaymentPending:
			if pending == nil || intent.CreatedAt.After(pending.CreatedAt) {
				pending = intent
			}
		}
	}
	if paid != nil {
		return paid.Clone(), nil
	}
	if pending != nil {
		return pending.Clone(), nil
	}
	return nil, ErrIntentNotFound
}
