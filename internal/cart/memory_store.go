package cart

import (
	"context"
	"sync"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
)

// MemoryStore is a Store backed by a value in memory.
type MemoryStore struct {
	mu   sync.Mutex
	cart *domain.Cart
}

func NewMemoryStore(initial *domain.Cart) *MemoryStore {
	if initial == nil {
		initial = domain.NewCart()
	}
	return &MemoryStore{cart: initial.Clone()}
}

func (m *MemoryStore) Load(context.Context) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.Clone(), nil
}

func (m *MemoryStore) Persist(_ context.Context, cart *domain.Cart, _ []Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart = cart.Clone()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart = domain.NewCart()
	return nil
}
