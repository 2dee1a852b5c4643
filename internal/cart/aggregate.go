package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
)

// Aggregate owns one cart. Mutations are serialized and every one of them
// ends in Recompute, so readers never see a subtotal without its discount.
type Aggregate struct {
	mu    sync.Mutex
	store Store
	cart  *domain.Cart
	now   func() time.Time
}

func NewAggregate(store Store) *Aggregate {
	return &Aggregate{
		store: store,
		cart:  domain.NewCart(),
		now:   time.Now,
	}
}

// Load replaces the in-memory cart with the stored one.
func (a *Aggregate) Load(ctx context.Context) (*domain.Cart, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cart, err := a.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	cart.Recompute()
	a.cart = cart
	return cart.Clone(), nil
}

// Dispatch applies cmd to a copy of the cart, recomputes totals and persists.
// The copy becomes the current cart only after the store accepted it.
func (a *Aggregate) Dispatch(ctx context.Context, cmd Command) (*domain.Cart, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.cart.Clone()
	changes, err := cmd.apply(next)
	if err != nil {
		return nil, err
	}
	next.Recompute()
	next.UpdatedAt = a.now()

	if err := a.store.Persist(ctx, next, changes); err != nil {
		return nil, fmt.Errorf("persist cart: %w", err)
	}
	a.cart = next
	return next.Clone(), nil
}

// Snapshot returns a copy of the current cart.
func (a *Aggregate) Snapshot() *domain.Cart {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cart.Clone()
}

// Recompute re-derives totals from the current lines and discount.
func (a *Aggregate) Recompute() *domain.Cart {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cart.Recompute()
	return a.cart.Clone()
}

// Clear empties the cart in the store and in memory.
func (a *Aggregate) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	a.cart = domain.NewCart()
	a.cart.UpdatedAt = a.now()
	return nil
}
