package cart

import (
	"context"
	"errors"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrInvalidQuantity = errors.New("quantity must be positive for its unit")
)

// Change describes one line touched by a mutation. Line is nil when the line
// was removed. CouponCleared marks the removal of the active coupon and
// carries no line.
type Change struct {
	ProductID     string
	Line          *domain.LineItem
	CouponCleared bool
}

// Store persists one logical cart. Guest and signed-in carts implement the
// same contract so the aggregate arithmetic never depends on where the cart
// lives.
type Store interface {
	Load(ctx context.Context) (*domain.Cart, error)
	Persist(ctx context.Context, cart *domain.Cart, changes []Change) error
	Clear(ctx context.Context) error
}
