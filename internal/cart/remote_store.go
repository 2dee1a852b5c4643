package cart

import (
	"context"
	"fmt"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// RemoteAPI is the part of the backend client the signed-in cart needs.
type RemoteAPI interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	UpsertItem(ctx context.Context, userID string, item domain.LineItem) error
	RemoveItem(ctx context.Context, userID, productID string) error
	ClearCart(ctx context.Context, userID string) error
	ClearCoupon(ctx context.Context, userID string) error
}

// RemoteStore persists signed-in carts through the backend. Concurrent loads
// for the same user share one request.
type RemoteStore struct {
	api   RemoteAPI
	sfg   singleflight.Group
	limit int
}

func NewRemoteStore(api RemoteAPI) *RemoteStore {
	return &RemoteStore{api: api, limit: 4}
}

func (s *RemoteStore) Bind(userID string) Store {
	return &userStore{remote: s, userID: userID}
}

func (s *RemoteStore) load(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		return s.api.GetCart(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("load remote cart: %w", err)
	}
	// the shared result must not be mutated by one of the callers
	cart := v.(*domain.Cart).Clone()
	if cart.Items == nil {
		cart.Items = []domain.LineItem{}
	}
	cart.Normalize()
	cart.Recompute()
	return cart, nil
}

type userStore struct {
	remote *RemoteStore
	userID string
}

func (u *userStore) Load(ctx context.Context) (*domain.Cart, error) {
	return u.remote.load(ctx, u.userID)
}

// Persist pushes only the touched lines. The backend attaches a coupon during
// its own validation call, so only a cleared coupon has to be sent.
func (u *userStore) Persist(ctx context.Context, _ *domain.Cart, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.remote.limit)
	for _, ch := range changes {
		ch := ch
		g.Go(func() error {
			if ch.CouponCleared {
				return u.remote.api.ClearCoupon(gctx, u.userID)
			}
			if ch.Line == nil {
				return u.remote.api.RemoveItem(gctx, u.userID, ch.ProductID)
			}
			return u.remote.api.UpsertItem(gctx, u.userID, *ch.Line)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("persist remote cart: %w", err)
	}
	return nil
}

func (u *userStore) Clear(ctx context.Context) error {
	if err := u.remote.api.ClearCart(ctx, u.userID); err != nil {
		return fmt.Errorf("clear remote cart: %w", err)
	}
	return nil
}
