package cart

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// flakyStore fails Persist while failing is set.
type flakyStore struct {
	mu      sync.Mutex
	cart    *domain.Cart
	failing bool
	changes [][]Change
}

func (f *flakyStore) Load(context.Context) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cart == nil {
		return domain.NewCart(), nil
	}
	return f.cart.Clone(), nil
}

func (f *flakyStore) Persist(_ context.Context, cart *domain.Cart, changes []Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("store unavailable")
	}
	f.cart = cart.Clone()
	f.changes = append(f.changes, changes)
	return nil
}

func (f *flakyStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cart = nil
	return nil
}

func vegetables() domain.LineItem {
	return domain.LineItem{ProductID: "rau-cai", Title: "Rau cải", UnitPrice: d("20000"), Quantity: d("1"), Unit: "KG"}
}

func TestAddItem_CanonicalizesAndQuantizes(t *testing.T) {
	agg := NewAggregate(&flakyStore{})
	item := vegetables()
	item.Quantity = d("1.3")

	c, err := agg.Dispatch(context.Background(), AddItem{Item: item})
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, domain.UnitKilogram, c.Items[0].Unit)
	assert.Equal(t, "1.5", c.Items[0].Quantity.String())
	assert.Equal(t, "30000", c.Subtotal.String())
}

func TestAddItem_MergesExistingLine(t *testing.T) {
	agg := NewAggregate(&flakyStore{})
	ctx := context.Background()

	_, err := agg.Dispatch(ctx, AddItem{Item: vegetables()})
	require.NoError(t, err)
	c, err := agg.Dispatch(ctx, AddItem{Item: vegetables()})
	require.NoError(t, err)

	require.Len(t, c.Items, 1)
	assert.Equal(t, "2", c.Items[0].Quantity.String())
}

func TestAddItem_RejectsZeroQuantity(t *testing.T) {
	agg := NewAggregate(&flakyStore{})
	item := vegetables()
	item.Quantity = d("0.2")

	_, err := agg.Dispatch(context.Background(), AddItem{Item: item})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	assert.True(t, agg.Snapshot().IsEmpty())
}

func TestIncrementDecrement_KilogramSequence(t *testing.T) {
	agg := NewAggregate(&flakyStore{})
	ctx := context.Background()
	item := vegetables()
	item.Quantity = d("0.5")
	_, err := agg.Dispatch(ctx, AddItem{Item: item})
	require.NoError(t, err)

	var seq []string
	for i := 0; i < 3; i++ {
		c, err := agg.Dispatch(ctx, Increment{ProductID: item.ProductID, Step: d("1")})
		require.NoError(t, err)
		seq = append(seq, c.Items[0].Quantity.String())
	}
	assert.Equal(t, []string{"1", "2", "3"}, seq)

	seq = nil
	for i := 0; i < 3; i++ {
		c, err := agg.Dispatch(ctx, Decrement{ProductID: item.ProductID, Step: d("1")})
		require.NoError(t, err)
		seq = append(seq, c.Items[0].Quantity.String())
	}
	assert.Equal(t, []string{"2", "1", "0.5"}, seq)

	c, err := agg.Dispatch(ctx, Decrement{ProductID: item.ProductID, Step: d("1")})
	require.NoError(t, err)
	assert.True(t, c.IsEmpty(), "decrement below the floor removes the line")
}

func TestSetQuantity_ZeroRemovesLine(t *testing.T) {
	store := &flakyStore{}
	agg := NewAggregate(store)
	ctx := context.Background()
	_, err := agg.Dispatch(ctx, AddItem{Item: domain.LineItem{ProductID: "nam", UnitPrice: d("15000"), Quantity: d("3"), Unit: "lạng"}})
	require.NoError(t, err)

	c, err := agg.Dispatch(ctx, SetQuantity{ProductID: "nam", Quantity: d("0")})
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	last := store.changes[len(store.changes)-1]
	require.Len(t, last, 1)
	assert.Nil(t, last[0].Line)
}

func TestDispatch_UnknownProduct(t *testing.T) {
	agg := NewAggregate(&flakyStore{})
	_, err := agg.Dispatch(context.Background(), Increment{ProductID: "missing"})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
	_, err = agg.Dispatch(context.Background(), RemoveItem{ProductID: "missing"})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestDispatch_PersistFailureKeepsPriorState(t *testing.T) {
	store := &flakyStore{}
	agg := NewAggregate(store)
	ctx := context.Background()
	_, err := agg.Dispatch(ctx, AddItem{Item: vegetables()})
	require.NoError(t, err)

	store.failing = true
	_, err = agg.Dispatch(ctx, Increment{ProductID: "rau-cai", Step: d("1")})
	require.Error(t, err)

	c := agg.Snapshot()
	assert.Equal(t, "1", c.Items[0].Quantity.String())
	assert.Equal(t, "20000", c.Subtotal.String())
}

func TestApplyCoupon_RequiresConfirmation(t *testing.T) {
	agg := NewAggregate(&flakyStore{})
	ctx := context.Background()
	_, err := agg.Dispatch(ctx, AddItem{Item: vegetables()})
	require.NoError(t, err)

	_, err = agg.Dispatch(ctx, ApplyCoupon{})
	assert.ErrorIs(t, err, domain.ErrCouponRejected)

	conf, err := domain.ConfirmCoupon("ECO10", domain.CouponValidation{Valid: true, Code: "ECO10", DiscountPercent: d("10")})
	require.NoError(t, err)
	c, err := agg.Dispatch(ctx, ApplyCoupon{Confirmation: conf})
	require.NoError(t, err)
	assert.Equal(t, "18000", c.TotalAfterDiscount.String())

	c, err = agg.Dispatch(ctx, ClearCoupon{})
	require.NoError(t, err)
	assert.Empty(t, c.CouponCode)
	assert.True(t, c.DiscountPercent.IsZero())
	assert.True(t, c.TotalAfterDiscount.Equal(c.Subtotal))
}

func TestDispatch_TotalsHoldAfterRandomSequence(t *testing.T) {
	agg := NewAggregate(&flakyStore{})
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	conf, err := domain.ConfirmCoupon("ECO15", domain.CouponValidation{Valid: true, Code: "ECO15", DiscountPercent: d("15")})
	require.NoError(t, err)

	products := []domain.LineItem{
		{ProductID: "a", UnitPrice: d("20000"), Quantity: d("0.5"), Unit: domain.UnitKilogram},
		{ProductID: "b", UnitPrice: d("8000"), Quantity: d("2"), Unit: domain.UnitHundredGram},
		{ProductID: "c", UnitPrice: d("35000"), Quantity: d("1"), Unit: domain.UnitBottle},
	}
	for i := 0; i < 200; i++ {
		p := products[rng.Intn(len(products))]
		var cmd Command
		switch rng.Intn(7) {
		case 0:
			cmd = AddItem{Item: p}
		case 1:
			cmd = Increment{ProductID: p.ProductID, Step: d("1")}
		case 2:
			cmd = Decrement{ProductID: p.ProductID, Step: d("1")}
		case 3:
			cmd = RemoveItem{ProductID: p.ProductID}
		case 4:
			cmd = SetQuantity{ProductID: p.ProductID, Quantity: decimal.NewFromFloat(rng.Float64() * 12)}
		case 5:
			cmd = ApplyCoupon{Confirmation: conf}
		default:
			cmd = ClearCoupon{}
		}
		_, _ = agg.Dispatch(ctx, cmd)

		c := agg.Snapshot()
		subtotal := decimal.Zero
		for _, it := range c.Items {
			assert.False(t, it.Quantity.IsZero(), "zero-quantity line persisted")
			subtotal = subtotal.Add(it.UnitPrice.Mul(it.Quantity))
		}
		want := subtotal.Mul(decimal.NewFromInt(100).Sub(c.DiscountPercent)).Div(decimal.NewFromInt(100))
		require.True(t, c.Subtotal.Equal(subtotal), "step %d", i)
		require.True(t, c.TotalAfterDiscount.Equal(want), "step %d", i)
		if c.CouponCode == "" {
			require.True(t, c.DiscountPercent.IsZero())
		}
	}
}

func TestLoad_RecomputesFromStore(t *testing.T) {
	store := &flakyStore{cart: &domain.Cart{
		Items:      []domain.LineItem{{ProductID: "a", UnitPrice: d("10000"), Quantity: d("2"), Unit: domain.UnitBag}},
		CouponCode: "",
		Subtotal:   d("999"),
	}}
	agg := NewAggregate(store)

	c, err := agg.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "20000", c.Subtotal.String())
}

func TestClear_EmptiesStoreAndMemory(t *testing.T) {
	store := &flakyStore{}
	agg := NewAggregate(store)
	ctx := context.Background()
	_, err := agg.Dispatch(ctx, AddItem{Item: vegetables()})
	require.NoError(t, err)

	require.NoError(t, agg.Clear(ctx))
	assert.True(t, agg.Snapshot().IsEmpty())
	assert.Nil(t, store.cart)
}
