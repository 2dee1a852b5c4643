package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/cart"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paidIntent(t *testing.T, h *harness, ref string, amount int64) *domain.PaymentIntent {
	t.Helper()
	intent := &domain.PaymentIntent{
		ReferenceCode: ref,
		Amount:        decimal.NewFromInt(amount),
		Provider:      domain.ProviderBankTransferQR,
		Status:        domain.PaymentPending,
		OwnerID:       "u1",
	}
	require.NoError(t, h.intents.Save(context.Background(), intent))
	moved, err := h.intents.TransitionStatus(context.Background(), ref, domain.PaymentPending, domain.PaymentPaid)
	require.NoError(t, err)
	require.True(t, moved)
	intent.Status = domain.PaymentPaid
	return intent
}

func cartWith(t *testing.T, items ...domain.LineItem) *cart.Aggregate {
	t.Helper()
	agg := cart.NewAggregate(cart.NewMemoryStore(nil))
	for _, it := range items {
		_, err := agg.Dispatch(context.Background(), cart.AddItem{Item: it})
		require.NoError(t, err)
	}
	return agg
}

func prepaidRequest(agg *cart.Aggregate, intent *domain.PaymentIntent) PlaceRequest {
	return PlaceRequest{
		Key:         intent.ReferenceCode,
		OwnerID:     "u1",
		Cart:        agg,
		Shipping:    shipping(),
		ShippingFee: decimal.NewFromInt(30000),
		Method:      domain.MethodBankTransferQR,
		Intent:      intent,
	}
}

func TestPlace_PaidIntentCreatesOrder(t *testing.T) {
	h := newHarness(t, pushOnly())
	agg := cartWith(t, greens(1))
	intent := paidIntent(t, h, "ECOPAID00001", 50000)

	res, err := h.orch.Place(context.Background(), prepaidRequest(agg, intent))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "order-1", res.OrderID)
	require.NotNil(t, res.Order)
	assert.Equal(t, "ECOPAID00001", res.Order.ReferenceCode)
	assert.Equal(t, domain.PaymentPaid, res.Order.PaymentStatus)
	assert.Equal(t, "50000", res.Order.Total.String())

	assert.True(t, agg.Snapshot().IsEmpty(), "cart cleared on success")

	stored, err := h.intents.Get(context.Background(), "ECOPAID00001")
	require.NoError(t, err)
	assert.Equal(t, "order-1", stored.OrderID)
	assert.Equal(t, []string{"ECOPAID00001"}, h.api.Confirmed())
	require.Len(t, h.audit.Placements(), 1)
	assert.Equal(t, "order-1", h.audit.Placements()[0].OrderID)
	assert.Equal(t, []string{"order-1"}, h.events.Orders())
}

func TestPlace_MissingShippingDoesNotConsumeGuard(t *testing.T) {
	h := newHarness(t, pushOnly())
	agg := cartWith(t, greens(1))
	intent := paidIntent(t, h, "ECOSHIP0001", 50000)

	req := prepaidRequest(agg, intent)
	req.Shipping = domain.ShippingInfo{Name: "An"}
	_, err := h.orch.Place(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrShippingIncomplete)
	assert.Empty(t, h.api.Orders())

	req.Shipping = shipping()
	res, err := h.orch.Place(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Len(t, h.api.Orders(), 1)
}

func TestPlace_ConcurrentPaidDeliveriesCreateOneOrder(t *testing.T) {
	h := newHarness(t, pushOnly())
	h.api.orderDelay = 20 * time.Millisecond
	agg := cartWith(t, greens(1))
	intent := paidIntent(t, h, "ECODUAL0001", 50000)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		placed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.Place(context.Background(), prepaidRequest(agg, intent))
			if err != nil {
				assert.ErrorIs(t, err, ErrPlacementInProgress)
				return
			}
			if !res.Duplicate {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, placed)
	assert.Len(t, h.api.Orders(), 1)

	res, err := h.orch.Place(context.Background(), prepaidRequest(agg, intent))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "order-1", res.OrderID)
}

func TestPlace_FailureKeepsPaidStatus(t *testing.T) {
	h := newHarness(t, pushOnly())
	agg := cartWith(t, greens(1))
	intent := paidIntent(t, h, "ECOFAIL0001", 50000)
	h.api.setOrderErr(errors.New("orders service down"))

	_, err := h.orch.Place(context.Background(), prepaidRequest(agg, intent))
	assert.ErrorIs(t, err, ErrPlacementFailed)

	stored, err := h.intents.Get(context.Background(), "ECOFAIL0001")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, stored.Status)
	assert.Empty(t, stored.OrderID)
	assert.False(t, agg.Snapshot().IsEmpty(), "cart kept for retry")

	h.api.setOrderErr(nil)
	res, err := h.orch.Place(context.Background(), prepaidRequest(agg, intent))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
}

func TestPlace_Rejections(t *testing.T) {
	h := newHarness(t, pushOnly())
	pending := &domain.PaymentIntent{ReferenceCode: "ECOPEND0001", Amount: decimal.NewFromInt(50000), Status: domain.PaymentPending}

	tests := map[string]struct {
		req     func() PlaceRequest
		wantErr error
	}{
		"pending intent": {
			req:     func() PlaceRequest { return prepaidRequest(cartWith(t, greens(1)), pending) },
			wantErr: ErrPaymentNotConfirmed,
		},
		"prepaid without intent": {
			req: func() PlaceRequest {
				r := prepaidRequest(cartWith(t, greens(1)), pending)
				r.Intent = nil
				return r
			},
			wantErr: ErrPaymentNotConfirmed,
		},
		"empty cart": {
			req: func() PlaceRequest {
				r := prepaidRequest(cartWith(t), paidIntent(t, h, "ECOEMPTY001", 30000))
				return r
			},
			wantErr: ErrEmptyCart,
		},
		"paid amount differs from cart": {
			req:     func() PlaceRequest { return prepaidRequest(cartWith(t, greens(2)), paidIntent(t, h, "ECOMISM0001", 50000)) },
			wantErr: ErrPaidAmountMismatch,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req := tt.req()
			_, err := h.orch.Place(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)

			// the guard stays free so the placement can be retried
			_, placed, gerr := h.guard.PlacedOrder(context.Background(), req.Key)
			require.NoError(t, gerr)
			assert.False(t, placed)
		})
	}
	assert.Empty(t, h.api.Orders())
}

func TestPlace_CashOnDelivery(t *testing.T) {
	h := newHarness(t, pushOnly())
	agg := cartWith(t, greens(1))

	res, err := h.orch.Place(context.Background(), PlaceRequest{
		Key:         "checkout-key-1",
		OwnerID:     "guest:device-1",
		Cart:        agg,
		Shipping:    shipping(),
		ShippingFee: decimal.NewFromInt(30000),
		Method:      domain.MethodCashOnDelivery,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, res.Order.PaymentStatus)
	assert.Empty(t, res.Order.ReferenceCode)
	assert.Empty(t, h.api.Confirmed())
	assert.Equal(t, []string{"checkout-key-1"}, h.api.orderKeys)
}
