package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/backend"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockBackend struct {
	mu        sync.Mutex
	created   []backend.CreatePaymentRequest
	canceled  []string
	qrURL     string
	amount    *decimal.Decimal
	createErr error
	refresh   string
}

func (m *mockBackend) CreatePayment(_ context.Context, _ string, req backend.CreatePaymentRequest) (*backend.PaymentDTO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	amount := req.Amount
	if m.amount != nil {
		amount = *m.amount
	}
	return &backend.PaymentDTO{ReferenceCode: req.ReferenceCode, Amount: amount, QRURL: m.qrURL, Status: "pending"}, nil
}

func (m *mockBackend) RefreshQR(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh, nil
}

func (m *mockBackend) CancelPayment(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled = append(m.canceled, ref)
	return nil
}

func (m *mockBackend) Canceled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.canceled...)
}

func newTestManager(api Backend, repo Repository) *Manager {
	qr := NewQRResolver(nil, time.Second, zap.NewNop())
	m := NewManager(api, repo, qr, "ECO", zap.NewNop())
	m.now = func() time.Time { return time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC) }
	return m
}

func validRequest() CreateRequest {
	return CreateRequest{
		OwnerID:      "u1",
		CustomerName: "Trần Bình",
		Amount:       decimal.NewFromInt(48000),
		Provider:     domain.ProviderBankTransferQR,
		ItemCount:    1,
	}
}

func TestCreate_BindsAmountAndMemo(t *testing.T) {
	api := &mockBackend{qrURL: "000201INLINEPAYLOAD"}
	repo := NewMemoryRepository()
	m := newTestManager(api, repo)

	intent, err := m.Create(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentPending, intent.Status)
	assert.Equal(t, "48000", intent.Amount.String())
	assert.Equal(t, "000201INLINEPAYLOAD", intent.QRDescriptor)
	assert.Contains(t, intent.TransferMemo, "TRAN BINH 20052026")
	assert.Contains(t, intent.TransferMemo, intent.ReferenceCode)

	stored, err := repo.Get(context.Background(), intent.ReferenceCode)
	require.NoError(t, err)
	assert.Equal(t, intent.ReferenceCode, stored.ReferenceCode)
	require.Len(t, api.created, 1)
	assert.Equal(t, intent.TransferMemo, api.created[0].Memo)
}

func TestCreate_Rejections(t *testing.T) {
	cases := map[string]struct {
		mutate func(*CreateRequest)
		want   error
	}{
		"empty cart":    {func(r *CreateRequest) { r.ItemCount = 0 }, ErrEmptyCart},
		"guest":         {func(r *CreateRequest) { r.OwnerID = "" }, ErrUnauthenticated},
		"cash provider": {func(r *CreateRequest) { r.Provider = "cod" }, ErrUnsupportedProvider},
		"non-positive":  {func(r *CreateRequest) { r.Amount = decimal.Zero }, ErrInvalidAmount},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			api := &mockBackend{}
			m := newTestManager(api, NewMemoryRepository())
			req := validRequest()
			tc.mutate(&req)

			intent, err := m.Create(context.Background(), req)
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, intent)
			assert.Empty(t, api.created)
		})
	}
}

func TestCreate_ProviderAmountMismatchCancels(t *testing.T) {
	other := decimal.NewFromInt(47000)
	api := &mockBackend{amount: &other}
	m := newTestManager(api, NewMemoryRepository())

	_, err := m.Create(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Len(t, api.Canceled(), 1)
}

func TestCreate_BackendError(t *testing.T) {
	api := &mockBackend{createErr: errors.New("connection refused")}
	m := newTestManager(api, NewMemoryRepository())

	_, err := m.Create(context.Background(), validRequest())
	assert.ErrorContains(t, err, "create payment")
}

func TestCreate_QRUnavailableStillReturnsIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	api := &mockBackend{qrURL: srv.URL + "/gone.png"}
	m := newTestManager(api, NewMemoryRepository())

	intent, err := m.Create(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrQRUnavailable)
	require.NotNil(t, intent)
	assert.True(t, intent.IsPending())
}

func TestDiscard_ExpiresPendingOnly(t *testing.T) {
	api := &mockBackend{qrURL: "INLINE"}
	repo := NewMemoryRepository()
	m := newTestManager(api, repo)
	ctx := context.Background()

	intent, err := m.Create(ctx, validRequest())
	require.NoError(t, err)
	require.NoError(t, m.Discard(ctx, intent.ReferenceCode))

	stored, err := repo.Get(ctx, intent.ReferenceCode)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentExpired, stored.Status)
	assert.Equal(t, []string{intent.ReferenceCode}, api.Canceled())

	// a second discard is a no-op
	require.NoError(t, m.Discard(ctx, intent.ReferenceCode))
	assert.Len(t, api.Canceled(), 1)
}

func TestTransition_PaidIsNeverOverwritten(t *testing.T) {
	api := &mockBackend{qrURL: "INLINE"}
	m := newTestManager(api, NewMemoryRepository())
	ctx := context.Background()
	intent, err := m.Create(ctx, validRequest())
	require.NoError(t, err)

	moved, err := m.Transition(ctx, intent.ReferenceCode, domain.PaymentPaid)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = m.Transition(ctx, intent.ReferenceCode, domain.PaymentFailed)
	require.NoError(t, err)
	assert.False(t, moved)

	require.NoError(t, m.Discard(ctx, intent.ReferenceCode))
	stored, err := m.Get(ctx, intent.ReferenceCode)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, stored.Status)
}

func TestRefreshQR(t *testing.T) {
	api := &mockBackend{qrURL: "INLINE-1", refresh: "INLINE-2"}
	m := newTestManager(api, NewMemoryRepository())
	ctx := context.Background()
	intent, err := m.Create(ctx, validRequest())
	require.NoError(t, err)

	qr, err := m.RefreshQR(ctx, intent.ReferenceCode)
	require.NoError(t, err)
	assert.Equal(t, "INLINE-2", qr)

	_, err = m.Transition(ctx, intent.ReferenceCode, domain.PaymentExpired)
	require.NoError(t, err)
	_, err = m.RefreshQR(ctx, intent.ReferenceCode)
	assert.ErrorIs(t, err, ErrIntentNotPending)
}

func TestOpen_PrefersUnplacedPaidIntent(t *testing.T) {
	api := &mockBackend{qrURL: "INLINE"}
	m := newTestManager(api, NewMemoryRepository())
	ctx := context.Background()
	clock := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	_, err := m.Open(ctx, "u1")
	assert.ErrorIs(t, err, ErrIntentNotFound)

	req := validRequest()
	req.ShippingFee = decimal.NewFromInt(30000)
	older, err := m.Create(ctx, req)
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	newer, err := m.Create(ctx, req)
	require.NoError(t, err)

	got, err := m.Open(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, newer.ReferenceCode, got.ReferenceCode)
	assert.Equal(t, "30000", got.ShippingFee.String())

	_, err = m.Transition(ctx, older.ReferenceCode, domain.PaymentPaid)
	require.NoError(t, err)
	got, err = m.Open(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, older.ReferenceCode, got.ReferenceCode, "paid without an order comes first")

	require.NoError(t, m.MarkOrderPlaced(ctx, older.ReferenceCode, "ord-1"))
	got, err = m.Open(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, newer.ReferenceCode, got.ReferenceCode)

	require.NoError(t, m.Discard(ctx, newer.ReferenceCode))
	_, err = m.Open(ctx, "u1")
	assert.ErrorIs(t, err, ErrIntentNotFound)

	_, err = m.Open(ctx, "u2")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}
