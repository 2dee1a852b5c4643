package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/backend"
	"github.com/htbacgiang/ecobacgiang/internal/cart"
	"github.com/htbacgiang/ecobacgiang/internal/confirm"
	"github.com/htbacgiang/ecobacgiang/internal/coupon"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/htbacgiang/ecobacgiang/internal/payment"
	"github.com/htbacgiang/ecobacgiang/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend stands in for the storefront REST backend: coupons, payments,
// orders, status polls and signed-in carts.
type fakeBackend struct {
	mu sync.Mutex

	// coupons replays discount percents per code and repeats the last one;
	// an empty string rejects the code
	coupons     map[string][]string
	couponCalls map[string]int

	payments   []backend.CreatePaymentRequest
	paymentErr error
	canceled   []string
	statuses   map[string]string

	orders     []*domain.Order
	orderKeys  []string
	orderErr   error
	orderDelay time.Duration
	confirmed  []string

	carts map[string]*domain.Cart
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		coupons:     make(map[string][]string),
		couponCalls: make(map[string]int),
		statuses:    make(map[string]string),
		carts:       make(map[string]*domain.Cart),
	}
}

// ApplyCoupon attaches a confirmed code to the signed-in cart, as the backend
// does.
func (f *fakeBackend) ApplyCoupon(_ context.Context, userID string, code string) (domain.CouponValidation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	answers, ok := f.coupons[code]
	if !ok || len(answers) == 0 {
		return domain.CouponValidation{Valid: false, Message: "unknown code"}, nil
	}
	i := f.couponCalls[code]
	if i >= len(answers) {
		i = len(answers) - 1
	}
	f.couponCalls[code]++
	if answers[i] == "" {
		return domain.CouponValidation{Valid: false, Message: "usage limit reached"}, nil
	}
	pct := decimal.RequireFromString(answers[i])
	if c, ok := f.carts[userID]; ok && userID != "" {
		c.CouponCode = code
		c.DiscountPercent = pct
	}
	return domain.CouponValidation{Valid: true, Code: code, DiscountPercent: pct}, nil
}

func (f *fakeBackend) CreatePayment(_ context.Context, _ string, req backend.CreatePaymentRequest) (*backend.PaymentDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paymentErr != nil {
		return nil, f.paymentErr
	}
	f.payments = append(f.payments, req)
	return &backend.PaymentDTO{
		ReferenceCode: req.ReferenceCode,
		Amount:        req.Amount,
		Provider:      req.Provider,
		QRURL:         "qr:" + req.ReferenceCode,
		Status:        "pending",
	}, nil
}

func (f *fakeBackend) RefreshQR(_ context.Context, ref string) (string, error) {
	return "qr:" + ref + ":refreshed", nil
}

func (f *fakeBackend) CancelPayment(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, ref)
	return nil
}

func (f *fakeBackend) PaymentStatus(_ context.Context, ref string) (*backend.PaymentStatusDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[ref]
	if !ok {
		status = "pending"
	}
	return &backend.PaymentStatusDTO{ReferenceCode: ref, Status: status}, nil
}

func (f *fakeBackend) CreateOrder(_ context.Context, key string, order *domain.Order) (string, error) {
	if f.orderDelay > 0 {
		time.Sleep(f.orderDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return "", f.orderErr
	}
	f.orders = append(f.orders, order)
	f.orderKeys = append(f.orderKeys, key)
	return fmt.Sprintf("order-%d", len(f.orders)), nil
}

func (f *fakeBackend) ConfirmPayment(_ context.Context, _, ref, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, ref)
	return nil
}

func (f *fakeBackend) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.carts[userID]; ok {
		return c.Clone(), nil
	}
	return domain.NewCart(), nil
}

func (f *fakeBackend) UpsertItem(_ context.Context, userID string, item domain.LineItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.carts[userID]
	if !ok {
		c = domain.NewCart()
		f.carts[userID] = c
	}
	if idx, found := c.Find(item.ProductID); found {
		c.Items[idx] = item
	} else {
		c.Items = append(c.Items, item)
	}
	return nil
}

func (f *fakeBackend) RemoveItem(_ context.Context, userID, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.carts[userID]; ok {
		c.Remove(productID)
	}
	return nil
}

func (f *fakeBackend) ClearCart(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, userID)
	return nil
}

func (f *fakeBackend) ClearCoupon(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.carts[userID]; ok {
		c.CouponCode = ""
		c.DiscountPercent = decimal.Zero
	}
	return nil
}

func (f *fakeBackend) setStatus(ref, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[ref] = status
}

func (f *fakeBackend) setPaymentErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentErr = err
}

func (f *fakeBackend) setOrderErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderErr = err
}

func (f *fakeBackend) Orders() []*domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Order(nil), f.orders...)
}

func (f *fakeBackend) Payments() []backend.CreatePaymentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.CreatePaymentRequest(nil), f.payments...)
}

func (f *fakeBackend) Canceled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.canceled...)
}

func (f *fakeBackend) Confirmed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.confirmed...)
}

type recordingAudit struct {
	mu         sync.Mutex
	placements []*repository.Placement
}

func (r *recordingAudit) RecordPlacement(_ context.Context, p *repository.Placement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.placements {
		if existing.Key == p.Key {
			return repository.ErrDuplicatePlacement
		}
	}
	r.placements = append(r.placements, p)
	return nil
}

func (r *recordingAudit) Placements() []*repository.Placement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*repository.Placement(nil), r.placements...)
}

type recordingEvents struct {
	mu     sync.Mutex
	orders []string
}

func (r *recordingEvents) PublishOrderPlaced(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order.ID)
	return nil
}

func (r *recordingEvents) Orders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.orders...)
}

type harness struct {
	api      *fakeBackend
	hub      *confirm.Hub
	intents  *payment.MemoryRepository
	manager  *payment.Manager
	guard    *MemoryGuard
	audit    *recordingAudit
	events   *recordingEvents
	orch     *Orchestrator
	deps     Deps
	registry *Registry
}

func pushOnly() confirm.PollPolicy {
	return confirm.PollPolicy{Interval: time.Hour, MaxAttempts: 1}
}

func fastPoll(attempts int) confirm.PollPolicy {
	return confirm.PollPolicy{Interval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond, MaxAttempts: attempts}
}

func newHarness(t *testing.T, poll confirm.PollPolicy) *harness {
	t.Helper()
	logger := zap.NewNop()
	h := &harness{
		api:     newFakeBackend(),
		hub:     confirm.NewHub(),
		intents: payment.NewMemoryRepository(),
		guard:   NewMemoryGuard(),
		audit:   &recordingAudit{},
		events:  &recordingEvents{},
	}
	h.manager = payment.NewManager(h.api, h.intents, payment.NewQRResolver(nil, time.Second, logger), "ECO", logger)
	h.orch = NewOrchestrator(h.api, h.guard, h.manager, logger).WithAudit(h.audit).WithEvents(h.events)
	h.deps = Deps{
		Coupons:      coupon.NewEngine(h.api, logger).WithRetry(1, 0),
		Intents:      h.manager,
		Orchestrator: h.orch,
		Subscriber:   h.hub,
		Status:       h.api,
		Poll:         poll,
		ShippingFee:  decimal.NewFromInt(30000),
		Logger:       logger,
	}
	h.registry = NewRegistry(nil, cart.NewRemoteStore(h.api), h.deps, time.Hour)
	t.Cleanup(func() {
		h.registry.Close()
		h.hub.Close()
	})
	return h
}

func (h *harness) userSession(t *testing.T, userID string) *Session {
	t.Helper()
	s, err := h.registry.Session(context.Background(), Identity{UserID: userID})
	require.NoError(t, err)
	return s
}

func greens(kg int64) domain.LineItem {
	return domain.LineItem{
		ProductID: "rau-muong",
		Title:     "Rau muống",
		UnitPrice: decimal.NewFromInt(20000),
		Quantity:  decimal.NewFromInt(kg),
		Unit:      domain.UnitKilogram,
	}
}

func shipping() domain.ShippingInfo {
	return domain.ShippingInfo{Name: "Nguyễn Văn An", Phone: "0912345678", Address: "12 Lý Thường Kiệt, Hà Nội"}
}

func fee(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func hasNotice(v View, code NoticeCode) bool {
	for _, n := range v.Notices {
		if n.Code == code {
			return true
		}
	}
	return false
}
