package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/htbacgiang/ecobacgiang/internal/cart"
	"github.com/htbacgiang/ecobacgiang/internal/confirm"
	"github.com/htbacgiang/ecobacgiang/internal/coupon"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/htbacgiang/ecobacgiang/internal/metrics"
	"github.com/htbacgiang/ecobacgiang/internal/payment"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrCartLocked         = errors.New("cart is locked until the paid order is placed")
	ErrUnknownMethod      = errors.New("unknown payment method")
	ErrNoPendingIntent    = errors.New("no pending payment intent")
	ErrInvalidShippingFee = errors.New("shipping fee must not be negative")
	ErrSessionClosed      = errors.New("checkout session closed")
)

type NoticeCode string

const (
	NoticePaymentAmountUpdated  NoticeCode = "payment_amount_updated"
	NoticeCouponRemoved         NoticeCode = "coupon_removed"
	NoticePollTimeout           NoticeCode = "poll_timeout"
	NoticePaymentFallback       NoticeCode = "payment_method_fallback"
	NoticeQRUnavailable         NoticeCode = "qr_unavailable"
	NoticePaymentExpired        NoticeCode = "payment_expired"
	NoticePaymentFailed         NoticeCode = "payment_failed"
	NoticePaymentAmountMismatch NoticeCode = "payment_amount_mismatch"
	NoticeShippingRequired      NoticeCode = "shipping_required"
	NoticeOrderPlaced           NoticeCode = "order_placed"
	NoticePlacementFailed       NoticeCode = "order_placement_failed"
	NoticePaymentUnavailable    NoticeCode = "payment_unavailable"
)

// Notice is informational; failures are returned as errors.
type Notice struct {
	Code          NoticeCode `json:"code"`
	Message       string     `json:"message"`
	ReferenceCode string     `json:"reference_code,omitempty"`
}

type Identity struct {
	UserID   string
	DeviceID string
}

func (id Identity) SignedIn() bool {
	return id.UserID != ""
}

// OwnerID is the order owner: the user, or the device for guests.
func (id Identity) OwnerID() string {
	if id.UserID != "" {
		return id.UserID
	}
	return "guest:" + id.DeviceID
}

// Deps are shared by every session of a registry.
type Deps struct {
	Coupons      *coupon.Engine
	Intents      IntentService
	Orchestrator *Orchestrator
	// Subscriber may be nil; confirmation then relies on polling alone.
	Subscriber  confirm.Subscriber
	Status      confirm.StatusSource
	Poll        confirm.PollPolicy
	ShippingFee decimal.Decimal
	Logger      *zap.Logger
}

type View struct {
	Cart        *domain.Cart          `json:"cart"`
	Method      domain.PaymentMethod  `json:"payment_method"`
	ShippingFee decimal.Decimal       `json:"shipping_fee"`
	Payable     decimal.Decimal       `json:"payable"`
	Shipping    domain.ShippingInfo   `json:"shipping"`
	Intent      *domain.PaymentIntent `json:"intent,omitempty"`
	OrderID     string                `json:"order_id,omitempty"`
	Notices     []Notice              `json:"notices,omitempty"`
}

// Session owns one cart and at most one live payment intent. Every
// operation runs under the session lock: a cart mutation, then coupon
// revalidation, then amount reconciliation. Confirmation events are applied
// under the same lock and only for the current intent.
type Session struct {
	mu         sync.Mutex
	identity   Identity
	store      cart.Store
	agg        *cart.Aggregate
	deps       Deps
	reconciler *Reconciler
	logger     *zap.Logger

	loaded      bool
	closed      bool
	method      domain.PaymentMethod
	shippingFee decimal.Decimal
	shipping    domain.ShippingInfo
	intent      *domain.PaymentIntent
	listener    *confirm.Listener
	checkoutKey string
	orderID     string
	notices     []Notice
	lastSeen    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewSession(identity Identity, store cart.Store, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	logger := deps.Logger.With(zap.String("component", "session"), zap.String("owner_id", identity.OwnerID()))
	s := &Session{
		identity:    identity,
		store:       store,
		agg:         cart.NewAggregate(store),
		deps:        deps,
		reconciler:  NewReconciler(deps.Intents, deps.Logger),
		logger:      logger,
		method:      domain.MethodCashOnDelivery,
		shippingFee: deps.ShippingFee,
		checkoutKey: uuid.NewString(),
		ctx:         ctx,
		cancel:      cancel,
		now:         time.Now,
	}
	s.touch()
	return s
}

func (s *Session) Identity() Identity {
	return s.identity
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch() {
	s.lastSeen.Store(s.now().UnixNano())
}

// View returns the current state and drains pending notices.
func (s *Session) View(ctx context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return View{}, err
	}
	return s.view(), nil
}

// Mutate applies a cart command.
func (s *Session) Mutate(ctx context.Context, cmd cart.Command) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return View{}, err
	}
	if _, err := s.agg.Dispatch(ctx, cmd); err != nil {
		return View{}, err
	}
	if err := s.revalidate(ctx); err != nil {
		return View{}, err
	}
	s.reconcileOrNotify(ctx)
	return s.view(), nil
}

func (s *Session) ApplyCoupon(ctx context.Context, code string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return View{}, err
	}
	if _, err := s.deps.Coupons.Apply(ctx, s.identity.UserID, s.agg, code); err != nil {
		return View{}, err
	}
	s.reconcileOrNotify(ctx)
	return s.view(), nil
}

func (s *Session) ClearCoupon(ctx context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return View{}, err
	}
	if _, err := s.deps.Coupons.Clear(ctx, s.agg); err != nil {
		return View{}, err
	}
	s.reconcileOrNotify(ctx)
	return s.view(), nil
}

func (s *Session) ClearCart(ctx context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return View{}, err
	}
	if err := s.agg.Clear(ctx); err != nil {
		return View{}, err
	}
	s.reconcileOrNotify(ctx)
	return s.view(), nil
}

// UpdateShipping rejects incomplete info without changing state.
func (s *Session) UpdateShipping(ctx context.Context, info domain.ShippingInfo) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return View{}, err
	}
	if err := info.Validate(); err != nil {
		return View{}, err
	}
	s.shipping = info
	return s.view(), nil
}

// SelectPayment switches the payment method. fee, when set, replaces the
// shipping fee. A prepaid method on an empty or guest cart falls back to
// cash on delivery with a notice.
func (s *Session) SelectPayment(ctx context.Context, method domain.PaymentMethod, fee *decimal.Decimal) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return View{}, err
	}
	if !method.Valid() {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if fee != nil {
		if fee.IsNegative() {
			return View{}, ErrInvalidShippingFee
		}
		s.shippingFee = *fee
	}

	if method != s.method {
		s.dropIntent(ctx)
	}
	c := s.agg.Snapshot()
	if method.RequiresPrepayment() && (c.IsEmpty() || !s.identity.SignedIn()) {
		reason := "sign in to pay online"
		if c.IsEmpty() {
			reason = "cart is empty"
		}
		s.dropIntent(ctx)
		s.method = domain.MethodCashOnDelivery
		s.notify(NoticePaymentFallback, "switched to cash on delivery: "+reason, "")
		return s.view(), nil
	}

	s.method = method
	if s.intent != nil && !s.intent.IsPending() {
		// expired or failed; the shopper is restarting payment
		s.intent = nil
	}
	if err := s.reconcile(ctx); err != nil {
		return View{}, err
	}
	return s.view(), nil
}

func (s *Session) RefreshQR(ctx context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return View{}, err
	}
	if !s.intent.IsPending() {
		return View{}, ErrNoPendingIntent
	}
	descriptor, err := s.deps.Intents.RefreshQR(ctx, s.intent.ReferenceCode)
	if err != nil {
		return View{}, err
	}
	s.intent.QRDescriptor = descriptor
	s.watch()
	return s.view(), nil
}

// Place places the order by hand: cash on delivery, or a retry against a
// payment that is already paid.
func (s *Session) Place(ctx context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return View{}, err
	}
	res, err := s.place(ctx)
	if err != nil {
		return View{}, err
	}
	if !res.Duplicate {
		s.notify(NoticeOrderPlaced, "order placed", res.OrderID)
	}
	return s.view(), nil
}

// Leave stops watching the current intent. The intent stays pending and
// watching resumes when a payment method is selected again.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatching()
}

// Adopt merges a guest cart into this session's store. The guest coupon is
// revalidated for this identity.
func (s *Session) Adopt(ctx context.Context, guest cart.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := cart.Migrate(ctx, guest, s.store)
	if err != nil {
		return err
	}
	if res.Lines == 0 && res.CouponCode == "" {
		return s.ensureLoaded(ctx)
	}
	s.logger.Info("guest cart migrated", zap.Int("lines", res.Lines), zap.String("coupon_code", res.CouponCode))

	s.loaded = false
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	if res.CouponCode != "" && !s.agg.Snapshot().HasCoupon() {
		if _, err := s.deps.Coupons.Apply(ctx, s.identity.UserID, s.agg, res.CouponCode); err != nil {
			s.notify(NoticeCouponRemoved, fmt.Sprintf("coupon %s was not carried over: %v", res.CouponCode, err), "")
		}
	}
	s.reconcileOrNotify(ctx)
	return nil
}

// Close stops all background work. The session is unusable afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopWatching()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Session) ensureLoaded(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.touch()
	if s.loaded {
		return nil
	}
	if _, err := s.agg.Load(ctx); err != nil {
		return err
	}
	s.loaded = true
	if err := s.revalidate(ctx); err != nil {
		return err
	}
	s.restoreIntent(ctx)
	return nil
}

// restoreIntent picks up the intent an earlier session of this user left
// open. A paid one locks the cart until its order is placed; a pending one
// is reconciled and watched again.
func (s *Session) restoreIntent(ctx context.Context) {
	if !s.identity.SignedIn() || s.intent != nil {
		return
	}
	intent, err := s.deps.Intents.Open(ctx, s.identity.UserID)
	if err != nil {
		if !errors.Is(err, payment.ErrIntentNotFound) {
			s.logger.Warn("look up open payment intent failed", zap.Error(err))
		}
		return
	}
	s.intent = intent
	s.method = domain.PaymentMethod(intent.Provider)
	s.shippingFee = intent.ShippingFee
	s.logger.Info("payment intent restored",
		zap.String("reference_code", intent.ReferenceCode),
		zap.String("status", intent.Status.String()))

	if s.locked() {
		s.notify(NoticeShippingRequired, "payment received; complete shipping details to place the order", intent.ReferenceCode)
		return
	}
	s.reconcileOrNotify(ctx)
}

// ready is ensureLoaded plus the paid-cart lock.
func (s *Session) ready(ctx context.Context) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	if s.locked() {
		return ErrCartLocked
	}
	return nil
}

// locked holds while a paid intent waits for its order.
func (s *Session) locked() bool {
	return s.intent != nil && s.intent.Status == domain.PaymentPaid
}

func (s *Session) revalidate(ctx context.Context) error {
	code := s.agg.Snapshot().CouponCode
	rev, err := s.deps.Coupons.Revalidate(ctx, s.identity.UserID, s.agg)
	if err != nil {
		return err
	}
	if rev.Removed {
		s.notify(NoticeCouponRemoved, fmt.Sprintf("coupon %s was removed: %s", code, rev.Reason), "")
	}
	return nil
}

// reconcile keeps the live intent bound to what the cart costs now.
func (s *Session) reconcile(ctx context.Context) error {
	if !s.method.RequiresPrepayment() {
		return nil
	}
	c := s.agg.Snapshot()
	if c.IsEmpty() || !s.identity.SignedIn() {
		s.dropIntent(ctx)
		return nil
	}
	if s.intent != nil && !s.intent.IsPending() {
		return nil
	}
	if s.intent != nil && !s.reconciler.IsStale(s.intent, c, s.shippingFee) {
		s.watch()
		return nil
	}

	old := s.intent
	next, err := s.reconciler.Replace(ctx, old, payment.CreateRequest{
		OwnerID:      s.identity.UserID,
		CustomerName: s.shipping.Name,
		Amount:       domain.PayableAmount(c, s.shippingFee),
		ShippingFee:  s.shippingFee,
		Provider:     s.method.Provider(),
		ItemCount:    len(c.Items),
	}, s.stopWatching)
	s.intent = next
	if next == nil {
		return err
	}
	if old != nil {
		s.notify(NoticePaymentAmountUpdated,
			fmt.Sprintf("payment amount updated from %s to %s", old.Amount, next.Amount),
			next.ReferenceCode)
	}
	if errors.Is(err, payment.ErrQRUnavailable) {
		s.notify(NoticeQRUnavailable, "payment QR could not be loaded, try refreshing it", next.ReferenceCode)
	}
	s.watch()
	return nil
}

// reconcileOrNotify runs after a cart change that is already saved. A failed
// reconcile leaves no live intent and is reported as a notice; the next
// change or method selection tries again.
func (s *Session) reconcileOrNotify(ctx context.Context) {
	if err := s.reconcile(ctx); err != nil {
		s.logger.Warn("reconcile payment intent failed", zap.Error(err))
		s.notify(NoticePaymentUnavailable, "cart saved, but the payment could not be updated; select a payment method to try again", "")
	}
}

// dropIntent stops watching and discards a pending intent. A paid intent is
// kept.
func (s *Session) dropIntent(ctx context.Context) {
	s.stopWatching()
	if s.intent == nil || s.locked() {
		return
	}
	if s.intent.IsPending() {
		if err := s.deps.Intents.Discard(ctx, s.intent.ReferenceCode); err != nil {
			s.logger.Warn("discard payment intent failed",
				zap.String("reference_code", s.intent.ReferenceCode),
				zap.Error(err))
		}
	}
	s.intent = nil
}

func (s *Session) watch() {
	if s.listener != nil || !s.intent.IsPending() {
		return
	}
	l := confirm.NewListener(s.intent, s.deps.Subscriber, s.deps.Status, s.deps.Poll, s.deps.Logger)
	s.listener = l
	l.Start(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range l.Events() {
			s.handle(ev)
		}
	}()
}

func (s *Session) stopWatching() {
	if s.listener == nil {
		return
	}
	s.listener.Stop()
	s.listener = nil
}

func (s *Session) handle(ev confirm.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.intent == nil || s.intent.ReferenceCode != ev.ReferenceCode {
		s.logger.Info("stale confirmation ignored",
			zap.String("reference_code", ev.ReferenceCode),
			zap.String("status", ev.Status.String()))
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	switch ev.Kind {
	case confirm.TimedOut:
		metrics.PollTimeouts.Inc()
		s.notify(NoticePollTimeout, "payment not confirmed yet; it stays open for manual reconciliation", ev.ReferenceCode)
	case confirm.Resolved:
		s.resolve(ctx, ev)
	}
}

func (s *Session) resolve(ctx context.Context, ev confirm.Event) {
	metrics.PaymentResolutions.WithLabelValues(ev.Status.String(), string(ev.Channel)).Inc()
	if _, err := s.deps.Intents.Transition(ctx, ev.ReferenceCode, ev.Status); err != nil {
		s.logger.Error("record payment status failed",
			zap.String("reference_code", ev.ReferenceCode),
			zap.String("status", ev.Status.String()),
			zap.Error(err))
	}
	s.intent.Status = ev.Status
	s.intent.UpdatedAt = s.now()
	s.stopWatching()

	switch ev.Status {
	case domain.PaymentPaid:
		s.autoPlace(ctx)
	case domain.PaymentExpired:
		s.notify(NoticePaymentExpired, "payment expired, select a payment method to try again", ev.ReferenceCode)
	case domain.PaymentFailed:
		s.notify(NoticePaymentFailed, "payment failed, select a payment method to try again", ev.ReferenceCode)
	}
}

func (s *Session) autoPlace(ctx context.Context) {
	ref := s.intent.ReferenceCode
	res, err := s.place(ctx)
	switch {
	case err == nil && res.Duplicate:
	case err == nil:
		s.notify(NoticeOrderPlaced, "order placed", res.OrderID)
	case errors.Is(err, ErrPlacementInProgress):
	case errors.Is(err, domain.ErrShippingIncomplete):
		s.notify(NoticeShippingRequired, "payment received; complete shipping details to place the order", ref)
	case errors.Is(err, ErrPaidAmountMismatch):
		s.notify(NoticePaymentAmountMismatch, "payment received for a different amount than the cart; contact support", ref)
	default:
		s.notify(NoticePlacementFailed, "payment received but the order could not be placed; retry placement", ref)
	}
}

func (s *Session) place(ctx context.Context) (PlaceResult, error) {
	req := PlaceRequest{
		OwnerID:     s.identity.OwnerID(),
		Cart:        s.agg,
		Shipping:    s.shipping,
		ShippingFee: s.shippingFee,
		Method:      s.method,
	}
	if s.method.RequiresPrepayment() {
		if s.intent == nil || s.intent.Status != domain.PaymentPaid {
			return PlaceResult{}, ErrPaymentNotConfirmed
		}
		req.Key = s.intent.ReferenceCode
		req.Intent = s.intent.Clone()
	} else {
		req.Key = s.checkoutKey
	}

	res, err := s.deps.Orchestrator.Place(ctx, req)
	if err != nil {
		return res, err
	}
	s.orderID = res.OrderID
	if s.method.RequiresPrepayment() {
		s.intent = nil
	} else {
		s.checkoutKey = uuid.NewString()
	}
	if res.Duplicate {
		// placed elsewhere; pick up the cleared cart
		if _, err := s.agg.Load(ctx); err != nil {
			s.logger.Warn("reload cart after duplicate placement failed", zap.Error(err))
		}
	}
	return res, nil
}

func (s *Session) notify(code NoticeCode, message, ref string) {
	s.notices = append(s.notices, Notice{Code: code, Message: message, ReferenceCode: ref})
}

func (s *Session) view() View {
	c := s.agg.Snapshot()
	v := View{
		Cart:        c,
		Method:      s.method,
		ShippingFee: s.shippingFee,
		Payable:     domain.PayableAmount(c, s.shippingFee),
		Shipping:    s.shipping,
		Intent:      s.intent.Clone(),
		OrderID:     s.orderID,
		Notices:     s.notices,
	}
	s.notices = nil
	return v
}
