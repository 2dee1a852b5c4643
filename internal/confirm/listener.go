package confirm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/htbacgiang/ecobacgiang/internal/backend"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrPollTimeout = errors.New("payment confirmation timed out")

// StatusSource answers status polls for an intent.
type StatusSource interface {
	PaymentStatus(ctx context.Context, referenceCode string) (*backend.PaymentStatusDTO, error)
}

type PollPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxAttempts int
}

// backOff doubles the wait after each failed attempt up to MaxInterval.
// Reset brings it back to Interval. It never gives up on its own; the poll
// loop owns the attempt budget.
func (p PollPolicy) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Interval,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    3 * time.Second,
		MaxInterval: 30 * time.Second,
		MaxAttempts: 120,
	}
}

type Channel string

const (
	ChannelPush Channel = "push"
	ChannelPoll Channel = "poll"
)

type EventKind int

const (
	// Resolved carries the terminal status reported first.
	Resolved EventKind = iota
	// TimedOut means the poll budget ran out; the intent stays pending.
	TimedOut
)

type Event struct {
	Kind          EventKind
	ReferenceCode string
	Status        domain.PaymentStatus
	Amount        decimal.Decimal
	Channel       Channel
	Err           error
}

// Listener watches one intent on the push and poll channels at once. The
// first terminal status from either channel wins; later reports are
// absorbed by the resolved flag.
type Listener struct {
	referenceCode string
	amount        decimal.Decimal
	sub           Subscriber
	src           StatusSource
	policy        PollPolicy
	logger        *zap.Logger

	resolved atomic.Bool
	started  atomic.Bool
	events   chan Event
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewListener watches intent. sub may be nil when no push channel is
// configured.
func NewListener(intent *domain.PaymentIntent, sub Subscriber, src StatusSource, policy PollPolicy, logger *zap.Logger) *Listener {
	if policy.Interval <= 0 {
		policy = DefaultPollPolicy()
	}
	if policy.MaxInterval < policy.Interval {
		policy.MaxInterval = policy.Interval
	}
	return &Listener{
		referenceCode: intent.ReferenceCode,
		amount:        intent.Amount,
		sub:           sub,
		src:           src,
		policy:        policy,
		logger: logger.With(
			zap.String("component", "confirm"),
			zap.String("reference_code", intent.ReferenceCode)),
		events: make(chan Event, 2),
		cancel: func() {},
	}
}

func (l *Listener) ReferenceCode() string {
	return l.referenceCode
}

// Events is closed once both channels have stopped.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// Start launches both channels. Calling it twice has no effect.
func (l *Listener) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	if l.sub != nil {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.runPush(ctx)
		}()
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.runPoll(ctx)
	}()

	go func() {
		l.wg.Wait()
		close(l.events)
	}()
}

// Stop cancels both channels and waits for them to exit. After Stop returns
// the listener emits nothing more.
func (l *Listener) Stop() {
	if !l.started.Load() {
		if l.started.CompareAndSwap(false, true) {
			close(l.events)
		}
		return
	}
	l.cancel()
	l.wg.Wait()
}

func (l *Listener) runPush(ctx context.Context) {
	b := l.policy.backOff()
	for ctx.Err() == nil {
		ch, unsubscribe, err := l.sub.Subscribe(ctx, l.referenceCode)
		if err != nil {
			if errors.Is(err, ErrHubClosed) || ctx.Err() != nil {
				return
			}
			l.logger.Warn("push subscribe failed", zap.Error(err))
			if !sleep(ctx, b.NextBackOff()) {
				return
			}
			continue
		}
		b.Reset()
		done := l.consume(ctx, ch)
		unsubscribe()
		if done {
			return
		}
	}
}

// consume reports true when the listener should stop pushing.
func (l *Listener) consume(ctx context.Context, ch <-chan Notification) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case n, ok := <-ch:
			if !ok {
				// subscription dropped; resubscribe
				return false
			}
			if l.resolve(n, ChannelPush) {
				return true
			}
		}
	}
}

func (l *Listener) runPoll(ctx context.Context) {
	b := l.policy.backOff()
	for attempt := 0; attempt < l.policy.MaxAttempts; attempt++ {
		if !sleep(ctx, b.NextBackOff()) {
			return
		}
		st, err := l.src.PaymentStatus(ctx, l.referenceCode)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// transient or not, a failed poll never fails the payment
			l.logger.Warn("status poll failed",
				zap.Int("attempt", attempt+1),
				zap.Bool("transient", backend.IsTransient(err)),
				zap.Error(err))
			continue
		}
		b.Reset()

		n := Notification{
			ReferenceCode: st.ReferenceCode,
			Status:        domain.ParsePaymentStatus(st.Status),
			Amount:        st.Amount,
		}
		if l.resolve(n, ChannelPoll) {
			return
		}
	}

	if l.resolved.Load() || ctx.Err() != nil {
		return
	}
	l.logger.Warn("poll budget exhausted, intent left pending", zap.Int("attempts", l.policy.MaxAttempts))
	l.emit(Event{Kind: TimedOut, ReferenceCode: l.referenceCode, Status: domain.PaymentPending, Channel: ChannelPoll, Err: ErrPollTimeout})
}

// resolve reports true when the listener is resolved after n, whether by n
// or by an earlier report.
func (l *Listener) resolve(n Notification, ch Channel) bool {
	if l.resolved.Load() {
		return true
	}
	if n.ReferenceCode != "" && n.ReferenceCode != l.referenceCode {
		return false
	}
	if !n.Status.IsTerminal() {
		return false
	}
	if n.Status == domain.PaymentPaid && !n.Amount.IsZero() && !n.Amount.Equal(l.amount) {
		l.logger.Warn("ignoring paid report for a different amount",
			zap.String("channel", string(ch)),
			zap.String("reported", n.Amount.String()),
			zap.String("bound", l.amount.String()))
		return false
	}
	if !l.resolved.CompareAndSwap(false, true) {
		return true
	}

	l.logger.Info("payment resolved", zap.String("status", n.Status.String()), zap.String("channel", string(ch)))
	amount := n.Amount
	if amount.IsZero() {
		amount = l.amount
	}
	l.emit(Event{Kind: Resolved, ReferenceCode: l.referenceCode, Status: n.Status, Amount: amount, Channel: ch})
	l.cancel()
	return true
}

// emit never blocks: the buffer holds the single resolution plus a timeout.
func (l *Listener) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.logger.Error("event dropped", zap.Int("kind", int(ev.Kind)))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
