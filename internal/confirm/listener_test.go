package confirm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/backend"
	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pollReply struct {
	status string
	amount decimal.Decimal
	err    error
}

// mockStatusSource replays replies in order and repeats the last one.
type mockStatusSource struct {
	mu      sync.Mutex
	replies []pollReply
	calls   atomic.Int32
}

func (m *mockStatusSource) PaymentStatus(_ context.Context, ref string) (*backend.PaymentStatusDTO, error) {
	n := int(m.calls.Add(1)) - 1
	m.mu.Lock()
	defer m.mu.Unlock()
	if n >= len(m.replies) {
		n = len(m.replies) - 1
	}
	r := m.replies[n]
	if r.err != nil {
		return nil, r.err
	}
	return &backend.PaymentStatusDTO{ReferenceCode: ref, Status: r.status, Amount: r.amount}, nil
}

func pending() pollReply {
	return pollReply{status: "pending"}
}

func fastPolicy(attempts int) PollPolicy {
	return PollPolicy{Interval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond, MaxAttempts: attempts}
}

func newIntent(ref string, amount int64) *domain.PaymentIntent {
	return &domain.PaymentIntent{ReferenceCode: ref, Amount: decimal.NewFromInt(amount), Status: domain.PaymentPending}
}

func collect(t *testing.T, l *Listener, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-l.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
}

func TestListener_PushResolves(t *testing.T) {
	hub := NewHub()
	src := &mockStatusSource{replies: []pollReply{pending()}}
	l := NewListener(newIntent("ECO1", 48000), hub, src, PollPolicy{Interval: time.Hour, MaxAttempts: 1}, zap.NewNop())
	l.Start(context.Background())
	defer l.Stop()

	require.Eventually(t, func() bool { return hub.Subscribers("ECO1") == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish(Notification{ReferenceCode: "ECO1", Status: domain.PaymentPaid, Amount: decimal.NewFromInt(48000)})

	events := collect(t, l, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, Resolved, events[0].Kind)
	assert.Equal(t, domain.PaymentPaid, events[0].Status)
	assert.Equal(t, ChannelPush, events[0].Channel)
	assert.Zero(t, hub.Subscribers("ECO1"))
}

func TestListener_PollResolves(t *testing.T) {
	src := &mockStatusSource{replies: []pollReply{pending(), pending(), {status: "success", amount: decimal.NewFromInt(48000)}}}
	l := NewListener(newIntent("ECO2", 48000), nil, src, fastPolicy(10), zap.NewNop())
	l.Start(context.Background())

	events := collect(t, l, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, domain.PaymentPaid, events[0].Status)
	assert.Equal(t, ChannelPoll, events[0].Channel)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestListener_BothChannelsYieldOneEvent(t *testing.T) {
	hub := NewHub()
	paid := pollReply{status: "paid", amount: decimal.NewFromInt(48000)}
	src := &mockStatusSource{replies: []pollReply{paid}}

	for i := 0; i < 20; i++ {
		l := NewListener(newIntent("ECO3", 48000), hub, src, fastPolicy(5), zap.NewNop())
		l.Start(context.Background())
		require.Eventually(t, func() bool { return hub.Subscribers("ECO3") <= 1 }, time.Second, time.Millisecond)
		hub.Publish(Notification{ReferenceCode: "ECO3", Status: domain.PaymentPaid, Amount: decimal.NewFromInt(48000)})

		events := collect(t, l, time.Second)
		require.Len(t, events, 1, "round %d", i)
		assert.Equal(t, Resolved, events[0].Kind)
		l.Stop()
	}
}

func TestListener_TimeoutLeavesPending(t *testing.T) {
	src := &mockStatusSource{replies: []pollReply{pending()}}
	hub := NewHub()
	l := NewListener(newIntent("ECO4", 48000), hub, src, fastPolicy(3), zap.NewNop())
	l.Start(context.Background())

	require.Eventually(t, func() bool { return src.calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	var ev Event
	select {
	case ev = <-l.Events():
	case <-time.After(time.Second):
		t.Fatal("no timeout event")
	}
	assert.Equal(t, TimedOut, ev.Kind)
	assert.Equal(t, domain.PaymentPending, ev.Status)
	assert.ErrorIs(t, ev.Err, ErrPollTimeout)

	// push stays open after the poll budget is spent
	require.Eventually(t, func() bool { return hub.Subscribers("ECO4") == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish(Notification{ReferenceCode: "ECO4", Status: domain.PaymentPaid})
	select {
	case ev = <-l.Events():
		assert.Equal(t, Resolved, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("late push not delivered")
	}
	l.Stop()
}

func TestListener_TransientErrorsAreNotFailures(t *testing.T) {
	src := &mockStatusSource{replies: []pollReply{
		{err: &backend.Error{StatusCode: http.StatusServiceUnavailable}},
		{err: errors.New("connection reset")},
		{err: context.DeadlineExceeded},
		{status: "paid"},
	}}
	l := NewListener(newIntent("ECO5", 48000), nil, src, fastPolicy(10), zap.NewNop())
	l.Start(context.Background())

	events := collect(t, l, 2*time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, domain.PaymentPaid, events[0].Status)
	assert.Equal(t, "48000", events[0].Amount.String())
}

func TestListener_ProviderFailureIsTerminal(t *testing.T) {
	src := &mockStatusSource{replies: []pollReply{{status: "failed"}}}
	l := NewListener(newIntent("ECO6", 48000), nil, src, fastPolicy(10), zap.NewNop())
	l.Start(context.Background())

	events := collect(t, l, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, domain.PaymentFailed, events[0].Status)
}

func TestListener_IgnoresMismatchedAmountAndOtherReference(t *testing.T) {
	hub := NewHub()
	src := &mockStatusSource{replies: []pollReply{pending()}}
	l := NewListener(newIntent("ECO7", 68000), hub, src, PollPolicy{Interval: time.Hour, MaxAttempts: 1}, zap.NewNop())
	l.Start(context.Background())
	defer l.Stop()
	require.Eventually(t, func() bool { return hub.Subscribers("ECO7") == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(Notification{ReferenceCode: "ECO7", Status: domain.PaymentPaid, Amount: decimal.NewFromInt(48000)})
	hub.Publish(Notification{ReferenceCode: "OTHER", Status: domain.PaymentPaid, Amount: decimal.NewFromInt(68000)})

	select {
	case ev := <-l.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	hub.Publish(Notification{ReferenceCode: "ECO7", Status: domain.PaymentPaid, Amount: decimal.NewFromInt(68000)})
	events := collect(t, l, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, "68000", events[0].Amount.String())
}

func TestListener_StopSilencesChannels(t *testing.T) {
	hub := NewHub()
	src := &mockStatusSource{replies: []pollReply{pending()}}
	l := NewListener(newIntent("ECO8", 48000), hub, src, fastPolicy(1000), zap.NewNop())
	l.Start(context.Background())
	require.Eventually(t, func() bool { return hub.Subscribers("ECO8") == 1 }, time.Second, 5*time.Millisecond)

	l.Stop()
	callsAtStop := src.calls.Load()
	assert.Zero(t, hub.Subscribers("ECO8"))
	assert.Zero(t, hub.Publish(Notification{ReferenceCode: "ECO8", Status: domain.PaymentPaid}))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, callsAtStop, src.calls.Load())
	_, ok := <-l.Events()
	assert.False(t, ok, "events closed after stop")
}

func TestListener_StopBeforeStart(t *testing.T) {
	l := NewListener(newIntent("ECO9", 1), nil, &mockStatusSource{replies: []pollReply{pending()}}, fastPolicy(1), zap.NewNop())
	l.Stop()
	_, ok := <-l.Events()
	assert.False(t, ok)
	l.Start(context.Background())
}

// flakySubscriber fails the first subscribe attempts.
type flakySubscriber struct {
	hub      *Hub
	failures atomic.Int32
}

func (f *flakySubscriber) Subscribe(ctx context.Context, ref string) (<-chan Notification, func(), error) {
	if f.failures.Add(-1) >= 0 {
		return nil, nil, errors.New("websocket handshake failed")
	}
	return f.hub.Subscribe(ctx, ref)
}

func TestListener_PushResubscribesAfterError(t *testing.T) {
	hub := NewHub()
	sub := &flakySubscriber{hub: hub}
	sub.failures.Store(2)
	src := &mockStatusSource{replies: []pollReply{pending()}}
	l := NewListener(newIntent("ECO10", 5), sub, src, PollPolicy{Interval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond, MaxAttempts: 1000}, zap.NewNop())
	l.Start(context.Background())
	defer l.Stop()

	require.Eventually(t, func() bool { return hub.Subscribers("ECO10") == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish(Notification{ReferenceCode: "ECO10", Status: domain.PaymentPaid})

	select {
	case ev := <-l.Events():
		assert.Equal(t, ChannelPush, ev.Channel)
	case <-time.After(time.Second):
		t.Fatal("no event after resubscribe")
	}
}

func TestPollPolicy_BackOffDoublesUpToCapAndResets(t *testing.T) {
	b := fastPolicy(10).backOff()

	var waits []time.Duration
	for i := 0; i < 4; i++ {
		waits = append(waits, b.NextBackOff())
	}
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond, 20 * time.Millisecond}, waits)

	b.Reset()
	assert.Equal(t, 5*time.Millisecond, b.NextBackOff(), "a successful attempt starts over")
}
