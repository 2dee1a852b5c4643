package confirm

import (
	"context"
	"errors"
	"sync"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/shopspring/decimal"
)

var ErrHubClosed = errors.New("confirmation hub closed")

// Notification is a provider push about one intent.
type Notification struct {
	ReferenceCode string               `json:"reference_code"`
	Status        domain.PaymentStatus `json:"status"`
	Amount        decimal.Decimal      `json:"amount"`
}

// Subscriber delivers push notifications for one reference code until the
// returned cancel func is called.
type Subscriber interface {
	Subscribe(ctx context.Context, referenceCode string) (<-chan Notification, func(), error)
}

// Hub fans push notifications out to the listeners subscribed to their
// reference code. Slow subscribers drop messages rather than block Publish.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Notification
	nextID int
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Notification)}
}

func (h *Hub) Subscribe(ctx context.Context, referenceCode string) (<-chan Notification, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, ErrHubClosed
	}

	id := h.nextID
	h.nextID++
	ch := make(chan Notification, 4)
	if h.subs[referenceCode] == nil {
		h.subs[referenceCode] = make(map[int]chan Notification)
	}
	h.subs[referenceCode][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			subs, ok := h.subs[referenceCode]
			if !ok {
				return
			}
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(h.subs, referenceCode)
			}
		})
	}
	return ch, cancel, nil
}

// Publish delivers n to every subscriber of its reference code and returns
// how many received it.
func (h *Hub) Publish(n Notification) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for _, ch := range h.subs[n.ReferenceCode] {
		select {
		case ch <- n:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions for referenceCode.
func (h *Hub) Subscribers(referenceCode string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[referenceCode])
}

// Close closes every subscription; later subscribes fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ref, subs := range h.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(h.subs, ref)
	}
}
