package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/cart"
	"github.com/htbacgiang/ecobacgiang/internal/metrics"
	"go.uber.org/zap"
)

var ErrNoIdentity = errors.New("request carries neither a user nor a device id")

// GuestStores binds device-local carts; cart.LocalStore implements it.
type GuestStores interface {
	Bind(deviceID string) cart.Store
}

// UserStores binds signed-in carts; cart.RemoteStore implements it.
type UserStores interface {
	Bind(userID string) cart.Store
}

// Registry holds one session per user or guest device.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	guests   GuestStores
	users    UserStores
	deps     Deps
	idle     time.Duration
	tick     time.Duration
	logger   *zap.Logger
}

func NewRegistry(guests GuestStores, users UserStores, deps Deps, idle time.Duration) *Registry {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Registry{
		sessions: make(map[string]*Session),
		guests:   guests,
		users:    users,
		deps:     deps,
		idle:     idle,
		tick:     time.Minute,
		logger:   deps.Logger.With(zap.String("component", "registry")),
	}
}

// Session returns the session for id, creating it on first use. A signed-in
// identity that also names a device adopts that device's guest cart when the
// user session is new or the device still has a guest session here.
func (r *Registry) Session(ctx context.Context, id Identity) (*Session, error) {
	if !id.SignedIn() && id.DeviceID == "" {
		return nil, ErrNoIdentity
	}

	r.mu.Lock()
	key := sessionKey(id)
	s, found := r.sessions[key]
	if !found {
		var store cart.Store
		if id.SignedIn() {
			store = r.users.Bind(id.UserID)
		} else {
			store = r.guests.Bind(id.DeviceID)
		}
		s = NewSession(Identity{UserID: id.UserID, DeviceID: id.DeviceID}, store, r.deps)
		r.sessions[key] = s
	}
	var guest *Session
	if id.SignedIn() && id.DeviceID != "" {
		gk := sessionKey(Identity{DeviceID: id.DeviceID})
		if g, ok := r.sessions[gk]; ok {
			guest = g
			delete(r.sessions, gk)
		}
	}
	s.touch()
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	if guest != nil {
		guest.Close()
	}
	if id.SignedIn() && id.DeviceID != "" && (!found || guest != nil) {
		if err := s.Adopt(ctx, r.guests.Bind(id.DeviceID)); err != nil && !errors.Is(err, ErrCartLocked) {
			r.logger.Warn("guest cart migration failed",
				zap.String("user_id", id.UserID),
				zap.String("device_id", id.DeviceID),
				zap.Error(err))
		}
	}
	return s, nil
}

// Run sweeps idle sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			r.Sweep(now)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep closes sessions unused for longer than the idle timeout. Pending
// intents of swept sessions stay pending in the intent store.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var stale []*Session
	for key, s := range r.sessions {
		if now.Sub(s.LastSeen()) > r.idle {
			stale = append(stale, s)
			delete(r.sessions, key)
		}
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		r.logger.Info("idle sessions closed", zap.Int("count", len(stale)))
	}
	return len(stale)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	metrics.ActiveSessions.Set(0)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func sessionKey(id Identity) string {
	if id.SignedIn() {
		return "user:" + id.UserID
	}
	return "device:" + id.DeviceID
}
