package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LocalStore keeps guest carts under one key per device.
type LocalStore struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewLocalStore(client *redis.Client, ttl time.Duration) *LocalStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &LocalStore{
		client:  client,
		baseTTL: ttl,
	}
}

func (s *LocalStore) Get(ctx context.Context, deviceID string) (*domain.Cart, error) {
	data, err := s.client.Get(ctx, guestKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err2 := json.Unmarshal(data, &cart); err2 != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err2)
	}
	return &cart, nil
}

func (s *LocalStore) Set(ctx context.Context, deviceID string, cart *domain.Cart) error {
	jsonCart, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(5)) * time.Minute
	if err := s.client.Set(ctx, guestKey(deviceID), jsonCart, s.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, guestKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Bind returns the Store for one device.
func (s *LocalStore) Bind(deviceID string) Store {
	return &guestStore{local: s, deviceID: deviceID}
}

type guestStore struct {
	local    *LocalStore
	deviceID string
}

// Load reads the serialized cart and re-derives every quantity and total so a
// reload reproduces the same numbers.
func (g *guestStore) Load(ctx context.Context) (*domain.Cart, error) {
	cart, err := g.local.Get(ctx, g.deviceID)
	if errors.Is(err, ErrCartNotFound) {
		return domain.NewCart(), nil
	}
	if err != nil {
		return nil, err
	}
	if cart.Items == nil {
		cart.Items = []domain.LineItem{}
	}
	cart.Normalize()
	cart.Recompute()
	return cart, nil
}

// Persist writes the whole cart; the device key is the only copy.
func (g *guestStore) Persist(ctx context.Context, cart *domain.Cart, _ []Change) error {
	return g.local.Set(ctx, g.deviceID, cart)
}

func (g *guestStore) Clear(ctx context.Context) error {
	return g.local.Delete(ctx, g.deviceID)
}

func guestKey(deviceID string) string {
	return fmt.Sprintf("cart:guest:%s", deviceID)
}
