package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrGuardLost = errors.New("placement guard no longer held")

// PlacementGuard makes order placement commit-once per key. A key moves from
// free to held (Acquire) and then either back to free (Release) or to placed
// (Commit). A placed key never becomes free again.
type PlacementGuard interface {
	// Acquire reports ok=false when the key is held or already placed.
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	Commit(ctx context.Context, key, token, orderID string) error
	Release(ctx context.Context, key, token string) error
	PlacedOrder(ctx context.Context, key string) (orderID string, ok bool, err error)
}

const (
	heldPrefix   = "held:"
	placedPrefix = "placed:"
)

var (
	commitScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "EX", ARGV[3])
	return 1
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisGuard keeps one key per placement: "held:<token>" while an attempt is
// in flight, "placed:<order id>" once it committed.
type RedisGuard struct {
	rdb       *redis.Client
	holdTTL   time.Duration
	placedTTL time.Duration
}

// NewRedisGuard expires held keys after holdTTL so a crashed attempt does not
// block retries forever.
func NewRedisGuard(rdb *redis.Client, holdTTL time.Duration) *RedisGuard {
	if holdTTL <= 0 {
		holdTTL = 2 * time.Minute
	}
	return &RedisGuard{rdb: rdb, holdTTL: holdTTL, placedTTL: 30 * 24 * time.Hour}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, guardKey(key), heldPrefix+token, g.holdTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire placement guard: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (g *RedisGuard) Commit(ctx context.Context, key, token, orderID string) error {
	n, err := commitScript.Run(ctx, g.rdb, []string{guardKey(key)},
		heldPrefix+token, placedPrefix+orderID, int(g.placedTTL.Seconds())).Int()
	if err != nil {
		return fmt.Errorf("commit placement guard: %w", err)
	}
	if n == 0 {
		return ErrGuardLost
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, g.rdb, []string{guardKey(key)}, heldPrefix+token).Err(); err != nil {
		return fmt.Errorf("release placement guard: %w", err)
	}
	return nil
}

func (g *RedisGuard) PlacedOrder(ctx context.Context, key string) (string, bool, error) {
	val, err := g.rdb.Get(ctx, guardKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read placement guard: %w", err)
	}
	if orderID, ok := strings.CutPrefix(val, placedPrefix); ok {
		return orderID, true, nil
	}
	return "", false, nil
}

func guardKey(key string) string {
	return fmt.Sprintf("placement:%s", key)
}

// MemoryGuard is a PlacementGuard for a single process.
type MemoryGuard struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{keys: make(map[string]string)}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, taken := g.keys[key]; taken {
		return "", false, nil
	}
	token := uuid.NewString()
	g.keys[key] = heldPrefix + token
	return token, true, nil
}

func (g *MemoryGuard) Commit(_ context.Context, key, token, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys[key] != heldPrefix+token {
		return ErrGuardLost
	}
	g.keys[key] = placedPrefix + orderID
	return nil
}

func (g *MemoryGuard) Release(_ context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys[key] == heldPrefix+token {
		delete(g.keys, key)
	}
	return nil
}

func (g *MemoryGuard) PlacedOrder(_ context.Context, key string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	orderID, ok := strings.CutPrefix(g.keys[key], placedPrefix)
	return orderID, ok, nil
}
