package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	defaultStateTTL    = 72 * time.Hour
	defaultStatePrefix = "ind:state:"
)

// StateCacheConfig configures the state cache.
type StateCacheConfig struct {
	TTL          time.Duration // expiry of a security's hash, refreshed on every save
	Prefix       string        // key prefix, default "ind:state:"
	MaxFailures  int           // breaker threshold
	ResetTimeout time.Duration // breaker open period
}

// StateCache keeps indicator states in one Redis hash per security
// (field = spec id, value = state blob). It implements model.StateStore.
type StateCache struct {
	client goredis.UniversalClient
	cb     *CircuitBreaker
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

// NewStateCache wraps client. All calls go through a circuit breaker.
func NewStateCache(client goredis.UniversalClient, cfg StateCacheConfig, log *zap.Logger) *StateCache {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultStateTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultStatePrefix
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	log = log.Named("redis-state")
	cb := NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout)
	cb.OnStateChange = func(from, to State) {
		log.Warn("circuit breaker transition", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return &StateCache{client: client, cb: cb, ttl: cfg.TTL, prefix: cfg.Prefix, log: log}
}

// Breaker exposes the circuit breaker, e.g. for metrics hooks.
func (c *StateCache) Breaker() *CircuitBreaker { return c.cb }

// Key returns the hash key of a security.
func (c *StateCache) Key(securityID string) string {
	return c.prefix + securityID
}

// LoadStates implements model.StateStore. Absent specs are omitted.
func (c *StateCache) LoadStates(ctx context.Context, securityID string, specIDs []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(specIDs))
	if len(specIDs) == 0 {
		return out, nil
	}
	err := c.cb.Do(ctx, func(ctx context.Context) error {
		vals, err := c.client.HMGet(ctx, c.Key(securityID), specIDs...).Result()
		if err != nil {
			return err
		}
		for i, v := range vals {
			if s, ok := v.(string); ok {
				out[specIDs[i]] = []byte(s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis load states %s: %w", securityID, err)
	}
	return out, nil
}

// SaveStates implements model.StateStore: HSET + EXPIRE in one pipeline.
func (c *StateCache) SaveStates(ctx context.Context, securityID string, states map[string][]byte) error {
	if len(states) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(states))
	for id, blob := range states {
		values[id] = string(blob)
	}
	key := c.Key(securityID)
	err := c.cb.Do(ctx, func(ctx context.Context) error {
		pipe := c.client.Pipeline()
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, c.ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("redis save states %s: %w", securityID, err)
	}
	return nil
}

// Invalidate drops every cached state of a security.
func (c *StateCache) Invalidate(ctx context.Context, securityID string) error {
	return c.cb.Do(ctx, func(ctx context.Context) error {
		return c.client.Del(ctx, c.Key(securityID)).Err()
	})
}
