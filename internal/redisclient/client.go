package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/deduct_stock.lua
var deductStockScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	deductScript  *redis.Script
	releaseScript *redis.Script
	owner         string
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return New(rdb), nil
}

// New wraps an existing redis client.
func New(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		deductScript:  redis.NewScript(deductStockScript),
		releaseScript: redis.NewScript(releaseLockScript),
		owner:         uuid.New().String(),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity, used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func stockKey(supplyID string) string {
	return fmt.Sprintf("supply:%s", supplyID)
}

// DeductStock atomically lowers the cached stock of a supply, flooring at zero.
// ok is false when the supply is not cached.
func (c *Client) DeductStock(ctx context.Context, supplyID string, quantity int) (remaining int, ok bool, err error) {
	result, err := c.deductScript.Run(ctx, c.rdb, []string{stockKey(supplyID)}, quantity).Result()
	if err != nil {
		return 0, false, fmt.Errorf("deduct stock script failed: %w", err)
	}

	n, isInt := result.(int64)
	if !isInt {
		return 0, false, fmt.Errorf("unexpected script result type")
	}
	if n < 0 {
		return 0, false, nil
	}
	return int(n), true, nil
}

// SetStock caches the available stock of a supply
func (c *Client) SetStock(ctx context.Context, supplyID string, available int) error {
	return c.rdb.HSet(ctx, stockKey(supplyID), "available", available).Err()
}

// GetStock retrieves the cached stock of a supply
func (c *Client) GetStock(ctx context.Context, supplyID string) (int, error) {
	val, err := c.rdb.HGet(ctx, stockKey(supplyID), "available").Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("stock not cached for supply %s", supplyID)
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the value stored for key, or "" when absent
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// AcquireLock acquires a distributed lock. The returned token identifies
// this acquisition and must be passed to ReleaseLock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still holds it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	return c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Err()
}

func sideEffectKey(kind, appointmentID string) string {
	return fmt.Sprintf("side-effect:%s:%s", kind, appointmentID)
}

// ClaimSideEffect marks a side effect of an appointment as in progress or
// done. It returns false when another caller already claimed it.
func (c *Client) ClaimSideEffect(ctx context.Context, kind, appointmentID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, sideEffectKey(kind, appointmentID), c.owner, ttl).Result()
}

// ReleaseSideEffect drops a claim so the side effect can be retried
func (c *Client) ReleaseSideEffect(ctx context.Context, kind, appointmentID string) error {
	return c.rdb.Del(ctx, sideEffectKey(kind, appointmentID)).Err()
}
