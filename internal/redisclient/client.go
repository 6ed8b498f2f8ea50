package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
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

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func cartKey(userID int64) string {
	return fmt.Sprintf("cart:%d", userID)
}

// SetCart stores a user's cart blob. The cart contents are opaque to this
// service; it only needs to clear them once payment is confirmed.
func (c *Client) SetCart(ctx context.Context, userID int64, cart interface{}, ttl time.Duration) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("failed to marshal cart: %w", err)
	}
	return c.rdb.Set(ctx, cartKey(userID), data, ttl).Err()
}

// GetCart loads a user's cart blob into dest. Returns false when no cart is
// stored.
func (c *Client) GetCart(ctx context.Context, userID int64, dest interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, cartKey(userID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dest)
}

// ClearCart deletes a user's stored cart.
func (c *Client) ClearCart(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, cartKey(userID)).Err()
}

// IncrementCounter bumps a shared expiring counter keyed by identity and
// returns the new count. The window TTL is anchored to the first increment
// only; refreshing it on every hit would turn the fixed window into a
// never-expiring counter under steady traffic.
func (c *Client) IncrementCounter(ctx context.Context, scope, identity string, window time.Duration) (int64, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", scope, identity)

	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limit increment failed: %w", err)
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("rate limit expire failed: %w", err)
		}
	}
	return count, nil
}
