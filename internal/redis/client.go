package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/saviobatista/mavrelay/internal/types"
)

// SummaryTTL is how long a flight summary outlives its last snapshot
const SummaryTTL = 24 * time.Hour

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client caches the latest flight summary of each vehicle
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// SummaryKey returns the cache key of a vehicle's flight summary
func SummaryKey(vehicleID string) string {
	return fmt.Sprintf("vehicle:%s", vehicleID)
}

// StoreSummary stores the latest flight summary of a vehicle
func (c *Client) StoreSummary(ctx context.Context, summary *types.FlightSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal flight summary: %w", err)
	}

	if err := c.client.Set(ctx, SummaryKey(summary.VehicleID), data, SummaryTTL).Err(); err != nil {
		return fmt.Errorf("failed to store flight summary: %w", err)
	}
	return nil
}

// GetSummary retrieves the latest flight summary of a vehicle. It returns nil
// when none is cached.
func (c *Client) GetSummary(ctx context.Context, vehicleID string) (*types.FlightSummary, error) {
	data, err := c.client.Get(ctx, SummaryKey(vehicleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flight summary: %w", err)
	}

	var summary types.FlightSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flight summary: %w", err)
	}
	return &summary, nil
}

// DeleteSummary removes a vehicle's cached flight summary
func (c *Client) DeleteSummary(ctx context.Context, vehicleID string) error {
	return c.client.Del(ctx, SummaryKey(vehicleID)).Err()
}
