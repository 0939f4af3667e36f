package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/mrmushfiq/llm0-relay/internal/shared/models"
)

// ErrNotFound is returned when no active provider hash exists for a name.
var ErrNotFound = errors.New("not found")

// Client is the Redis-backed credential store.
//
// Key layout (prefix defaults to "relay:"):
//
//	<prefix>tokens:active     SET of active token values
//	<prefix>provider:<name>   HASH with api_key, base_url, is_active
type Client struct {
	client *redis.Client
	prefix string
}

// New creates a new Redis client
func New(ctx context.Context, redisURL, prefix string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client, prefix: prefix}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) tokensKey() string {
	return c.prefix + "tokens:active"
}

func (c *Client) providerKey(name string) string {
	return c.prefix + "provider:" + name
}

// IsActiveToken reports whether value is in the active token set
func (c *Client) IsActiveToken(ctx context.Context, value string) (bool, error) {
	ok, err := c.client.SIsMember(ctx, c.tokensKey(), value).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return ok, nil
}

// GetActiveProvider reads the provider hash and returns it if it is active
func (c *Client) GetActiveProvider(ctx context.Context, name string) (*models.ProviderConfig, error) {
	fields, err := c.client.HGetAll(ctx, c.providerKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	if !isTruthy(fields["is_active"]) {
		return nil, ErrNotFound
	}

	cfg := &models.ProviderConfig{
		Provider: name,
		APIKey:   fields["api_key"],
		IsActive: true,
	}
	if baseURL := strings.TrimSpace(fields["base_url"]); baseURL != "" {
		cfg.BaseURL = &baseURL
	}

	return cfg, nil
}

// A missing is_active field counts as active, matching the SQL column default.
func isTruthy(v string) bool {
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
