// Package credentials is the gateway's read-only view of the credential store.
//
// Tokens and provider configs are created and edited by the admin surface,
// which owns the schema. The gateway only needs two lookups, both evaluated
// at request time with no caching.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-relay/internal/shared/config"
	"github.com/mrmushfiq/llm0-relay/internal/shared/database"
	"github.com/mrmushfiq/llm0-relay/internal/shared/models"
	"github.com/mrmushfiq/llm0-relay/internal/shared/redis"
)

// Store is implemented by every credential backend. Implementations must be
// safe for concurrent use.
type Store interface {
	IsActiveToken(ctx context.Context, value string) (bool, error)
	// GetActiveProvider returns ok=false when the provider is unknown or inactive.
	GetActiveProvider(ctx context.Context, name string) (*models.ProviderCredentials, bool, error)
	Close() error
}

// Open connects the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres, config.DriverSQLite:
		db, err := database.New(cfg.StoreDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBAutoMigrate {
			if err := db.EnsureSchema(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
			log.Info("credential schema ensured", zap.String("driver", cfg.StoreDriver))
		}
		return NewSQL(db), nil

	case config.DriverRedis:
		client, err := redis.New(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			return nil, err
		}
		return NewRedis(client), nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// SQL adapts database.DB to Store.
type SQL struct {
	db *database.DB
}

func NewSQL(db *database.DB) *SQL {
	return &SQL{db: db}
}

func (s *SQL) IsActiveToken(ctx context.Context, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	_, err := s.db.GetActiveToken(ctx, value)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQL) GetActiveProvider(ctx context.Context, name string) (*models.ProviderCredentials, bool, error) {
	cfg, err := s.db.GetActiveProvider(ctx, name)
	if errors.Is(err, database.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg.Credentials(), true, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// Redis adapts redis.Client to Store.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) IsActiveToken(ctx context.Context, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	return r.client.IsActiveToken(ctx, value)
}

func (r *Redis) GetActiveProvider(ctx context.Context, name string) (*models.ProviderCredentials, bool, error) {
	cfg, err := r.client.GetActiveProvider(ctx, name)
	if errors.Is(err, redis.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg.Credentials(), true, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
