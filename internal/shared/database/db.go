package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/mrmushfiq/llm0-relay/internal/shared/models"
)

// ErrNotFound is returned when no active row matches a lookup.
var ErrNotFound = errors.New("not found")

// DB is the read side of the relational credential store. Rows are written by
// the admin surface; the gateway only looks them up.
type DB struct {
	conn   *sql.DB
	driver string
}

// New creates a new database connection. driver is "postgres" or "sqlite".
func New(driver, databaseURL string) (*DB, error) {
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	if driver == "sqlite" {
		// SQLite serialises writers anyway; one connection also keeps
		// in-memory databases alive across queries.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(10)
	}
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn, driver: driver}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// EnsureSchema creates the token and provider tables when they are missing.
// Production schemas are owned by the admin surface; this exists for local
// development and tests.
func (db *DB) EnsureSchema(ctx context.Context) error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.driver == "postgres" {
		id = "BIGSERIAL PRIMARY KEY"
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			id ` + id + `,
			name TEXT NOT NULL DEFAULT '',
			token TEXT NOT NULL UNIQUE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS model_configs (
			id ` + id + `,
			provider TEXT NOT NULL,
			api_key TEXT NOT NULL,
			base_url TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_model_configs_provider ON model_configs(provider)`,
	}

	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// GetActiveToken retrieves an active access token by its raw value
func (db *DB) GetActiveToken(ctx context.Context, value string) (*models.AccessToken, error) {
	query := db.rebind(`
		SELECT id, name, token, is_active
		FROM tokens
		WHERE token = ? AND is_active = TRUE
		LIMIT 1
	`)

	var token models.AccessToken
	err := db.conn.QueryRowContext(ctx, query, value).Scan(
		&token.ID,
		&token.Name,
		&token.Token,
		&token.IsActive,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &token, nil
}

// GetActiveProvider retrieves the active config for a provider name.
// Names are matched case-sensitively.
func (db *DB) GetActiveProvider(ctx context.Context, name string) (*models.ProviderConfig, error) {
	query := db.rebind(`
		SELECT id, provider, api_key, base_url, is_active
		FROM model_configs
		WHERE provider = ? AND is_active = TRUE
		ORDER BY id DESC
		LIMIT 1
	`)

	var (
		cfg     models.ProviderConfig
		baseURL sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, query, name).Scan(
		&cfg.ID,
		&cfg.Provider,
		&cfg.APIKey,
		&baseURL,
		&cfg.IsActive,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	if baseURL.Valid && strings.TrimSpace(baseURL.String) != "" {
		cfg.BaseURL = &baseURL.String
	}

	return &cfg, nil
}

// rebind rewrites ? placeholders into $n for postgres.
func (db *DB) rebind(query string) string {
	if db.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
