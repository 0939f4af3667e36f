package credentials

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-relay/internal/shared/config"
)

func TestOpen_SQLiteWithAutoMigrate(t *testing.T) {
	cfg := &config.Config{
		StoreDriver:   config.DriverSQLite,
		DatabaseURL:   "file:" + filepath.Join(t.TempDir(), "relay.db"),
		DBAutoMigrate: true,
	}

	store, err := Open(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ok, err := store.IsActiveToken(context.Background(), "sk-anything")
	if err != nil {
		t.Fatalf("IsActiveToken on empty schema: %v", err)
	}
	if ok {
		t.Error("empty store must not authenticate anything")
	}

	creds, ok, err := store.GetActiveProvider(context.Background(), "acme")
	if err != nil || ok || creds != nil {
		t.Errorf("GetActiveProvider = %v, %v, %v; want nil, false, nil", creds, ok, err)
	}
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.SAdd("gw:tokens:active", "sk-live")
	mr.HSet("gw:provider:acme", "api_key", "key-acme", "is_active", "1")

	cfg := &config.Config{
		StoreDriver:    config.DriverRedis,
		RedisURL:       "redis://" + mr.Addr(),
		RedisKeyPrefix: "gw:",
	}

	store, err := Open(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	if ok, err := store.IsActiveToken(ctx, "sk-live"); err != nil || !ok {
		t.Errorf("IsActiveToken = %v, %v", ok, err)
	}
	if ok, err := store.IsActiveToken(ctx, ""); err != nil || ok {
		t.Errorf("empty token = %v, %v; want false, nil", ok, err)
	}

	creds, ok, err := store.GetActiveProvider(ctx, "acme")
	if err != nil || !ok {
		t.Fatalf("GetActiveProvider = %v, %v", ok, err)
	}
	if creds.APIKey != "key-acme" || creds.BaseURL != nil || creds.Provider != "acme" {
		t.Errorf("unexpected credentials: %+v", creds)
	}

	if _, ok, err := store.GetActiveProvider(ctx, "missing"); err != nil || ok {
		t.Errorf("missing provider = %v, %v", ok, err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{StoreDriver: "mongo"}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error")
	}
}
