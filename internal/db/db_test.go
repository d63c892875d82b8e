package db

import (
	"context"
	"testing"
	"time"

	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/testutil"
)

func TestNewConnectionInvalidConfig(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "invalid-host-that-does-not-exist",
		DBPort:     "5432",
		DBUsername: "invalid",
		DBPassword: "invalid",
		DBName:     "invalid",
		DBSSLMode:  "disable",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewConnection(ctx, cfg)
	if err == nil {
		t.Fatal("Expected NewConnection() to fail with invalid config, but it succeeded")
	}
}

func TestCloseConnection(t *testing.T) {
	CloseConnection(nil)

	pool := testutil.NewTestDB(t)
	CloseConnection(pool)

	if err := pool.Ping(context.Background()); err == nil {
		t.Fatal("Expected Ping() to fail after pool was closed")
	}
}
