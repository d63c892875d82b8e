package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vdavid/mailsync/internal/models"
)

// NewTestDB starts a throwaway Postgres, applies the mailsync schema and
// returns a pool to it. Container and pool go away with the test.
func NewTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("mailsync_test"),
		postgres.WithUsername("mailsync"),
		postgres.WithPassword("mailsync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate Postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Batch writes run on a single connection, so a small pool is plenty.
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("Failed to parse connection string: %v", err)
	}
	config.MaxConns = 8

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := applySchema(ctx, pool); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}
	return pool
}

// applySchema runs every *.up.sql file in one transaction, in file name order.
func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no migrations in %s", dir)
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, file := range files {
			sql, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read migration %s: %w", filepath.Base(file), err)
			}
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", filepath.Base(file), err)
			}
		}
		return nil
	})
}

// migrationsDir walks up from the package under test to the module root.
func migrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations"), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("module root not found above working directory")
		}
		dir = parent
	}
}

// SeedAccount inserts an active IMAP account for userID. Edits run before
// the insert, so callers can point the account at a test server.
func SeedAccount(t *testing.T, pool *pgxpool.Pool, userID string, edits ...func(*models.EmailAccount)) *models.EmailAccount {
	t.Helper()

	account := &models.EmailAccount{
		UserID:             userID,
		ProviderType:       models.ProviderIMAP,
		Email:              "username@example.com",
		IMAPHost:           "imap.example.com",
		IMAPPort:           993,
		IMAPSecurity:       models.SecuritySSL,
		IMAPUsername:       "username@example.com",
		EncryptedPassword:  EncryptPassword(t, "mailbox-secret"),
		RejectUnauthorized: true,
		IsActive:           true,
	}
	for _, edit := range edits {
		edit(account)
	}

	err := pool.QueryRow(context.Background(), `
		INSERT INTO email_accounts (
			user_id, organization_id, provider_type, email,
			imap_host, imap_port, imap_security, imap_username,
			imap_password_encrypted, reject_unauthorized, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`,
		account.UserID, account.OrganizationID, account.ProviderType, account.Email,
		account.IMAPHost, account.IMAPPort, account.IMAPSecurity, account.IMAPUsername,
		account.EncryptedPassword, account.RejectUnauthorized, account.IsActive,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		t.Fatalf("Failed to seed email account: %v", err)
	}
	return account
}

// TruncateEmails empties the synced mail tables and keeps the accounts.
func TruncateEmails(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `TRUNCATE email_content_cache, emails, email_threads`)
	if err != nil {
		t.Fatalf("Failed to truncate email tables: %v", err)
	}
}

// CountEmails returns how many index rows the account has.
func CountEmails(t *testing.T, pool *pgxpool.Pool, accountID string) int {
	t.Helper()
	return countRows(t, pool, `SELECT count(*) FROM emails WHERE email_account_id = $1`, accountID)
}

// CountEmailContent returns how many content cache rows the account has.
func CountEmailContent(t *testing.T, pool *pgxpool.Pool, accountID string) int {
	t.Helper()
	return countRows(t, pool, `
		SELECT count(*)
		FROM email_content_cache c
		JOIN emails e ON e.id = c.email_id
		WHERE e.email_account_id = $1
	`, accountID)
}

func countRows(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()

	var count int
	if err := pool.QueryRow(context.Background(), query, args...).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	return count
}
