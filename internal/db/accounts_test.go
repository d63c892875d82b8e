package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/testutil"
)

func createTestAccount(t *testing.T, pool *pgxpool.Pool, userID string) *models.EmailAccount {
	t.Helper()

	account := &models.EmailAccount{
		UserID:             userID,
		Email:              "user@example.com",
		IMAPHost:           "imap.example.com",
		IMAPPort:           993,
		IMAPSecurity:       models.SecuritySSL,
		IMAPUsername:       "user@example.com",
		EncryptedPassword:  "00:00:00",
		RejectUnauthorized: true,
		IsActive:           true,
	}
	require.NoError(t, CreateAccount(context.Background(), pool, account))
	return account
}

func TestGetAccount(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	userID := uuid.NewString()
	account := createTestAccount(t, pool, userID)
	require.NotEmpty(t, account.ID)

	t.Run("returns the account for its owner", func(t *testing.T) {
		got, err := GetAccount(ctx, pool, userID, account.ID)
		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)
		assert.Equal(t, models.ProviderIMAP, got.ProviderType)
		assert.Equal(t, "imap.example.com", got.IMAPHost)
		assert.Equal(t, 993, got.IMAPPort)
		assert.True(t, got.IsActive)
		assert.Nil(t, got.LastSyncAt)
		assert.Nil(t, got.OrganizationID)
	})

	t.Run("hides accounts of other users", func(t *testing.T) {
		_, err := GetAccount(ctx, pool, uuid.NewString(), account.ID)
		assert.True(t, errors.Is(err, ErrAccountNotFound), "got %v", err)
	})

	t.Run("malformed id is not found", func(t *testing.T) {
		_, err := GetAccount(ctx, pool, userID, "not-a-uuid")
		assert.True(t, errors.Is(err, ErrAccountNotFound), "got %v", err)
	})
}

func TestUpdateSyncStatus(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	userID := uuid.NewString()
	account := createTestAccount(t, pool, userID)
	syncedAt := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

	msg := "Connection to mail server timed out"
	require.NoError(t, UpdateSyncStatus(ctx, pool, account.ID, syncedAt, &msg))

	got, err := GetAccount(ctx, pool, userID, account.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, got.LastSyncAt.Equal(syncedAt))
	require.NotNil(t, got.SyncError)
	assert.Equal(t, msg, *got.SyncError)

	require.NoError(t, UpdateSyncStatus(ctx, pool, account.ID, syncedAt.Add(time.Hour), nil))
	got, err = GetAccount(ctx, pool, userID, account.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SyncError)

	err = UpdateSyncStatus(ctx, pool, uuid.NewString(), syncedAt, nil)
	assert.True(t, errors.Is(err, ErrAccountNotFound))
}

func TestListActiveIMAPAccounts(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	active := createTestAccount(t, pool, uuid.NewString())
	inactive := createTestAccount(t, pool, uuid.NewString())
	_, err := pool.Exec(ctx, `UPDATE email_accounts SET is_active = FALSE WHERE id = $1`, inactive.ID)
	require.NoError(t, err)

	accounts, err := ListActiveIMAPAccounts(ctx, pool)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, active.ID, accounts[0].ID)
}
