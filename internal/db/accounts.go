package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrAccountNotFound is returned when no account matches the id and user.
var ErrAccountNotFound = errors.New("email account not found")

const accountColumns = `
	id,
	user_id,
	organization_id,
	provider_type,
	email,
	imap_host,
	imap_port,
	imap_security,
	imap_username,
	imap_password_encrypted,
	reject_unauthorized,
	is_active,
	last_sync_at,
	sync_error,
	created_at,
	updated_at`

func scanAccount(row pgx.Row) (*models.EmailAccount, error) {
	var a models.EmailAccount
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.OrganizationID,
		&a.ProviderType,
		&a.Email,
		&a.IMAPHost,
		&a.IMAPPort,
		&a.IMAPSecurity,
		&a.IMAPUsername,
		&a.EncryptedPassword,
		&a.RejectUnauthorized,
		&a.IsActive,
		&a.LastSyncAt,
		&a.SyncError,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts an account and fills in its generated fields.
func CreateAccount(ctx context.Context, pool *pgxpool.Pool, account *models.EmailAccount) error {
	if account.ProviderType == "" {
		account.ProviderType = models.ProviderIMAP
	}
	if account.IMAPSecurity == "" {
		account.IMAPSecurity = models.SecuritySSL
	}

	err := pool.QueryRow(ctx, `
		INSERT INTO email_accounts (
			user_id, organization_id, provider_type, email,
			imap_host, imap_port, imap_security, imap_username,
			imap_password_encrypted, reject_unauthorized, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`,
		account.UserID,
		account.OrganizationID,
		account.ProviderType,
		account.Email,
		account.IMAPHost,
		account.IMAPPort,
		account.IMAPSecurity,
		account.IMAPUsername,
		account.EncryptedPassword,
		account.RejectUnauthorized,
		account.IsActive,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create email account: %w", err)
	}

	return nil
}

// GetAccount returns the account with the given id if it belongs to userID.
func GetAccount(ctx context.Context, pool *pgxpool.Pool, userID, accountID string) (*models.EmailAccount, error) {
	account, err := scanAccount(pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM email_accounts
		WHERE id = $1 AND user_id = $2
	`, accountID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get email account: %w", err)
	}

	return account, nil
}

// ListActiveIMAPAccounts returns every active IMAP account, oldest sync first.
func ListActiveIMAPAccounts(ctx context.Context, pool *pgxpool.Pool) ([]*models.EmailAccount, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM email_accounts
		WHERE is_active AND provider_type = $1
		ORDER BY last_sync_at ASC NULLS FIRST, created_at ASC
	`, models.ProviderIMAP)
	if err != nil {
		return nil, fmt.Errorf("failed to list email accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.EmailAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list email accounts: %w", err)
	}

	return accounts, nil
}

// UpdateSyncStatus records the outcome of a sync. A nil syncErr clears any
// previous error.
func UpdateSyncStatus(ctx context.Context, pool *pgxpool.Pool, accountID string, syncedAt time.Time, syncErr *string) error {
	tag, err := pool.Exec(ctx, `
		UPDATE email_accounts
		SET last_sync_at = $2, sync_error = $3, updated_at = now()
		WHERE id = $1
	`, accountID, syncedAt, syncErr)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// isInvalidText reports a malformed literal, such as an id that is not a UUID.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
