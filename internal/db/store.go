package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/models"
)

// Store exposes the package functions as methods so that callers can depend
// on small interfaces and be tested with fakes.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store that uses the given database pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetAccount(ctx context.Context, userID, accountID string) (*models.EmailAccount, error) {
	return GetAccount(ctx, s.pool, userID, accountID)
}

func (s *Store) ListActiveIMAPAccounts(ctx context.Context) ([]*models.EmailAccount, error) {
	return ListActiveIMAPAccounts(ctx, s.pool)
}

func (s *Store) UpdateSyncStatus(ctx context.Context, accountID string, syncedAt time.Time, syncErr *string) error {
	return UpdateSyncStatus(ctx, s.pool, accountID, syncedAt, syncErr)
}

func (s *Store) EmailExists(ctx context.Context, accountID, messageID, sourceKey string) (bool, error) {
	return EmailExists(ctx, s.pool, accountID, messageID, sourceKey)
}

func (s *Store) InsertThreadPlaceholders(ctx context.Context, threads []models.ThreadPlaceholder) error {
	return InsertThreadPlaceholders(ctx, s.pool, threads)
}

func (s *Store) InsertEmails(ctx context.Context, records []models.EmailIndexRecord) (map[string]string, error) {
	return InsertEmails(ctx, s.pool, records)
}

func (s *Store) InsertEmailContent(ctx context.Context, contents []models.EmailContentRecord) error {
	return InsertEmailContent(ctx, s.pool, contents)
}

func (s *Store) GetAnalysisEmail(ctx context.Context, emailID string) (*models.AnalysisEmail, error) {
	return GetAnalysisEmail(ctx, s.pool, emailID)
}

func (s *Store) SetEmailStatus(ctx context.Context, emailID, status string, errMsg *string) error {
	return SetEmailStatus(ctx, s.pool, emailID, status, errMsg)
}

func (s *Store) CompleteEmailAnalysis(ctx context.Context, emailID string, analysis []byte, analyzedAt time.Time) error {
	return CompleteEmailAnalysis(ctx, s.pool, emailID, analysis, analyzedAt)
}
