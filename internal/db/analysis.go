package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrEmailNotFound is returned when an email id does not exist.
var ErrEmailNotFound = errors.New("email not found")

// GetAnalysisEmail loads an email together with its cached plain text body.
func GetAnalysisEmail(ctx context.Context, pool *pgxpool.Pool, emailID string) (*models.AnalysisEmail, error) {
	var e models.AnalysisEmail
	err := pool.QueryRow(ctx, `
		SELECT
			e.id,
			e.user_id,
			e.subject,
			e.from_address,
			e.from_name,
			e.to_address,
			e.email_type,
			e.received_at,
			COALESCE(c.body_text, ''),
			e.processing_status
		FROM emails e
		LEFT JOIN email_content_cache c ON c.email_id = e.id
		WHERE e.id = $1
	`, emailID).Scan(
		&e.ID,
		&e.UserID,
		&e.Subject,
		&e.FromAddress,
		&e.FromName,
		&e.ToAddress,
		&e.EmailType,
		&e.ReceivedAt,
		&e.BodyText,
		&e.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrEmailNotFound
		}
		return nil, fmt.Errorf("failed to get email for analysis: %w", err)
	}

	return &e, nil
}

// SetEmailStatus moves an email to the given processing status. errMsg is
// stored as the analysis error; nil clears it.
func SetEmailStatus(ctx context.Context, pool *pgxpool.Pool, emailID, status string, errMsg *string) error {
	tag, err := pool.Exec(ctx, `
		UPDATE emails
		SET processing_status = $2, analysis_error = $3, updated_at = now()
		WHERE id = $1
	`, emailID, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to set email status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEmailNotFound
	}

	return nil
}

// CompleteEmailAnalysis stores the analyzer result and marks the email completed.
func CompleteEmailAnalysis(ctx context.Context, pool *pgxpool.Pool, emailID string, analysis []byte, analyzedAt time.Time) error {
	tag, err := pool.Exec(ctx, `
		UPDATE emails
		SET processing_status = 'completed',
			ai_analysis = $2,
			analyzed_at = $3,
			analysis_error = NULL,
			updated_at = now()
		WHERE id = $1
	`, emailID, analysis, analyzedAt)
	if err != nil {
		return fmt.Errorf("failed to store email analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEmailNotFound
	}

	return nil
}
