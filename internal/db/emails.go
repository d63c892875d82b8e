package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrMixedBatch is returned when a batch spans more than one account.
var ErrMixedBatch = errors.New("batch mixes emails from different accounts")

// EmailExists reports whether the account already stores an email with the
// given message id or source key.
func EmailExists(ctx context.Context, pool *pgxpool.Pool, accountID, messageID, sourceKey string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM emails
			WHERE email_account_id = $1 AND (message_id = $2 OR source_key = $3)
		)
	`, accountID, messageID, sourceKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}

	return exists, nil
}

// InsertThreadPlaceholders inserts threads that do not exist yet. Existing
// threads are left untouched.
func InsertThreadPlaceholders(ctx context.Context, pool *pgxpool.Pool, threads []models.ThreadPlaceholder) error {
	if len(threads) == 0 {
		return nil
	}

	accountIDs := make([]string, len(threads))
	threadIDs := make([]string, len(threads))
	userIDs := make([]string, len(threads))
	subjects := make([]string, len(threads))
	for i, t := range threads {
		accountIDs[i] = t.AccountID
		threadIDs[i] = t.ThreadID
		userIDs[i] = t.UserID
		subjects[i] = t.Subject
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO email_threads (email_account_id, thread_id, user_id, subject)
		SELECT t.account_id::uuid, t.thread_id, t.user_id::uuid, t.subject
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[])
			AS t(account_id, thread_id, user_id, subject)
		ON CONFLICT (email_account_id, thread_id) DO NOTHING
	`, accountIDs, threadIDs, userIDs, subjects)
	if err != nil {
		return fmt.Errorf("failed to insert thread placeholders: %w", err)
	}

	return nil
}

// InsertEmails bulk-inserts index rows for one account in a single statement.
// Rows whose source key is already stored are skipped. The result maps the
// source key of every inserted row to its new id.
func InsertEmails(ctx context.Context, pool *pgxpool.Pool, records []models.EmailIndexRecord) (map[string]string, error) {
	inserted := make(map[string]string, len(records))
	if len(records) == 0 {
		return inserted, nil
	}

	first := records[0]
	n := len(records)
	var (
		messageIDs   = make([]string, n)
		sourceKeys   = make([]string, n)
		threadIDs    = make([]string, n)
		emailTypes   = make([]string, n)
		folders      = make([]string, n)
		subjects     = make([]string, n)
		previews     = make([]string, n)
		fromAddrs    = make([]string, n)
		fromNames    = make([]string, n)
		toAddrs      = make([]string, n)
		receivedAt   = make([]pgtype.Timestamptz, n)
		sentAt       = make([]pgtype.Timestamptz, n)
		isRead       = make([]bool, n)
		attachCounts = make([]int32, n)
	)
	for i, r := range records {
		if r.AccountID != first.AccountID {
			return nil, ErrMixedBatch
		}
		messageIDs[i] = r.MessageID
		sourceKeys[i] = r.SourceKey
		threadIDs[i] = r.ThreadID
		emailTypes[i] = r.EmailType
		folders[i] = r.FolderName
		subjects[i] = r.Subject
		previews[i] = r.PreviewText
		fromAddrs[i] = r.FromAddress
		fromNames[i] = r.FromName
		toAddrs[i] = r.ToAddress
		receivedAt[i] = timestamptz(r.ReceivedAt)
		sentAt[i] = timestamptz(r.SentAt)
		isRead[i] = r.IsRead
		attachCounts[i] = int32(r.AttachmentCount)
	}

	rows, err := pool.Query(ctx, `
		INSERT INTO emails (
			email_account_id, user_id, organization_id,
			message_id, source_key, thread_id, email_type, folder_name,
			subject, preview_text, from_address, from_name, to_address,
			received_at, sent_at, is_read, has_attachments, attachment_count,
			processing_status
		)
		SELECT
			$1::uuid, $2::uuid, $3::uuid,
			t.message_id, t.source_key, t.thread_id, t.email_type, t.folder_name,
			t.subject, t.preview_text, t.from_address, t.from_name, t.to_address,
			t.received_at, t.sent_at, t.is_read, t.attachment_count > 0, t.attachment_count,
			'pending'
		FROM unnest(
			$4::text[], $5::text[], $6::text[], $7::text[], $8::text[],
			$9::text[], $10::text[], $11::text[], $12::text[], $13::text[],
			$14::timestamptz[], $15::timestamptz[], $16::bool[], $17::int4[]
		) AS t(
			message_id, source_key, thread_id, email_type, folder_name,
			subject, preview_text, from_address, from_name, to_address,
			received_at, sent_at, is_read, attachment_count
		)
		ON CONFLICT (email_account_id, source_key) DO NOTHING
		RETURNING id, source_key
	`,
		first.AccountID, first.UserID, first.OrganizationID,
		messageIDs, sourceKeys, threadIDs, emailTypes, folders,
		subjects, previews, fromAddrs, fromNames, toAddrs,
		receivedAt, sentAt, isRead, attachCounts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert emails: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, sourceKey string
		if err := rows.Scan(&id, &sourceKey); err != nil {
			return nil, fmt.Errorf("failed to scan inserted email: %w", err)
		}
		inserted[sourceKey] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to insert emails: %w", err)
	}

	return inserted, nil
}

// InsertEmailContent bulk-inserts content cache rows.
func InsertEmailContent(ctx context.Context, pool *pgxpool.Pool, contents []models.EmailContentRecord) error {
	if len(contents) == 0 {
		return nil
	}

	emailIDs := make([]string, len(contents))
	messageIDs := make([]string, len(contents))
	texts := make([]string, len(contents))
	htmls := make([]string, len(contents))
	for i, c := range contents {
		emailIDs[i] = c.EmailID
		messageIDs[i] = c.MessageID
		texts[i] = c.BodyText
		htmls[i] = c.BodyHTML
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO email_content_cache (email_id, message_id, body_text, body_html)
		SELECT t.email_id::uuid, t.message_id, t.body_text, t.body_html
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[])
			AS t(email_id, message_id, body_text, body_html)
		ON CONFLICT (email_id) DO NOTHING
	`, emailIDs, messageIDs, texts, htmls)
	if err != nil {
		return fmt.Errorf("failed to insert email content: %w", err)
	}

	return nil
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
