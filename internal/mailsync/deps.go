package mailsync

import (
	"context"
	"time"

	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
)

// Mailbox is an open, authenticated mail session.
type Mailbox interface {
	OpenFolder(name string) (*imap.FolderInfo, error)
	ResolveFolder(candidates []string) (string, error)
	FetchOne(seq uint32) (*models.RawMessage, error)
	Logout() error
}

// Transport opens mail sessions.
type Transport interface {
	Dial(ctx context.Context, ep imap.Endpoint) (Mailbox, error)
}

type imapTransport struct {
	dialer *imap.Dialer
}

// NewIMAPTransport adapts an imap.Dialer to Transport.
func NewIMAPTransport(dialer *imap.Dialer) Transport {
	return &imapTransport{dialer: dialer}
}

func (t *imapTransport) Dial(ctx context.Context, ep imap.Endpoint) (Mailbox, error) {
	session, err := t.dialer.Dial(ctx, ep)
	if err != nil {
		return nil, err
	}
	return session, nil
}

type AccountStore interface {
	GetAccount(ctx context.Context, userID, accountID string) (*models.EmailAccount, error)
	UpdateSyncStatus(ctx context.Context, accountID string, syncedAt time.Time, syncErr *string) error
}

type EmailStore interface {
	EmailExists(ctx context.Context, accountID, messageID, sourceKey string) (bool, error)
	InsertThreadPlaceholders(ctx context.Context, threads []models.ThreadPlaceholder) error
	InsertEmails(ctx context.Context, records []models.EmailIndexRecord) (map[string]string, error)
	InsertEmailContent(ctx context.Context, contents []models.EmailContentRecord) error
}

// Locker provides per-account mutual exclusion across processes. Acquire
// returns lock.ErrNotAcquired when another holder has the key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// AnalysisQueue accepts analysis tasks for the background worker.
type AnalysisQueue interface {
	Enqueue(ctx context.Context, tasks []models.AnalysisTask) error
}

// Notifier pushes events to a user's live connections.
type Notifier interface {
	Notify(userID, eventType string, payload any)
}

// Recorder receives sync metrics.
type Recorder interface {
	SyncFinished(outcome string, duration time.Duration)
	EmailsSaved(emailType string, count int)
	BatchFailed(stage string)
	MessageSkipped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) SyncFinished(string, time.Duration) {}
func (nopRecorder) EmailsSaved(string, int)            {}
func (nopRecorder) BatchFailed(string)                 {}
func (nopRecorder) MessageSkipped(string)              {}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, any) {}

type nopLocker struct{}

func (nopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
