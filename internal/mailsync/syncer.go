package mailsync

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/lock"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/msgid"
)

const (
	inboxFolder = "INBOX"

	// EventSyncCompleted and EventSyncFailed are pushed to the user's live connections.
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"

	analysisPriority = 1

	// DefaultEnqueueTimeout bounds how long a sync waits for the broker to
	// accept the analysis hand-off.
	DefaultEnqueueTimeout = time.Second
)

// Options tunes a Syncer. Zero values fall back to the defaults.
type Options struct {
	EncryptionKey     string
	BatchSize         int
	DefaultMaxEmails  int
	MaxEmailsLimit    int
	AnalysisBatchSize int
	SentFolderNames   []string
	ConnectTimeout    time.Duration
	EnqueueTimeout    time.Duration
}

// Deps are the collaborators a Syncer talks to. Accounts, Emails and
// Transport are required; the rest may be nil.
type Deps struct {
	Accounts  AccountStore
	Emails    EmailStore
	Transport Transport
	Queue     AnalysisQueue
	Locker    Locker
	Notifier  Notifier
	Recorder  Recorder
	Now       func() time.Time
	Entropy   io.Reader
}

// Request asks for one mailbox account to be synced.
type Request struct {
	UserID    string
	AccountID string
	MaxEmails int
}

// Result is the outcome of a successful sync.
type Result struct {
	TotalSaved int       `json:"totalSaved"`
	Inbox      int       `json:"inbox"`
	Sent       int       `json:"sent"`
	Enqueued   int       `json:"enqueued"`
	SyncedAt   time.Time `json:"syncedAt"`
}

// Syncer runs sync invocations. One invocation is sequential; separate
// invocations may run concurrently for different accounts.
type Syncer struct {
	deps      Deps
	opts      Options
	persister *Persister
	sanitizer *msgid.Sanitizer
}

func NewSyncer(deps Deps, opts Options) *Syncer {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Entropy == nil {
		deps.Entropy = rand.Reader
	}
	if deps.Locker == nil {
		deps.Locker = nopLocker{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}

	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.DefaultMaxEmails < 1 {
		opts.DefaultMaxEmails = 50
	}
	if opts.MaxEmailsLimit < 1 {
		opts.MaxEmailsLimit = 500
	}
	if opts.AnalysisBatchSize < 1 {
		opts.AnalysisBatchSize = 10
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if len(opts.SentFolderNames) == 0 {
		opts.SentFolderNames = []string{"Sent", "Sent Items", "Sent Mail", "Sent Messages", "[Gmail]/Sent Mail", "INBOX.Sent"}
	}

	return &Syncer{
		deps:      deps,
		opts:      opts,
		persister: NewPersister(deps.Emails, opts.BatchSize, deps.Recorder),
		sanitizer: msgid.New(deps.Now, deps.Entropy),
	}
}

// run carries the state of one invocation.
type run struct {
	account *models.EmailAccount
	gate    *DedupGate
	logger  *log.Entry
	state   State
}

func (r *run) transition(to State) {
	r.logger.WithFields(log.Fields{"from": r.state.String(), "to": to.String()}).Debug("Sync: state change")
	r.state = to
}

// Sync ingests the most recent messages of the account's INBOX and Sent
// folders. Every returned error is an *Error.
func (s *Syncer) Sync(ctx context.Context, req Request) (*Result, error) {
	started := s.deps.Now()
	r := &run{
		logger: log.WithFields(log.Fields{"user_id": req.UserID, "account_id": req.AccountID}),
		state:  StateIdle,
	}

	result, err := s.sync(ctx, r, req)
	duration := s.deps.Now().Sub(started)
	if err != nil {
		r.transition(StateError)
		kind := KindOf(err)
		s.deps.Recorder.SyncFinished(kind.String(), duration)
		r.logger.WithField("kind", kind.String()).WithError(err).Warn("Sync: failed")
		if r.account != nil {
			s.deps.Notifier.Notify(req.UserID, EventSyncFailed, map[string]string{
				"accountId": req.AccountID,
				"error":     MessageOf(err),
			})
		}
		return nil, err
	}

	r.transition(StateDone)
	s.deps.Recorder.SyncFinished("success", duration)
	r.logger.WithFields(log.Fields{
		"total_saved": result.TotalSaved,
		"inbox":       result.Inbox,
		"sent":        result.Sent,
		"duration_ms": duration.Milliseconds(),
	}).Info("Sync: completed")
	s.deps.Notifier.Notify(req.UserID, EventSyncCompleted, map[string]any{
		"accountId":  req.AccountID,
		"totalSaved": result.TotalSaved,
		"breakdown":  map[string]int{"inbox": result.Inbox, "sent": result.Sent},
		"syncedAt":   result.SyncedAt,
	})
	return result, nil
}

func (s *Syncer) sync(ctx context.Context, r *run, req Request) (*Result, error) {
	r.transition(StateAuthorizing)
	if req.UserID == "" {
		return nil, newError(KindUnauthorized, "Unauthorized", nil)
	}
	if req.AccountID == "" {
		return nil, newError(KindBadRequest, "accountId is required", nil)
	}
	maxEmails := s.clampMaxEmails(req.MaxEmails)

	release, err := s.deps.Locker.Acquire(ctx, req.AccountID)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		return nil, newError(KindConflict, "A sync is already running for this account", err)
	case err != nil:
		r.logger.WithError(err).Warn("Sync: lock unavailable, continuing without it")
	default:
		defer release()
	}

	account, err := s.deps.Accounts.GetAccount(ctx, req.UserID, req.AccountID)
	if err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			return nil, newError(KindNotFound, "Email account not found", err)
		}
		return nil, newError(KindInternal, "Failed to load email account", err)
	}
	if !account.IsActive || account.ProviderType != models.ProviderIMAP {
		return nil, newError(KindNotFound, "Email account not found or inactive", nil)
	}
	r.account = account
	r.gate = NewDedupGate(s.deps.Emails)

	result, err := s.ingest(ctx, r, maxEmails)
	syncedAt := s.deps.Now()

	r.transition(StateUpdatingMetadata)
	var syncErr *string
	if err != nil {
		msg := MessageOf(err)
		syncErr = &msg
	}
	// Recorded even when the request was cancelled.
	metaCtx := context.WithoutCancel(ctx)
	if metaErr := s.deps.Accounts.UpdateSyncStatus(metaCtx, account.ID, syncedAt, syncErr); metaErr != nil {
		r.logger.WithError(metaErr).Warn("Sync: failed to update sync metadata")
	}
	if err != nil {
		return nil, err
	}
	result.SyncedAt = syncedAt

	r.transition(StateEnqueueingAnalysis)
	result.Enqueued = s.enqueue(metaCtx, r, result.inboxEmails)

	return &result.Result, nil
}

func (s *Syncer) clampMaxEmails(requested int) int {
	switch {
	case requested <= 0:
		return s.opts.DefaultMaxEmails
	case requested > s.opts.MaxEmailsLimit:
		return s.opts.MaxEmailsLimit
	default:
		return requested
	}
}

type ingestResult struct {
	Result
	inboxEmails []models.EmailIndexRecord
}

// ingest connects, walks INBOX then Sent and persists what it admits.
func (s *Syncer) ingest(ctx context.Context, r *run, maxEmails int) (*ingestResult, error) {
	encryptor, err := crypto.NewEncryptor(s.opts.EncryptionKey)
	if err != nil {
		return nil, newError(KindConfiguration, "Encryption key is not configured", err)
	}
	password, err := encryptor.Decrypt(r.account.EncryptedPassword)
	if err != nil {
		return nil, newError(KindCredential, "Stored mailbox password could not be decrypted", err)
	}

	r.transition(StateConnectingMailbox)
	mailbox, err := s.deps.Transport.Dial(ctx, imap.Endpoint{
		Host:               r.account.IMAPHost,
		Port:               r.account.IMAPPort,
		Security:           r.account.IMAPSecurity,
		Username:           r.account.IMAPUsername,
		Password:           password,
		RejectUnauthorized: r.account.RejectUnauthorized,
		Timeout:            s.opts.ConnectTimeout,
	})
	if err != nil {
		return nil, transportError(err)
	}
	defer func() {
		if err := mailbox.Logout(); err != nil {
			r.logger.WithError(err).Debug("Sync: logout failed")
		}
	}()

	// Two folders share the budget.
	perFolder := max(1, maxEmails/2)
	out := &ingestResult{}

	r.transition(StateSyncingInbox)
	inbox, err := s.syncFolder(ctx, r, mailbox, inboxFolder, models.EmailTypeReceived, perFolder)
	if err != nil {
		return nil, s.folderError(err)
	}
	out.Inbox = inbox.Saved
	out.inboxEmails = inbox.Emails

	r.transition(StateSyncingSent)
	sentName, err := mailbox.ResolveFolder(s.opts.SentFolderNames)
	switch {
	case imap.IsKind(err, imap.KindFolderNotFound):
		r.logger.Info("Sync: no sent folder, skipping")
	case err != nil:
		return nil, s.folderError(err)
	default:
		sent, err := s.syncFolder(ctx, r, mailbox, sentName, models.EmailTypeSent, perFolder)
		switch {
		case imap.IsKind(err, imap.KindFolderNotFound):
			r.logger.WithField("folder", sentName).Info("Sync: sent folder disappeared, skipping")
		case err != nil:
			return nil, s.folderError(err)
		default:
			out.Sent = sent.Saved
		}
	}

	out.TotalSaved = out.Inbox + out.Sent
	return out, nil
}

func (s *Syncer) folderError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindInternal, "Sync was cancelled", err)
	}
	return transportError(err)
}

// syncFolder fetches, parses, sanitizes and dedups one folder's window and
// persists the admitted messages. Per-message failures are skipped.
func (s *Syncer) syncFolder(ctx context.Context, r *run, mailbox Mailbox, folder, emailType string, limit int) (Outcome, error) {
	logger := r.logger.WithField("folder", folder)

	info, err := mailbox.OpenFolder(folder)
	if err != nil {
		return Outcome{}, err
	}

	var admitted []models.AdmittedEmail
	duplicates := 0
	for _, seq := range imap.Window(info.Messages, uint32(limit)) {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		raw, err := mailbox.FetchOne(seq)
		if err != nil {
			s.deps.Recorder.MessageSkipped("fetch")
			logger.WithField("seq", seq).WithError(err).Warn("Sync: fetch failed, skipping message")
			continue
		}

		parsed, err := imap.ParseMessage(raw, s.deps.Now())
		if err != nil {
			s.deps.Recorder.MessageSkipped("parse")
			logger.WithField("seq", seq).WithError(err).Warn("Sync: parse failed, skipping message")
			continue
		}

		email := buildEmail(r.account, parsed, s.sanitizer.Sanitize(parsed.MessageID), folder, emailType)
		ok, err := r.gate.Admit(ctx, r.account.ID, email.Index.MessageID, email.Index.SourceKey)
		if err != nil {
			s.deps.Recorder.MessageSkipped("dedup")
			logger.WithField("seq", seq).WithError(err).Warn("Sync: dedup check failed, skipping message")
			continue
		}
		if !ok {
			duplicates++
			s.deps.Recorder.MessageSkipped("duplicate")
			continue
		}
		admitted = append(admitted, email)
	}

	generated := 0
	for _, email := range admitted {
		if msgid.Generated(email.Index.MessageID) {
			generated++
		}
	}

	outcome := s.persister.Persist(ctx, admitted)
	s.deps.Recorder.EmailsSaved(emailType, outcome.Saved)
	logger.WithFields(log.Fields{
		"available":      info.Messages,
		"admitted":       len(admitted),
		"generated_ids":  generated,
		"duplicates":     duplicates,
		"saved":          outcome.Saved,
		"failed_batches": outcome.FailedBatches,
	}).Info("Sync: folder done")

	return outcome, nil
}

// enqueue hands the newest inbox emails to the analysis queue. Failures are
// logged and never fail the sync.
func (s *Syncer) enqueue(ctx context.Context, r *run, emails []models.EmailIndexRecord) int {
	if s.deps.Queue == nil || len(emails) == 0 {
		return 0
	}

	recent := make([]models.EmailIndexRecord, len(emails))
	copy(recent, emails)
	sort.SliceStable(recent, func(i, j int) bool {
		return receivedAt(recent[i]).After(receivedAt(recent[j]))
	})
	if len(recent) > s.opts.AnalysisBatchSize {
		recent = recent[:s.opts.AnalysisBatchSize]
	}

	tasks := make([]models.AnalysisTask, 0, len(recent))
	for _, e := range recent {
		tasks = append(tasks, models.AnalysisTask{
			EmailID:        e.ID,
			UserID:         e.UserID,
			OrganizationID: e.OrganizationID,
			Priority:       analysisPriority,
		})
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, s.opts.EnqueueTimeout)
	defer cancel()
	if err := s.deps.Queue.Enqueue(enqueueCtx, tasks); err != nil {
		r.logger.WithError(err).Warn("Sync: failed to enqueue analysis")
		return 0
	}
	return len(tasks)
}

func receivedAt(e models.EmailIndexRecord) time.Time {
	if e.ReceivedAt != nil {
		return *e.ReceivedAt
	}
	return time.Time{}
}
