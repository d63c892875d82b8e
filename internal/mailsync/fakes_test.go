package mailsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/models"
)

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*models.EmailAccount
	getCalls int
	updates  []syncStatus
}

type syncStatus struct {
	accountID string
	syncedAt  time.Time
	syncErr   *string
}

func newFakeAccounts(accounts ...*models.EmailAccount) *fakeAccounts {
	f := &fakeAccounts{accounts: map[string]*models.EmailAccount{}}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) GetAccount(_ context.Context, userID, accountID string) (*models.EmailAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	a, ok := f.accounts[accountID]
	if !ok || a.UserID != userID {
		return nil, db.ErrAccountNotFound
	}
	return a, nil
}

func (f *fakeAccounts) UpdateSyncStatus(_ context.Context, accountID string, syncedAt time.Time, syncErr *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, syncStatus{accountID: accountID, syncedAt: syncedAt, syncErr: syncErr})
	return nil
}

func (f *fakeAccounts) lastUpdate() *syncStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return nil
	}
	return &f.updates[len(f.updates)-1]
}

// fakeEmails stores rows in memory. failIndexCall and failContentCall make
// the n-th (1-based) call of that kind fail.
type fakeEmails struct {
	mu              sync.Mutex
	rows            map[string]models.EmailIndexRecord
	contents        map[string]models.EmailContentRecord
	threads         map[string]bool
	indexCalls      int
	contentCalls    int
	threadCalls     int
	existsCalls     int
	failIndexCall   int
	failContentCall int
	failThreads     bool
	failExists      bool
	nextID          int
}

func newFakeEmails() *fakeEmails {
	return &fakeEmails{
		rows:     map[string]models.EmailIndexRecord{},
		contents: map[string]models.EmailContentRecord{},
		threads:  map[string]bool{},
	}
}

func (f *fakeEmails) EmailExists(_ context.Context, accountID, messageID, sourceKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	if f.failExists {
		return false, errors.New("database is down")
	}
	for _, r := range f.rows {
		if r.AccountID == accountID && (r.MessageID == messageID || r.SourceKey == sourceKey) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEmails) InsertThreadPlaceholders(_ context.Context, threads []models.ThreadPlaceholder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadCalls++
	if f.failThreads {
		return errors.New("thread insert failed")
	}
	for _, t := range threads {
		f.threads[t.AccountID+"/"+t.ThreadID] = true
	}
	return nil
}

func (f *fakeEmails) InsertEmails(_ context.Context, records []models.EmailIndexRecord) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexCalls++
	if f.indexCalls == f.failIndexCall {
		return nil, errors.New("index insert failed")
	}
	inserted := map[string]string{}
	for _, r := range records {
		key := r.AccountID + "/" + r.SourceKey
		if _, exists := f.rows[key]; exists {
			continue
		}
		f.nextID++
		r.ID = fmt.Sprintf("email-%d", f.nextID)
		f.rows[key] = r
		inserted[r.SourceKey] = r.ID
	}
	return inserted, nil
}

func (f *fakeEmails) InsertEmailContent(_ context.Context, contents []models.EmailContentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contentCalls++
	if f.contentCalls == f.failContentCall {
		return errors.New("content insert failed")
	}
	for _, c := range contents {
		f.contents[c.EmailID] = c
	}
	return nil
}

func (f *fakeEmails) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeFolder struct {
	messages []*models.RawMessage
}

type fakeMailbox struct {
	mu         sync.Mutex
	folders    map[string]*fakeFolder
	open       string
	fetched    map[string][]uint32
	fetchErr   map[uint32]error
	resolveErr error
	logouts    int
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		folders:  map[string]*fakeFolder{},
		fetched:  map[string][]uint32{},
		fetchErr: map[uint32]error{},
	}
}

func (m *fakeMailbox) add(folder string, raw ...string) {
	f, ok := m.folders[folder]
	if !ok {
		f = &fakeFolder{}
		m.folders[folder] = f
	}
	for _, r := range raw {
		seq := uint32(len(f.messages) + 1)
		f.messages = append(f.messages, &models.RawMessage{SeqNum: seq, UID: seq + 100, Body: []byte(r)})
	}
}

func (m *fakeMailbox) OpenFolder(name string) (*imap.FolderInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[name]
	if !ok {
		return nil, &imap.TransportError{Kind: imap.KindFolderNotFound, Op: "examine " + name, Err: errors.New("no such mailbox")}
	}
	m.open = name
	return &imap.FolderInfo{Name: name, Messages: uint32(len(f.messages))}, nil
}

func (m *fakeMailbox) ResolveFolder(candidates []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolveErr != nil {
		return "", m.resolveErr
	}
	for _, c := range candidates {
		for name := range m.folders {
			if strings.EqualFold(name, c) {
				return name, nil
			}
		}
	}
	return "", &imap.TransportError{Kind: imap.KindFolderNotFound, Op: "resolve", Err: errors.New("not found")}
}

func (m *fakeMailbox) FetchOne(seq uint32) (*models.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched[m.open] = append(m.fetched[m.open], seq)
	if err := m.fetchErr[seq]; err != nil && m.open == "INBOX" {
		return nil, err
	}
	f := m.folders[m.open]
	if int(seq) > len(f.messages) || seq == 0 {
		return nil, errors.New("no such message")
	}
	return f.messages[seq-1], nil
}

func (m *fakeMailbox) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logouts++
	return nil
}

type fakeTransport struct {
	mailbox  *fakeMailbox
	err      error
	dials    int
	endpoint imap.Endpoint
}

func (t *fakeTransport) Dial(_ context.Context, ep imap.Endpoint) (Mailbox, error) {
	t.dials++
	t.endpoint = ep
	if t.err != nil {
		return nil, t.err
	}
	return t.mailbox, nil
}

// fakeQueue blocks until ctx is done when hang is set.
type fakeQueue struct {
	tasks [][]models.AnalysisTask
	err   error
	hang  bool
}

func (q *fakeQueue) Enqueue(ctx context.Context, tasks []models.AnalysisTask) error {
	if q.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, tasks)
	return nil
}

type fakeLocker struct {
	err      error
	held     map[string]bool
	releases int
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	l.held[key] = true
	return func() {
		l.releases++
		delete(l.held, key)
	}, nil
}

type notification struct {
	userID    string
	eventType string
	payload   any
}

type fakeNotifier struct {
	events []notification
}

func (n *fakeNotifier) Notify(userID, eventType string, payload any) {
	n.events = append(n.events, notification{userID: userID, eventType: eventType, payload: payload})
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
	saved    map[string]int
	failed   map[string]int
	skipped  map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{saved: map[string]int{}, failed: map[string]int{}, skipped: map[string]int{}}
}

func (r *fakeRecorder) SyncFinished(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) EmailsSaved(emailType string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[emailType] += count
}

func (r *fakeRecorder) BatchFailed(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[stage]++
}

func (r *fakeRecorder) MessageSkipped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[reason]++
}

func rawEmail(messageID, subject, from, to string, date time.Time) string {
	var b strings.Builder
	if messageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	}
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", from, to, subject)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Body of %s\r\n", subject)
	return b.String()
}
