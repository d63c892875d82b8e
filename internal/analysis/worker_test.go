package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
)

type statusChange struct {
	status string
	errMsg *string
}

type fakeStore struct {
	mu        sync.Mutex
	emails    map[string]*models.AnalysisEmail
	statuses  map[string][]statusChange
	completed map[string][]byte
	getErr    error
}

func newFakeStore(emails ...*models.AnalysisEmail) *fakeStore {
	s := &fakeStore{
		emails:    map[string]*models.AnalysisEmail{},
		statuses:  map[string][]statusChange{},
		completed: map[string][]byte{},
	}
	for _, e := range emails {
		s.emails[e.ID] = e
	}
	return s
}

func (s *fakeStore) GetAnalysisEmail(_ context.Context, emailID string) (*models.AnalysisEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	e, ok := s.emails[emailID]
	if !ok {
		return nil, db.ErrEmailNotFound
	}
	copied := *e
	return &copied, nil
}

func (s *fakeStore) SetEmailStatus(_ context.Context, emailID, status string, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[emailID]
	if !ok {
		return db.ErrEmailNotFound
	}
	e.Status = status
	s.statuses[emailID] = append(s.statuses[emailID], statusChange{status: status, errMsg: errMsg})
	return nil
}

func (s *fakeStore) CompleteEmailAnalysis(_ context.Context, emailID string, analysis []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[emailID].Status = models.StatusCompleted
	s.completed[emailID] = analysis
	return nil
}

func (s *fakeStore) lastStatus(emailID string) statusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	changes := s.statuses[emailID]
	if len(changes) == 0 {
		return statusChange{}
	}
	return changes[len(changes)-1]
}

type fakeAnalyzer struct {
	failFor map[string]error
	calls   []string
}

func (a *fakeAnalyzer) Analyze(_ context.Context, email *models.AnalysisEmail, _ models.AnalysisTask) (json.RawMessage, error) {
	a.calls = append(a.calls, email.ID)
	if err := a.failFor[email.ID]; err != nil {
		return nil, err
	}
	return json.RawMessage(`{"summary":"` + email.Subject + `"}`), nil
}

type fakeRetrier struct {
	batches []models.AnalysisBatch
	err     error
}

func (r *fakeRetrier) Publish(_ context.Context, batch models.AnalysisBatch) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, batch)
	return nil
}

type fakeRecorder struct {
	outcomes map[string]int
}

func (r *fakeRecorder) TaskProcessed(outcome string) {
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func pendingEmail(id string) *models.AnalysisEmail {
	return &models.AnalysisEmail{ID: id, UserID: "user-1", Subject: "Subject " + id, Status: models.StatusPending}
}

func tasksFor(ids ...string) []models.AnalysisTask {
	tasks := make([]models.AnalysisTask, len(ids))
	for i, id := range ids {
		tasks[i] = models.AnalysisTask{EmailID: id, UserID: "user-1", Priority: 1}
	}
	return tasks
}

func TestWorkerCompletesTasks(t *testing.T) {
	store := newFakeStore(pendingEmail("e1"), pendingEmail("e2"))
	analyzer := &fakeAnalyzer{}
	retrier := &fakeRetrier{}
	recorder := &fakeRecorder{}

	NewWorker(store, analyzer, retrier, 3, recorder).Process(context.Background(), models.AnalysisBatch{
		BatchID: "b1", Tasks: tasksFor("e1", "e2"), Attempt: 1,
	})

	assert.Equal(t, []string{"e1", "e2"}, analyzer.calls)
	assert.JSONEq(t, `{"summary":"Subject e1"}`, string(store.completed["e1"]))
	assert.Equal(t, models.StatusProcessing, store.statuses["e1"][0].status)
	assert.Equal(t, models.StatusCompleted, store.emails["e2"].Status)
	assert.Empty(t, retrier.batches)
	assert.Equal(t, 2, recorder.outcomes[outcomeCompleted])
}

func TestWorkerSkipsCompletedUnlessForced(t *testing.T) {
	done := pendingEmail("e1")
	done.Status = models.StatusCompleted
	store := newFakeStore(done)
	analyzer := &fakeAnalyzer{}
	worker := NewWorker(store, analyzer, &fakeRetrier{}, 3, nil)

	worker.Process(context.Background(), models.AnalysisBatch{BatchID: "b1", Tasks: tasksFor("e1"), Attempt: 1})
	assert.Empty(t, analyzer.calls)

	forced := tasksFor("e1")
	forced[0].ForceReprocess = true
	worker.Process(context.Background(), models.AnalysisBatch{BatchID: "b2", Tasks: forced, Attempt: 1})
	assert.Equal(t, []string{"e1"}, analyzer.calls)
}

func TestWorkerSkipsDeletedEmails(t *testing.T) {
	store := newFakeStore()
	retrier := &fakeRetrier{}
	recorder := &fakeRecorder{}

	NewWorker(store, &fakeAnalyzer{}, retrier, 3, recorder).Process(context.Background(), models.AnalysisBatch{
		BatchID: "b1", Tasks: tasksFor("gone"), Attempt: 1,
	})

	assert.Empty(t, retrier.batches)
	assert.Equal(t, 1, recorder.outcomes[outcomeSkipped])
}

func TestWorkerRetriesFailedTasks(t *testing.T) {
	store := newFakeStore(pendingEmail("e1"), pendingEmail("e2"))
	analyzer := &fakeAnalyzer{failFor: map[string]error{"e2": errors.New("analyzer unavailable")}}
	retrier := &fakeRetrier{}
	recorder := &fakeRecorder{}

	NewWorker(store, analyzer, retrier, 3, recorder).Process(context.Background(), models.AnalysisBatch{
		BatchID: "b1", Tasks: tasksFor("e1", "e2"), Attempt: 1,
	})

	require.Len(t, retrier.batches, 1)
	retry := retrier.batches[0]
	assert.Equal(t, "b1", retry.BatchID)
	assert.Equal(t, 2, retry.Attempt)
	assert.Equal(t, tasksFor("e2"), retry.Tasks)

	last := store.lastStatus("e2")
	assert.Equal(t, models.StatusPending, last.status)
	require.NotNil(t, last.errMsg)
	assert.Equal(t, "analyzer unavailable", *last.errMsg)
	assert.Equal(t, models.StatusCompleted, store.emails["e1"].Status)
	assert.Equal(t, 1, recorder.outcomes[outcomeRetried])
}

func TestWorkerKeepsEachTaskError(t *testing.T) {
	store := newFakeStore(pendingEmail("e1"), pendingEmail("e2"))
	analyzer := &fakeAnalyzer{failFor: map[string]error{
		"e1": errors.New("analyzer timed out"),
		"e2": errors.New("analyzer rejected input"),
	}}

	for _, attempt := range []int{1, 3} {
		NewWorker(store, analyzer, &fakeRetrier{}, 3, nil).Process(context.Background(), models.AnalysisBatch{
			BatchID: "b1", Tasks: tasksFor("e1", "e2"), Attempt: attempt,
		})

		first, second := store.lastStatus("e1"), store.lastStatus("e2")
		require.NotNil(t, first.errMsg)
		require.NotNil(t, second.errMsg)
		assert.Equal(t, "analyzer timed out", *first.errMsg, "attempt %d", attempt)
		assert.Equal(t, "analyzer rejected input", *second.errMsg, "attempt %d", attempt)
	}
}

func TestWorkerMarksFailedAfterLastAttempt(t *testing.T) {
	store := newFakeStore(pendingEmail("e1"))
	analyzer := &fakeAnalyzer{failFor: map[string]error{"e1": errors.New("analyzer unavailable")}}
	retrier := &fakeRetrier{}

	NewWorker(store, analyzer, retrier, 3, nil).Process(context.Background(), models.AnalysisBatch{
		BatchID: "b1", Tasks: tasksFor("e1"), Attempt: 3,
	})

	assert.Empty(t, retrier.batches)
	assert.Equal(t, models.StatusFailed, store.lastStatus("e1").status)
}

func TestWorkerMarksFailedWhenRetryCannotBePublished(t *testing.T) {
	store := newFakeStore(pendingEmail("e1"))
	analyzer := &fakeAnalyzer{failFor: map[string]error{"e1": errors.New("analyzer unavailable")}}
	retrier := &fakeRetrier{err: errors.New("broker down")}

	NewWorker(store, analyzer, retrier, 3, nil).Process(context.Background(), models.AnalysisBatch{
		BatchID: "b1", Tasks: tasksFor("e1"), Attempt: 1,
	})

	assert.Equal(t, models.StatusFailed, store.lastStatus("e1").status)
}

func TestWorkerStoreErrorIsRetried(t *testing.T) {
	store := newFakeStore(pendingEmail("e1"))
	store.getErr = errors.New("connection refused")
	retrier := &fakeRetrier{}

	NewWorker(store, &fakeAnalyzer{}, retrier, 3, nil).Process(context.Background(), models.AnalysisBatch{
		BatchID: "b1", Tasks: tasksFor("e1"), Attempt: 1,
	})

	require.Len(t, retrier.batches, 1)
	assert.Equal(t, 2, retrier.batches[0].Attempt)
}

func TestNewWorkerDefaults(t *testing.T) {
	w := NewWorker(newFakeStore(), &fakeAnalyzer{}, nil, 0, nil)
	assert.Equal(t, DefaultMaxAttempts, w.maxAttempts)
	assert.NotNil(t, w.recorder)
}
