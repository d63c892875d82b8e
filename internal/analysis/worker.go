package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/queue"
)

// DefaultMaxAttempts is how often a task is tried before it is marked failed.
const DefaultMaxAttempts = 3

const taskTimeout = 2 * time.Minute

type Store interface {
	GetAnalysisEmail(ctx context.Context, emailID string) (*models.AnalysisEmail, error)
	SetEmailStatus(ctx context.Context, emailID, status string, errMsg *string) error
	CompleteEmailAnalysis(ctx context.Context, emailID string, analysis []byte, analyzedAt time.Time) error
}

type Analyzer interface {
	Analyze(ctx context.Context, email *models.AnalysisEmail, task models.AnalysisTask) (json.RawMessage, error)
}

// Retrier puts a batch back on the queue.
type Retrier interface {
	Publish(ctx context.Context, batch models.AnalysisBatch) error
}

// Recorder receives one outcome per task: completed, skipped, retried or failed.
type Recorder interface {
	TaskProcessed(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) TaskProcessed(string) {}

const (
	outcomeCompleted = "completed"
	outcomeSkipped   = "skipped"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
)

// Worker runs analysis batches taken from the queue. Tasks that fail are
// published again as a new attempt until MaxAttempts, then marked failed.
type Worker struct {
	store       Store
	analyzer    Analyzer
	retrier     Retrier
	recorder    Recorder
	maxAttempts int
	now         func() time.Time
}

func NewWorker(store Store, analyzer Analyzer, retrier Retrier, maxAttempts int, recorder Recorder) *Worker {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Worker{
		store:       store,
		analyzer:    analyzer,
		retrier:     retrier,
		recorder:    recorder,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Handle implements queue.Handler. Undecodable messages are dropped; every
// other delivery is acked once its batch has been processed.
func (w *Worker) Handle(ctx context.Context, delivery *amqp.Delivery) {
	batch, err := queue.DecodeBatch(delivery.Body)
	if err != nil {
		log.WithError(err).Error("Analysis: dropping malformed message")
		_ = delivery.Nack(false, false)
		return
	}

	w.Process(ctx, batch)

	if err := delivery.Ack(false); err != nil {
		log.WithError(err).WithField("batch_id", batch.BatchID).Warn("Analysis: ack failed")
	}
}

// Process runs every task of the batch and schedules the failed ones for
// another attempt.
func (w *Worker) Process(ctx context.Context, batch models.AnalysisBatch) {
	logger := log.WithFields(log.Fields{"batch_id": batch.BatchID, "attempt": batch.Attempt})
	logger.WithField("tasks", len(batch.Tasks)).Info("Analysis: processing batch")

	var failed []models.AnalysisTask
	var causes []error
	for _, task := range batch.Tasks {
		if err := ctx.Err(); err != nil {
			failed = append(failed, task)
			causes = append(causes, err)
			continue
		}
		if err := w.processTask(ctx, task); err != nil {
			logger.WithField("email_id", task.EmailID).WithError(err).Warn("Analysis: task failed")
			failed = append(failed, task)
			causes = append(causes, err)
		}
	}

	if len(failed) == 0 {
		return
	}

	// Status updates must land even when the worker is shutting down.
	ctx = context.WithoutCancel(ctx)
	if batch.Attempt < w.maxAttempts && w.retrier != nil {
		retry := models.AnalysisBatch{BatchID: batch.BatchID, Tasks: failed, Attempt: batch.Attempt + 1}
		err := w.retrier.Publish(ctx, retry)
		if err == nil {
			for i, task := range failed {
				w.recorder.TaskProcessed(outcomeRetried)
				w.setStatus(ctx, task.EmailID, models.StatusPending, causes[i])
			}
			logger.WithField("failed", len(failed)).Info("Analysis: scheduled retry")
			return
		}
		logger.WithError(err).Error("Analysis: retry could not be scheduled")
	}

	for i, task := range failed {
		w.recorder.TaskProcessed(outcomeFailed)
		w.setStatus(ctx, task.EmailID, models.StatusFailed, causes[i])
	}
}

func (w *Worker) processTask(ctx context.Context, task models.AnalysisTask) error {
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	email, err := w.store.GetAnalysisEmail(ctx, task.EmailID)
	if errors.Is(err, db.ErrEmailNotFound) {
		w.recorder.TaskProcessed(outcomeSkipped)
		log.WithField("email_id", task.EmailID).Info("Analysis: email no longer exists, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	if email.Status == models.StatusCompleted && !task.ForceReprocess {
		w.recorder.TaskProcessed(outcomeSkipped)
		return nil
	}

	if err := w.store.SetEmailStatus(ctx, task.EmailID, models.StatusProcessing, nil); err != nil {
		return err
	}

	result, err := w.analyzer.Analyze(ctx, email, task)
	if err != nil {
		return err
	}

	if err := w.store.CompleteEmailAnalysis(ctx, task.EmailID, result, w.now()); err != nil {
		return err
	}
	w.recorder.TaskProcessed(outcomeCompleted)
	return nil
}

func (w *Worker) setStatus(ctx context.Context, emailID, status string, cause error) {
	var msg *string
	if cause != nil {
		text := cause.Error()
		msg = &text
	}
	if err := w.store.SetEmailStatus(ctx, emailID, status, msg); err != nil && !errors.Is(err, db.ErrEmailNotFound) {
		log.WithField("email_id", emailID).WithError(err).Warn("Analysis: failed to record status")
	}
}
