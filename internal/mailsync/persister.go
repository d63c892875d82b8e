package mailsync

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/vdavid/mailsync/internal/models"
)

// DefaultBatchSize is the number of emails written per statement.
const DefaultBatchSize = 10

// Outcome summarizes one Persist call.
type Outcome struct {
	Saved         int
	Batches       int
	FailedBatches int
	// Emails holds the inserted index rows with their ids, in input order.
	Emails []models.EmailIndexRecord
}

// Persister writes admitted emails in fixed-size batches. A failed batch is
// logged and left out of the count; the other batches still go through.
type Persister struct {
	store     EmailStore
	batchSize int
	recorder  Recorder
}

func NewPersister(store EmailStore, batchSize int, recorder Recorder) *Persister {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Persister{store: store, batchSize: batchSize, recorder: recorder}
}

func (p *Persister) Persist(ctx context.Context, emails []models.AdmittedEmail) Outcome {
	var out Outcome

	for start := 0; start < len(emails); start += p.batchSize {
		end := min(start+p.batchSize, len(emails))
		batch := emails[start:end]
		out.Batches++

		saved, err := p.writeBatch(ctx, batch)
		if err != nil {
			out.FailedBatches++
			log.WithFields(log.Fields{
				"batch": out.Batches,
				"size":  len(batch),
			}).WithError(err).Warn("Persister: batch failed")
			continue
		}

		out.Saved += len(saved)
		out.Emails = append(out.Emails, saved...)
	}

	return out
}

func (p *Persister) writeBatch(ctx context.Context, batch []models.AdmittedEmail) ([]models.EmailIndexRecord, error) {
	threads := make([]models.ThreadPlaceholder, 0, len(batch))
	seenThreads := make(map[string]bool, len(batch))
	records := make([]models.EmailIndexRecord, len(batch))
	for i, e := range batch {
		records[i] = e.Index
		if seenThreads[e.Index.ThreadID] {
			continue
		}
		seenThreads[e.Index.ThreadID] = true
		threads = append(threads, models.ThreadPlaceholder{
			AccountID: e.Index.AccountID,
			ThreadID:  e.Index.ThreadID,
			UserID:    e.Index.UserID,
			Subject:   e.Index.Subject,
		})
	}

	if err := p.store.InsertThreadPlaceholders(ctx, threads); err != nil {
		p.recorder.BatchFailed("threads")
		log.WithError(err).Warn("Persister: thread placeholders failed")
	}

	inserted, err := p.store.InsertEmails(ctx, records)
	if err != nil {
		p.recorder.BatchFailed("index")
		return nil, err
	}

	saved := make([]models.EmailIndexRecord, 0, len(inserted))
	contents := make([]models.EmailContentRecord, 0, len(inserted))
	for _, e := range batch {
		id, ok := inserted[e.Index.SourceKey]
		if !ok {
			continue
		}
		record := e.Index
		record.ID = id
		saved = append(saved, record)

		content := e.Content
		content.EmailID = id
		contents = append(contents, content)
	}

	// Index rows already written stay in place if this fails.
	if err := p.store.InsertEmailContent(ctx, contents); err != nil {
		p.recorder.BatchFailed("content")
		return nil, err
	}

	return saved, nil
}
