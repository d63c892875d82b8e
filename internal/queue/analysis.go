package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/vdavid/mailsync/internal/models"
)

// MessagePublisher is the part of Publisher that AnalysisPublisher needs.
type MessagePublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, message any) error
}

// AnalysisPublisher sends analysis batches to the analysis queue.
type AnalysisPublisher struct {
	publisher MessagePublisher
}

func NewAnalysisPublisher(publisher MessagePublisher) *AnalysisPublisher {
	return &AnalysisPublisher{publisher: publisher}
}

// Enqueue publishes the tasks as a new batch. An empty task list publishes nothing.
func (a *AnalysisPublisher) Enqueue(ctx context.Context, tasks []models.AnalysisTask) error {
	if len(tasks) == 0 {
		return nil
	}
	return a.Publish(ctx, models.AnalysisBatch{
		BatchID: uuid.NewString(),
		Tasks:   tasks,
		Attempt: 1,
	})
}

// Publish sends a batch as is. The worker uses it to retry.
func (a *AnalysisPublisher) Publish(ctx context.Context, batch models.AnalysisBatch) error {
	if err := a.publisher.Publish(ctx, EmailExchange, RoutingKeyAnalysisRequested, batch); err != nil {
		return fmt.Errorf("failed to publish analysis batch %s: %w", batch.BatchID, err)
	}
	return nil
}

// DecodeBatch reads an analysis batch from a delivery body.
func DecodeBatch(body []byte) (models.AnalysisBatch, error) {
	var batch models.AnalysisBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return batch, fmt.Errorf("failed to decode analysis batch: %w", err)
	}
	if batch.BatchID == "" {
		return batch, fmt.Errorf("analysis batch has no batchId")
	}
	if batch.Attempt < 1 {
		batch.Attempt = 1
	}
	return batch, nil
}
