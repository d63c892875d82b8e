package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/models"
)

type published struct {
	exchange   string
	routingKey string
	message    any
}

type fakePublisher struct {
	messages []published
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, exchange, routingKey string, message any) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{exchange: exchange, routingKey: routingKey, message: message})
	return nil
}

func TestAnalysisPublisherEnqueue(t *testing.T) {
	pub := &fakePublisher{}
	tasks := []models.AnalysisTask{
		{EmailID: "e1", UserID: "u1", Priority: 1},
		{EmailID: "e2", UserID: "u1", Priority: 1},
	}

	require.NoError(t, NewAnalysisPublisher(pub).Enqueue(context.Background(), tasks))
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	assert.Equal(t, EmailExchange, msg.exchange)
	assert.Equal(t, RoutingKeyAnalysisRequested, msg.routingKey)

	batch, ok := msg.message.(models.AnalysisBatch)
	require.True(t, ok)
	assert.Equal(t, tasks, batch.Tasks)
	assert.Equal(t, 1, batch.Attempt)
	_, err := uuid.Parse(batch.BatchID)
	assert.NoError(t, err)
}

func TestAnalysisPublisherEnqueueEmpty(t *testing.T) {
	pub := &fakePublisher{}
	require.NoError(t, NewAnalysisPublisher(pub).Enqueue(context.Background(), nil))
	assert.Empty(t, pub.messages)
}

func TestAnalysisPublisherError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	err := NewAnalysisPublisher(pub).Enqueue(context.Background(), []models.AnalysisTask{{EmailID: "e1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, pub.err)
}

func TestDecodeBatch(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantErr     bool
		wantAttempt int
	}{
		{name: "valid", body: `{"batchId":"b1","tasks":[{"emailId":"e1","userId":"u1"}],"attempt":2}`, wantAttempt: 2},
		{name: "missing attempt defaults to first", body: `{"batchId":"b1","tasks":[]}`, wantAttempt: 1},
		{name: "missing batch id", body: `{"tasks":[]}`, wantErr: true},
		{name: "not json", body: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := DecodeBatch([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAttempt, batch.Attempt)
		})
	}
}
