package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrNotConfigured is returned by the webhook analyzer when it has no URL.
var ErrNotConfigured = errors.New("analysis webhook is not configured")

const (
	defaultWebhookTimeout = 60 * time.Second
	webhookUserAgent      = "mailsync-analysis-worker"
)

type webhookRequest struct {
	Email     *models.AnalysisEmail `json:"email"`
	SkipDraft bool                  `json:"skipDraft"`
	Priority  int                   `json:"priority"`
}

// WebhookAnalyzer posts each email to an external analysis endpoint and
// stores whatever JSON it answers with.
type WebhookAnalyzer struct {
	client *resty.Client
	url    string
}

// NewWebhookAnalyzer creates an analyzer for url. secret, when set, is sent
// as X-Internal-Secret.
func NewWebhookAnalyzer(url, secret string, timeout time.Duration) *WebhookAnalyzer {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", webhookUserAgent).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if secret != "" {
		client.SetHeader("X-Internal-Secret", secret)
	}

	return &WebhookAnalyzer{client: client, url: url}
}

func (a *WebhookAnalyzer) Analyze(ctx context.Context, email *models.AnalysisEmail, task models.AnalysisTask) (json.RawMessage, error) {
	if a.url == "" {
		return nil, ErrNotConfigured
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(webhookRequest{Email: email, SkipDraft: task.SkipDraft, Priority: task.Priority}).
		Post(a.url)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("analysis endpoint returned %d", resp.StatusCode())
	}

	body := resp.Body()
	if !json.Valid(body) {
		return nil, fmt.Errorf("analysis endpoint returned invalid JSON")
	}
	return json.RawMessage(body), nil
}
