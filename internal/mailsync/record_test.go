package mailsync

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vdavid/mailsync/internal/models"
)

func TestSourceKey(t *testing.T) {
	date := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	base := models.ParsedMessage{
		FromAddress:    "a@example.com",
		ToAddress:      "b@example.com",
		Subject:        "Hi",
		Date:           date,
		DateFromHeader: true,
		BodyText:       "hello",
	}

	t.Run("uses message id without brackets", func(t *testing.T) {
		p := base
		p.MessageID = " <abc@example.com> "
		assert.Equal(t, "abc@example.com", SourceKey(&p))
	})

	t.Run("fingerprint is stable", func(t *testing.T) {
		a, b := base, base
		assert.Equal(t, SourceKey(&a), SourceKey(&b))
		assert.True(t, strings.HasPrefix(SourceKey(&a), "fp:"))
	})

	t.Run("fingerprint differs by content", func(t *testing.T) {
		a, b := base, base
		b.Subject = "Hello"
		assert.NotEqual(t, SourceKey(&a), SourceKey(&b))
	})

	t.Run("defaulted date is ignored", func(t *testing.T) {
		a, b := base, base
		a.DateFromHeader, b.DateFromHeader = false, false
		b.Date = date.Add(time.Hour)
		assert.Equal(t, SourceKey(&a), SourceKey(&b))
	})
}

func TestThreadID(t *testing.T) {
	root := &models.ParsedMessage{MessageID: "<root@example.com>"}
	reply := &models.ParsedMessage{
		MessageID:  "<reply@example.com>",
		InReplyTo:  "<root@example.com>",
		References: []string{"<root@example.com>"},
	}
	replyNoRefs := &models.ParsedMessage{MessageID: "<r2@example.com>", InReplyTo: "<root@example.com>"}
	deepReply := &models.ParsedMessage{
		MessageID:  "<r3@example.com>",
		InReplyTo:  "<reply@example.com>",
		References: []string{"<root@example.com>", "<reply@example.com>"},
	}

	rootThread := ThreadID(root, "gen-1")
	assert.True(t, strings.HasPrefix(rootThread, "thr-"))
	assert.NotContains(t, rootThread, "@")
	assert.Equal(t, rootThread, ThreadID(reply, "gen-2"))
	assert.Equal(t, rootThread, ThreadID(replyNoRefs, "gen-3"))
	assert.Equal(t, rootThread, ThreadID(deepReply, "gen-4"))

	orphan := &models.ParsedMessage{}
	assert.Equal(t, "gen-5", ThreadID(orphan, "gen-5"))
}

func TestBuildEmail(t *testing.T) {
	org := "org-1"
	account := &models.EmailAccount{ID: "account-1", UserID: "user-1", OrganizationID: &org}
	date := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	p := &models.ParsedMessage{
		MessageID:       "<abc@example.com>",
		Subject:         strings.Repeat("s", 250),
		FromAddress:     "a@example.com",
		FromName:        "A",
		ToAddress:       "b@example.com",
		Date:            date,
		BodyText:        "text",
		BodyHTML:        "<p>text</p>",
		AttachmentCount: 1,
		IsRead:          true,
	}

	received := buildEmail(account, p, "gen-1", "INBOX", models.EmailTypeReceived)
	assert.Equal(t, "gen-1", received.Index.MessageID)
	assert.Equal(t, "abc@example.com", received.Index.SourceKey)
	assert.Equal(t, &org, received.Index.OrganizationID)
	assert.Len(t, received.Index.PreviewText, 200)
	assert.True(t, received.Index.HasAttachments)
	assert.Equal(t, models.StatusPending, received.Index.Status)
	assert.Nil(t, received.Index.AIAnalysis)
	assert.NotNil(t, received.Index.ReceivedAt)
	assert.Equal(t, "gen-1", received.Content.MessageID)
	assert.Equal(t, "<p>text</p>", received.Content.BodyHTML)

	sent := buildEmail(account, p, "gen-1", "Sent", models.EmailTypeSent)
	assert.Nil(t, sent.Index.ReceivedAt)
	assert.Equal(t, date, *sent.Index.SentAt)
}
