package mailsync

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/msgid"
)

const previewLength = 200

// SourceKey identifies a message across syncs. It is the bracket-stripped
// Message-ID when present and a content fingerprint otherwise. Generated
// message ids change on every run, so deduplication must not rely on them alone.
func SourceKey(p *models.ParsedMessage) string {
	if id := msgid.StripBrackets(p.MessageID); id != "" {
		return id
	}

	parts := []string{p.FromAddress, p.ToAddress, p.Subject}
	if p.DateFromHeader {
		parts = append(parts, p.Date.UTC().Format(time.RFC3339))
	}
	parts = append(parts, p.BodyText)

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "fp:" + hex.EncodeToString(sum[:])
}

// ThreadID groups a message with the root of its conversation: the first
// References entry, else In-Reply-To, else the message itself. Ids derived
// from headers are hashed so replies and their root agree without storing
// raw addresses.
func ThreadID(p *models.ParsedMessage, sanitizedID string) string {
	root := ""
	switch {
	case len(p.References) > 0:
		root = p.References[0]
	case p.InReplyTo != "":
		root = p.InReplyTo
	default:
		root = p.MessageID
	}

	root = msgid.StripBrackets(root)
	if root == "" {
		return sanitizedID
	}

	sum := sha256.Sum256([]byte(root))
	return "thr-" + hex.EncodeToString(sum[:16])
}

func previewText(subject string) string {
	if utf8.RuneCountInString(subject) <= previewLength {
		return subject
	}
	runes := []rune(subject)
	return string(runes[:previewLength])
}

// buildEmail maps a parsed message onto the index and content rows.
func buildEmail(account *models.EmailAccount, p *models.ParsedMessage, messageID, folder, emailType string) models.AdmittedEmail {
	date := p.Date
	index := models.EmailIndexRecord{
		MessageID:       messageID,
		SourceKey:       SourceKey(p),
		AccountID:       account.ID,
		UserID:          account.UserID,
		OrganizationID:  account.OrganizationID,
		ThreadID:        ThreadID(p, messageID),
		EmailType:       emailType,
		FolderName:      folder,
		Subject:         p.Subject,
		PreviewText:     previewText(p.Subject),
		FromAddress:     p.FromAddress,
		FromName:        p.FromName,
		ToAddress:       p.ToAddress,
		SentAt:          &date,
		IsRead:          p.IsRead,
		HasAttachments:  p.AttachmentCount > 0,
		AttachmentCount: p.AttachmentCount,
		Status:          models.StatusPending,
	}
	if emailType == models.EmailTypeReceived {
		index.ReceivedAt = &date
	}

	return models.AdmittedEmail{
		Index: index,
		Content: models.EmailContentRecord{
			MessageID: messageID,
			BodyText:  p.BodyText,
			BodyHTML:  p.BodyHTML,
		},
	}
}
