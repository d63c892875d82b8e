package imap

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
	"github.com/microcosm-cc/bluemonday"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrParse is returned when a raw message cannot be decoded at all.
var ErrParse = errors.New("failed to parse message")

const defaultSubject = "No Subject"

var (
	htmlPolicy = bluemonday.UGCPolicy()
	textPolicy = bluemonday.StrictPolicy()
)

// ParseMessage decodes a raw RFC 822 message. Missing headers get defaults
// instead of failing: the subject becomes "No Subject" and the date becomes now.
func ParseMessage(raw *models.RawMessage, now time.Time) (*models.ParsedMessage, error) {
	if raw == nil || len(bytes.TrimSpace(raw.Body)) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrParse)
	}

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	msg := &models.ParsedMessage{
		MessageID:       strings.TrimSpace(envelope.GetHeader("Message-ID")),
		Subject:         strings.TrimSpace(envelope.GetHeader("Subject")),
		InReplyTo:       strings.TrimSpace(envelope.GetHeader("In-Reply-To")),
		References:      strings.Fields(envelope.GetHeader("References")),
		AttachmentCount: len(envelope.Attachments),
		IsRead:          hasFlag(raw.Flags, imap.SeenFlag),
		UID:             raw.UID,
		Date:            now,
	}
	if msg.Subject == "" {
		msg.Subject = defaultSubject
	}

	if date, err := mail.ParseDate(envelope.GetHeader("Date")); err == nil {
		msg.Date = date
		msg.DateFromHeader = true
	}

	msg.FromAddress, msg.FromName = firstAddress(envelope, "From")
	msg.ToAddress = joinAddresses(envelope, "To")

	if envelope.HTML != "" {
		msg.BodyHTML = htmlPolicy.Sanitize(envelope.HTML)
	}
	msg.BodyText = envelope.Text
	if strings.TrimSpace(msg.BodyText) == "" && envelope.HTML != "" {
		msg.BodyText = htmlToText(envelope.HTML)
	}

	cleanMessage(msg)
	return msg, nil
}

// cleanMessage makes every text field storable in a Postgres TEXT column,
// which rejects NUL bytes and invalid UTF-8.
func cleanMessage(msg *models.ParsedMessage) {
	for _, field := range []*string{
		&msg.MessageID, &msg.Subject, &msg.InReplyTo,
		&msg.FromAddress, &msg.FromName, &msg.ToAddress,
		&msg.BodyText, &msg.BodyHTML,
	} {
		*field = cleanText(*field)
	}
	for i, ref := range msg.References {
		msg.References[i] = cleanText(ref)
	}
}

func cleanText(s string) string {
	return strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

// firstAddress returns the address and display name of the first entry in
// the header, or the raw header text when it does not parse.
func firstAddress(envelope *enmime.Envelope, header string) (string, string) {
	addresses, err := envelope.AddressList(header)
	if err != nil || len(addresses) == 0 {
		return strings.TrimSpace(envelope.GetHeader(header)), ""
	}
	return addresses[0].Address, addresses[0].Name
}

func joinAddresses(envelope *enmime.Envelope, header string) string {
	addresses, err := envelope.AddressList(header)
	if err != nil || len(addresses) == 0 {
		return strings.TrimSpace(envelope.GetHeader(header))
	}

	result := make([]string, 0, len(addresses))
	for _, a := range addresses {
		result = append(result, a.Address)
	}
	return strings.Join(result, ", ")
}

func htmlToText(body string) string {
	stripped := html.UnescapeString(textPolicy.Sanitize(body))
	return strings.Join(strings.Fields(stripped), " ")
}
