// Package msgid turns raw Message-ID header values into identifiers that are
// safe to store and reuse as keys.
package msgid

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxLength is the longest identifier Sanitize returns.
const MaxLength = 200

const generatedPrefix = "gen-"

// Sanitizer normalizes message ids. It is safe for concurrent use when its
// entropy reader is.
type Sanitizer struct {
	now     func() time.Time
	entropy io.Reader
}

// New returns a Sanitizer. Nil arguments fall back to time.Now and crypto/rand.
func New(now func() time.Time, entropy io.Reader) *Sanitizer {
	if now == nil {
		now = time.Now
	}
	if entropy == nil {
		entropy = rand.Reader
	}
	return &Sanitizer{now: now, entropy: entropy}
}

// Sanitize removes one pair of enclosing angle brackets from raw, along with
// the whitespace around them. Values that end up blank, contain "@" or are
// longer than MaxLength are replaced by a generated id. Anything else is
// returned as given.
func (s *Sanitizer) Sanitize(raw string) string {
	id := StripBrackets(raw)
	if id == "" || strings.Contains(id, "@") || len(id) > MaxLength {
		return s.generate()
	}
	return id
}

func (s *Sanitizer) generate() string {
	u, err := uuid.NewRandomFromReader(s.entropy)
	if err != nil {
		u = uuid.New()
	}
	random := strings.ReplaceAll(u.String(), "-", "")
	return fmt.Sprintf("%s%d-%s", generatedPrefix, s.now().UnixMilli(), random[:12])
}

// StripBrackets removes one pair of enclosing angle brackets and the
// whitespace around and inside them. Blank input yields "". Unbracketed
// input is returned untouched.
func StripBrackets(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) >= 2 && strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">") {
		return strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	}
	return raw
}

// Generated reports whether id was produced by a Sanitizer rather than taken
// from a header.
func Generated(id string) bool {
	return strings.HasPrefix(id, generatedPrefix)
}
