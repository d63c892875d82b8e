package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vdavid/mailsync/internal/models"
)

func TestWindow(t *testing.T) {
	tests := []struct {
		name  string
		total uint32
		limit uint32
		want  []uint32
	}{
		{"fewer messages than limit", 3, 5, []uint32{3, 2, 1}},
		{"more messages than limit", 10, 4, []uint32{10, 9, 8, 7}},
		{"exact", 2, 2, []uint32{2, 1}},
		{"empty folder", 0, 5, []uint32{}},
		{"zero limit", 7, 0, []uint32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Window(tt.total, tt.limit)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, int(min(tt.total, tt.limit)))
		})
	}
}

func TestResolveSent(t *testing.T) {
	candidates := []string{"Sent", "Sent Items", "[Gmail]/Sent Mail"}

	t.Run("prefers special-use attribute", func(t *testing.T) {
		folders := []models.Folder{
			{Name: "INBOX"},
			{Name: "Sent"},
			{Name: "Gesendet", Attributes: []string{`\HasNoChildren`, `\Sent`}},
		}
		name, ok := resolveSent(folders, candidates)
		assert.True(t, ok)
		assert.Equal(t, "Gesendet", name)
	})

	t.Run("matches candidate case-insensitively", func(t *testing.T) {
		folders := []models.Folder{{Name: "INBOX"}, {Name: "SENT ITEMS"}}
		name, ok := resolveSent(folders, candidates)
		assert.True(t, ok)
		assert.Equal(t, "SENT ITEMS", name)
	})

	t.Run("candidate order wins", func(t *testing.T) {
		folders := []models.Folder{{Name: "Sent Items"}, {Name: "Sent"}}
		name, _ := resolveSent(folders, candidates)
		assert.Equal(t, "Sent", name)
	})

	t.Run("no match", func(t *testing.T) {
		_, ok := resolveSent([]models.Folder{{Name: "INBOX"}, {Name: "Drafts"}}, candidates)
		assert.False(t, ok)
	})
}
