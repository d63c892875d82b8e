package imap

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/vdavid/mailsync/internal/models"
)

const sentAttr = `\Sent`

// FolderInfo is the state of a folder at the time it was opened.
type FolderInfo struct {
	Name        string
	Messages    uint32
	UIDValidity uint32
}

// OpenFolder examines a folder read-only so that syncing never changes flags.
func (s *Session) OpenFolder(name string) (*FolderInfo, error) {
	status, err := s.c.Select(name, true)
	if err != nil {
		return nil, classify("examine "+name, err, KindFolderNotFound)
	}

	return &FolderInfo{
		Name:        status.Name,
		Messages:    status.Messages,
		UIDValidity: status.UidValidity,
	}, nil
}

// ListFolders lists all folders on the server with their attributes.
func (s *Session) ListFolders() ([]models.Folder, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()

	var folders []models.Folder
	for m := range mailboxes {
		folders = append(folders, models.Folder{Name: m.Name, Attributes: m.Attributes})
	}

	if err := <-done; err != nil {
		return nil, classify("list", err, KindConnection)
	}

	return folders, nil
}

// ResolveFolder picks the folder carrying the \Sent special-use attribute, or
// else the first candidate name present on the server (case-insensitive).
func (s *Session) ResolveFolder(candidates []string) (string, error) {
	folders, err := s.ListFolders()
	if err != nil {
		return "", err
	}

	name, ok := resolveSent(folders, candidates)
	if !ok {
		return "", &TransportError{
			Kind: KindFolderNotFound,
			Op:   "resolve",
			Err:  fmt.Errorf("none of %v exist", candidates),
		}
	}
	return name, nil
}

func resolveSent(folders []models.Folder, candidates []string) (string, bool) {
	for _, f := range folders {
		for _, attr := range f.Attributes {
			if strings.EqualFold(attr, sentAttr) {
				return f.Name, true
			}
		}
	}

	for _, candidate := range candidates {
		for _, f := range folders {
			if strings.EqualFold(f.Name, candidate) {
				return f.Name, true
			}
		}
	}
	return "", false
}

// Window returns the sequence numbers to fetch from a folder holding total
// messages: the newest first, at most limit of them.
func Window(total, limit uint32) []uint32 {
	n := min(total, limit)
	seqs := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		seqs = append(seqs, total-i)
	}
	return seqs
}
