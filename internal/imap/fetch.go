package imap

import (
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	"github.com/vdavid/mailsync/internal/models"
)

// FetchOne fetches the full raw message at seq in the open folder. The body
// is requested with BODY.PEEK[] so the \Seen flag is left untouched.
func (s *Session) FetchOne(seq uint32) (*models.RawMessage, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seq)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- s.c.Fetch(seqSet, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		if msg == nil {
			msg = m
		}
	}

	if err := <-done; err != nil {
		return nil, classify(fmt.Sprintf("fetch %d", seq), err, KindConnection)
	}
	if msg == nil {
		return nil, &TransportError{Kind: KindConnection, Op: fmt.Sprintf("fetch %d", seq), Err: fmt.Errorf("server did not return message")}
	}

	raw := &models.RawMessage{
		SeqNum: msg.SeqNum,
		UID:    msg.Uid,
		Flags:  msg.Flags,
	}

	// Only one body section was requested.
	for _, literal := range msg.Body {
		if literal == nil {
			continue
		}
		body, err := io.ReadAll(literal)
		if err != nil {
			return nil, classify(fmt.Sprintf("read %d", seq), err, KindConnection)
		}
		raw.Body = body
		break
	}

	return raw, nil
}
