package mailsync

import (
	"errors"
	"net/http"

	"github.com/vdavid/mailsync/internal/imap"
)

// Kind classifies sync failures for callers. Every error returned by Syncer.Sync
// is an *Error.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindBadRequest
	KindNotFound
	KindConflict
	KindConfiguration
	KindCredential
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindConfiguration:
		return "configuration"
	case KindCredential:
		return "credential"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to the status code the API responds with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is safe to show to the user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of a classified error and KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}

const (
	msgCertificate    = "Mail server certificate could not be verified"
	msgAuthentication = "Authentication failed: check the mailbox username and password"
	msgTimeout        = "Connection to mail server timed out"
)

// transportError turns an IMAP failure into the message shown to the user
// and stored on the account.
func transportError(err error) *Error {
	switch {
	case imap.IsKind(err, imap.KindTLS):
		return newError(KindTransport, msgCertificate, err)
	case imap.IsKind(err, imap.KindAuthentication):
		return newError(KindTransport, msgAuthentication, err)
	case imap.IsKind(err, imap.KindTimeout):
		return newError(KindTransport, msgTimeout, err)
	default:
		return newError(KindTransport, err.Error(), err)
	}
}
