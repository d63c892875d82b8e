package imap

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies transport failures so callers can report them without
// inspecting driver errors.
type ErrorKind int

const (
	KindConnection ErrorKind = iota
	KindAuthentication
	KindTLS
	KindTimeout
	KindFolderNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindTLS:
		return "tls"
	case KindTimeout:
		return "timeout"
	case KindFolderNotFound:
		return "folder_not_found"
	default:
		return "connection"
	}
}

// TransportError is returned by every Dialer and Session operation.
type TransportError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("imap %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a TransportError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == kind
}

// classify wraps err, picking the kind from the error chain. fallback is used
// when nothing more specific can be detected.
func classify(op string, err error, fallback ErrorKind) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{Kind: detectKind(err, fallback), Op: op, Err: err}
}

func detectKind(err error, fallback ErrorKind) ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		recordErr   tls.RecordHeaderError
	)
	if errors.As(err, &verifyErr) || errors.As(err, &unknownAuth) || errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr) || errors.As(err, &recordErr) {
		return KindTLS
	}
	if strings.Contains(strings.ToLower(err.Error()), "certificate") {
		return KindTLS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}

	return fallback
}
