package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/vdavid/mailsync/internal/models"
)

// DefaultTimeout bounds connection setup and each command when the endpoint
// does not set its own.
const DefaultTimeout = 30 * time.Second

// Endpoint describes how to reach and log in to one mailbox.
type Endpoint struct {
	Host     string
	Port     int
	Security string
	Username string
	Password string

	// RejectUnauthorized false accepts self-signed or mismatched certificates.
	RejectUnauthorized bool
	Timeout            time.Duration
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         e.Host,
		InsecureSkipVerify: !e.RejectUnauthorized, //nolint:gosec // Opt-in per account for self-signed servers
		MinVersion:         tls.VersionTLS12,
	}
}

// Dialer opens authenticated IMAP sessions.
type Dialer struct {
	Timeout time.Duration
}

func NewDialer(timeout time.Duration) *Dialer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dialer{Timeout: timeout}
}

// Dial connects, negotiates TLS according to the endpoint's security mode and
// logs in. Cancelling ctx terminates the connection, which aborts any command
// in flight on the returned Session.
func (d *Dialer) Dial(ctx context.Context, ep Endpoint) (*Session, error) {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = d.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	netDialer := &net.Dialer{Timeout: timeout}
	if deadline, ok := ctx.Deadline(); ok {
		netDialer.Deadline = deadline
	}

	var (
		c   *client.Client
		err error
	)
	switch ep.Security {
	case models.SecuritySSL, "":
		c, err = client.DialWithDialerTLS(netDialer, ep.Address(), ep.tlsConfig())
	case models.SecuritySTARTTLS, models.SecurityNone:
		c, err = client.DialWithDialer(netDialer, ep.Address())
	default:
		return nil, &TransportError{Kind: KindConnection, Op: "dial", Err: fmt.Errorf("unsupported security mode %q", ep.Security)}
	}
	if err != nil {
		return nil, classify("dial", err, KindConnection)
	}
	c.Timeout = timeout

	if ep.Security == models.SecuritySTARTTLS {
		if err := c.StartTLS(ep.tlsConfig()); err != nil {
			_ = c.Terminate()
			return nil, classify("starttls", err, KindTLS)
		}
	}

	if err := c.Login(ep.Username, ep.Password); err != nil {
		_ = c.Terminate()
		return nil, classify("login", err, KindAuthentication)
	}

	s := &Session{c: c}
	s.stop = context.AfterFunc(ctx, func() {
		_ = c.Terminate()
	})
	return s, nil
}

// Session is one logged-in connection. It is owned by a single sync
// invocation and must not be shared.
type Session struct {
	c    *client.Client
	stop func() bool

	mu     sync.Mutex
	closed bool
}

// Logout ends the session. Calling it more than once is a no-op.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stop != nil {
		s.stop()
	}

	if err := s.c.Logout(); err != nil {
		_ = s.c.Terminate()
		if errors.Is(err, client.ErrAlreadyLoggedOut) {
			return nil
		}
		return classify("logout", err, KindConnection)
	}
	return nil
}
