package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// InternalSecretHeader identifies trusted service-to-service callers.
const InternalSecretHeader = "X-Internal-Secret"

// ErrUnauthorized is returned when a request carries no acceptable identity.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves the user a request acts for. Browser requests carry
// a session token; internal callers present the shared secret, an allowlisted
// User-Agent and name the user in the request body.
type Authenticator struct {
	verifier       *Verifier
	internalSecret string
	internalAgents []string
}

func NewAuthenticator(verifier *Verifier, internalSecret string, internalAgents []string) *Authenticator {
	return &Authenticator{
		verifier:       verifier,
		internalSecret: internalSecret,
		internalAgents: internalAgents,
	}
}

// Authenticate returns the acting user id. bodyUserID is only honored for
// internal callers.
func (a *Authenticator) Authenticate(r *http.Request, bodyUserID string) (string, error) {
	if r.Header.Get(InternalSecretHeader) != "" {
		if !a.isInternal(r) {
			log.WithField("user_agent", r.UserAgent()).Warn("Auth: rejected internal caller")
			return "", ErrUnauthorized
		}
		if bodyUserID == "" {
			return "", ErrUnauthorized
		}
		return bodyUserID, nil
	}

	userID, err := a.verifier.ValidateToken(TokenFromRequest(r))
	if err != nil {
		log.WithError(err).Debug("Auth: session token rejected")
		return "", ErrUnauthorized
	}
	return userID, nil
}

func (a *Authenticator) isInternal(r *http.Request) bool {
	if a.internalSecret == "" {
		return false
	}
	given := r.Header.Get(InternalSecretHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(a.internalSecret)) != 1 {
		return false
	}

	agent := r.UserAgent()
	for _, allowed := range a.internalAgents {
		if allowed != "" && strings.Contains(agent, allowed) {
			return true
		}
	}
	return false
}
