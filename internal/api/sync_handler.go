package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/mailsync"
)

const maxSyncBodyBytes = 64 << 10

// Syncer runs one mailbox sync.
type Syncer interface {
	Sync(ctx context.Context, req mailsync.Request) (*mailsync.Result, error)
}

type syncRequest struct {
	AccountID string `json:"accountId"`
	MaxEmails int    `json:"maxEmails,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

type syncBreakdown struct {
	Inbox int `json:"inbox"`
	Sent  int `json:"sent"`
}

type syncResponse struct {
	Success    bool          `json:"success"`
	Message    string        `json:"message,omitempty"`
	TotalSaved int           `json:"totalSaved"`
	Breakdown  syncBreakdown `json:"breakdown"`
	SyncedAt   time.Time     `json:"syncedAt"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// SyncHandler serves POST /api/v1/email/sync.
type SyncHandler struct {
	auth   *auth.Authenticator
	syncer Syncer
}

func NewSyncHandler(authenticator *auth.Authenticator, syncer Syncer) *SyncHandler {
	return &SyncHandler{auth: authenticator, syncer: syncer}
}

func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	decodeErr := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSyncBodyBytes)).Decode(&req)
	if errors.Is(decodeErr, io.EOF) {
		decodeErr = nil
	}

	// Nothing is loaded or dialed before the caller is known.
	userID, err := h.auth.Authenticate(r, req.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if decodeErr != nil {
		log.WithError(decodeErr).Info("SyncHandler: invalid request body")
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.syncer.Sync(r.Context(), mailsync.Request{
		UserID:    userID,
		AccountID: req.AccountID,
		MaxEmails: req.MaxEmails,
	})
	if err != nil {
		writeError(w, mailsync.KindOf(err).HTTPStatus(), mailsync.MessageOf(err))
		return
	}

	WriteJSONResponse(w, http.StatusOK, syncResponse{
		Success:    true,
		Message:    fmt.Sprintf("Synced %d emails (%d inbox, %d sent)", result.TotalSaved, result.Inbox, result.Sent),
		TotalSaved: result.TotalSaved,
		Breakdown:  syncBreakdown{Inbox: result.Inbox, Sent: result.Sent},
		SyncedAt:   result.SyncedAt,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	WriteJSONResponse(w, status, errorResponse{Success: false, Error: message})
}
