package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mixelka/messenger2mail/pkg/models"
)

type eventRequest struct {
	AccountID  int64  `json:"account_id"`
	SourceID   string `json:"source_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

// ingestEvent feeds one inbound messenger event through the routing rules.
// The session gateway posts here for every message it observes.
func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == 0 || req.SourceID == "" {
		WriteError(w, http.StatusBadRequest, "account_id and source_id are required")
		return
	}

	msg := models.InboundMessage{
		AccountID:  req.AccountID,
		SourceID:   req.SourceID,
		SenderName: req.SenderName,
		Text:       req.Text,
		ReceivedAt: time.Now(),
	}
	if err := s.scheduler.HandleMessage(r.Context(), msg); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
