package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mixelka/messenger2mail/internal/auth"
	"github.com/mixelka/messenger2mail/internal/database"
)

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps store and handshake errors onto HTTP statuses
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrInvalidReference),
		errors.Is(err, database.ErrInvalidConfig),
		errors.Is(err, auth.ErrCodeRequestFailed),
		errors.Is(err, auth.ErrVerificationFailed):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidSessionState):
		WriteError(w, http.StatusConflict, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
