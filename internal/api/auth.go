package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) startAuth(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	session, err := s.auth.StartSession(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, session)
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

func (s *Server) submitPhone(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		WriteError(w, http.StatusBadRequest, "phone is required")
		return
	}

	session, err := s.auth.SubmitPhone(r.Context(), id, req.Phone)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

type codeRequest struct {
	Code         string `json:"code"`
	SecondFactor string `json:"second_factor,omitempty"`
}

func (s *Server) submitCode(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		WriteError(w, http.StatusBadRequest, "code is required")
		return
	}

	session, err := s.auth.SubmitCode(r.Context(), id, req.Code, req.SecondFactor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

type secondFactorRequest struct {
	SecondFactor string `json:"second_factor"`
}

func (s *Server) submitSecondFactor(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req secondFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SecondFactor == "" {
		WriteError(w, http.StatusBadRequest, "second_factor is required")
		return
	}

	session, err := s.auth.SubmitSecondFactor(r.Context(), id, req.SecondFactor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

func (s *Server) getAuthSession(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	session, ok := s.auth.Session(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "no active session")
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

func (s *Server) cancelAuth(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	s.auth.CancelSession(id)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
