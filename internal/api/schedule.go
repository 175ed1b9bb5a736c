package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type scheduleConfig struct {
	IntervalMinutes int  `json:"interval_minutes"`
	Running         bool `json:"running"`
}

func (s *Server) getScheduleConfig(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, scheduleConfig{
		IntervalMinutes: int(s.scheduler.TickInterval() / time.Minute),
		Running:         s.scheduler.Running(),
	})
}

func (s *Server) updateScheduleConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IntervalMinutes int `json:"interval_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IntervalMinutes < 1 {
		WriteError(w, http.StatusBadRequest, "interval_minutes must be at least 1")
		return
	}

	s.scheduler.SetTickInterval(time.Duration(req.IntervalMinutes) * time.Minute)
	WriteJSON(w, http.StatusOK, scheduleConfig{
		IntervalMinutes: req.IntervalMinutes,
		Running:         s.scheduler.Running(),
	})
}

func (s *Server) startSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.SyncRules(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	s.scheduler.Start()
	WriteJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) stopSchedule(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Stop()
	WriteJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) syncSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.SyncRules(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}
