package api

import (
	"encoding/json"
	"net/http"

	"github.com/mixelka/messenger2mail/pkg/models"
)

type ruleRequest struct {
	Name                 string                   `json:"name"`
	SourceAccountID      int64                    `json:"source_account_id"`
	DestinationAccountID int64                    `json:"destination_account_id"`
	SourceFilter         models.SourceFilter      `json:"source_filter"`
	DestinationConfig    models.DestinationConfig `json:"destination_config"`
	ForwardingType       models.ForwardingType    `json:"forwarding_type"`
	IntervalMinutes      int                      `json:"interval_minutes"`
	Enabled              bool                     `json:"enabled"`
}

func (req *ruleRequest) toModel() (*models.RoutingRule, error) {
	filterJSON, err := json.Marshal(req.SourceFilter)
	if err != nil {
		return nil, err
	}
	destJSON, err := json.Marshal(req.DestinationConfig)
	if err != nil {
		return nil, err
	}
	return &models.RoutingRule{
		Name:                 req.Name,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		SourceFilterJSON:     string(filterJSON),
		DestinationJSON:      string(destJSON),
		ForwardingType:       req.ForwardingType,
		IntervalMinutes:      req.IntervalMinutes,
		Enabled:              req.Enabled,
	}, nil
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.db.ListRules(r.Context(), false)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rules == nil {
		rules = []*models.RoutingRule{}
	}
	WriteJSON(w, http.StatusOK, rules)
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := req.toModel()
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.CreateRule(r.Context(), rule); err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info("rule created", "rule_id", rule.ID, "forwarding_type", rule.ForwardingType)
	WriteJSON(w, http.StatusCreated, rule)
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule, err := req.toModel()
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.UpdateRule(r.Context(), id, rule); err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info("rule updated", "rule_id", id)
	WriteJSON(w, http.StatusOK, rule)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := s.db.DeleteRule(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	// Deletion discards any buffered-but-unflushed digest messages
	if err := s.scheduler.SyncRules(r.Context()); err != nil {
		s.logger.Error("failed to sync scheduler after rule delete", "rule_id", id, "error", err)
	}

	s.logger.Info("rule deleted", "rule_id", id)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
