package api

import (
	"net/http"
	"strconv"

	"github.com/mixelka/messenger2mail/pkg/models"
)

const defaultLogLimit = 100

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var (
		logs []*models.MessageLog
		err  error
	)
	if raw := r.URL.Query().Get("rule_id"); raw != "" {
		ruleID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			WriteError(w, http.StatusBadRequest, "invalid rule_id")
			return
		}
		logs, err = s.db.ListLogsByRule(r.Context(), ruleID, limit)
	} else {
		logs, err = s.db.ListLogs(r.Context(), limit)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if logs == nil {
		logs = []*models.MessageLog{}
	}
	WriteJSON(w, http.StatusOK, logs)
}
