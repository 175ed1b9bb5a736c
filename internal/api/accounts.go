package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mixelka/messenger2mail/pkg/models"
)

// accountResponse is an Account without its credential bundle. Raw secret
// material never crosses the API boundary.
type accountResponse struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	AccountType models.AccountType `json:"account_type"`
	Connected   bool               `json:"connected"`
	CreatedAt   time.Time          `json:"created_at"`
}

func toAccountResponse(a *models.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		Name:        a.Name,
		AccountType: a.AccountType,
		Connected:   a.Connected,
		CreatedAt:   a.CreatedAt,
	}
}

func urlID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.db.ListAccounts(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResponse(a))
	}
	WriteJSON(w, http.StatusOK, resp)
}

type createAccountRequest struct {
	Name        string              `json:"name"`
	AccountType models.AccountType  `json:"account_type"`
	Credentials *models.Credentials `json:"credentials,omitempty"`
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account := &models.Account{
		Name:        req.Name,
		AccountType: req.AccountType,
	}
	if req.Credentials != nil {
		encoded, err := req.Credentials.Encode()
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		account.CredentialsJSON = encoded
	}

	if err := s.db.CreateAccount(r.Context(), account); err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info("account created", "account_id", account.ID, "type", account.AccountType)
	WriteJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	s.auth.CancelSession(id)
	if s.poller != nil {
		s.poller.StopAccount(id)
	}

	if err := s.db.DeleteAccount(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info("account deleted", "account_id", id)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type testResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// testAccount runs the connectivity test for a mail account and flips its
// connected state accordingly. Messenger accounts connect through the
// auth handshake instead.
func (s *Server) testAccount(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	account, err := s.db.GetAccountByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !account.AccountType.IsMail() {
		WriteError(w, http.StatusBadRequest, "connectivity test is only supported for mail accounts")
		return
	}

	creds, err := account.Credentials()
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var testErr error
	switch account.AccountType {
	case models.AccountMailIMAP:
		testErr = s.mail.TestIMAP(r.Context(), *creds.Mail)
	case models.AccountMailSMTP:
		testErr = s.mail.TestSMTP(r.Context(), *creds.Mail)
	}

	if testErr != nil {
		if err := s.db.SetAccountConnected(r.Context(), id, false); err != nil {
			s.logger.Error("failed to mark account disconnected", "account_id", id, "error", err)
		}
		WriteJSON(w, http.StatusOK, testResult{Status: "failure", Message: testErr.Error()})
		return
	}

	if err := s.db.SetAccountConnected(r.Context(), id, true); err != nil {
		writeDomainError(w, err)
		return
	}
	if account.AccountType == models.AccountMailIMAP && s.poller != nil {
		account.Connected = true
		if err := s.poller.StartAccount(account); err != nil {
			s.logger.Error("failed to start mail poller", "account_id", id, "error", err)
		}
	}

	s.logger.Info("account connectivity verified", "account_id", id)
	WriteJSON(w, http.StatusOK, testResult{Status: "success", Message: "connection successful"})
}

// listAccountSources lists the source identifiers an operator can put in a
// rule's filter: chats for messenger accounts, folders for mail accounts.
// The mail poller currently reads INBOX only, so messages from a
// mail-inbound account always carry source id "INBOX"; other folders are
// listed for completeness but a filter on them will not match until the
// poller covers them.
func (s *Server) listAccountSources(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	account, err := s.db.GetAccountByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	switch account.AccountType {
	case models.AccountTelegram:
		if s.sources == nil {
			WriteError(w, http.StatusServiceUnavailable, "session gateway not configured")
			return
		}
		sources, err := s.sources.Dialogs(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusBadGateway, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, sources)

	case models.AccountMailIMAP:
		creds, err := account.Credentials()
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		sources, err := s.mail.ListFolders(r.Context(), *creds.Mail)
		if err != nil {
			WriteError(w, http.StatusBadGateway, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, sources)

	default:
		WriteError(w, http.StatusBadRequest, "account type has no listable sources")
	}
}
