// Package auth drives the multi-step provider login handshake that brings a
// messenger account into the connected state the forwarding scheduler
// requires. One state machine per account: phone, then one-time code, then
// an optional second factor.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/messenger2mail/pkg/models"
)

// Step is the state of an auth session
type Step string

const (
	StepAwaitingPhone        Step = "awaiting_phone"
	StepAwaitingCode         Step = "awaiting_code"
	StepAwaitingSecondFactor Step = "awaiting_second_factor"
	StepComplete             Step = "complete"
)

// ErrInvalidSessionState is returned when a submit does not match the
// session's current step, or no session exists for the account
var ErrInvalidSessionState = errors.New("invalid session state")

// ErrCodeRequestFailed is returned when the provider rejects a code request
var ErrCodeRequestFailed = errors.New("code request failed")

// ErrVerificationFailed is returned when the provider rejects a code or
// second factor
var ErrVerificationFailed = errors.New("verification failed")

// VerifyResult is the provider's answer to a verify call
type VerifyResult struct {
	SecondFactorRequired bool
	Session              string // provider-issued session token, set on success
}

// Gateway is the external provider login capability
type Gateway interface {
	RequestCode(ctx context.Context, accountID int64, phone string) error
	Verify(ctx context.Context, accountID int64, code, secondFactor string) (VerifyResult, error)
}

// AccountStore is the slice of the account store the engine needs
type AccountStore interface {
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
	SetAccountConnected(ctx context.Context, id int64, connected bool) error
	UpdateAccountCredentials(ctx context.Context, id int64, credentialsJSON string) error
}

// Session is the transient state of one login handshake
type Session struct {
	AccountID int64     `json:"account_id"`
	Step      Step      `json:"step"`
	Phone     string    `json:"phone,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Engine runs at most one login handshake per account
type Engine struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	gateway  Gateway
	accounts AccountStore
	logger   *slog.Logger
}

// NewEngine creates a new handshake engine
func NewEngine(gateway Gateway, accounts AccountStore, logger *slog.Logger) *Engine {
	return &Engine{
		sessions: make(map[int64]*Session),
		gateway:  gateway,
		accounts: accounts,
		logger:   logger.With("component", "auth_engine"),
	}
}

// StartSession begins a new handshake for a messenger account. Any prior
// non-terminal session for the account is discarded.
func (e *Engine) StartSession(ctx context.Context, accountID int64) (Session, error) {
	account, err := e.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return Session{}, err
	}
	if account.AccountType != models.AccountTelegram {
		return Session{}, fmt.Errorf("%w: account %d is not a messenger account", ErrInvalidSessionState, accountID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.sessions[accountID]; ok {
		e.logger.Info("superseding auth session", "account_id", accountID, "old_step", old.Step)
	}
	session := &Session{
		AccountID: accountID,
		Step:      StepAwaitingPhone,
		StartedAt: time.Now(),
	}
	e.sessions[accountID] = session

	e.logger.Info("auth session started", "account_id", accountID)
	return *session, nil
}

// Session returns a copy of the account's current session
func (e *Engine) Session(accountID int64) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[accountID]
	if !ok {
		return Session{}, false
	}
	return *session, true
}

// CancelSession discards the account's session, if any
func (e *Engine) CancelSession(accountID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.sessions[accountID]; ok {
		delete(e.sessions, accountID)
	}
}

// SubmitPhone submits the phone number and asks the provider to send a
// one-time code. On provider failure the session stays in awaiting_phone
// and the call may be retried.
func (e *Engine) SubmitPhone(ctx context.Context, accountID int64, phone string) (Session, error) {
	session, err := e.checkStep(accountID, StepAwaitingPhone)
	if err != nil {
		return Session{}, err
	}

	if err := e.gateway.RequestCode(ctx, accountID, phone); err != nil {
		e.recordError(session, err.Error())
		return e.snapshot(session), fmt.Errorf("%w: %s", ErrCodeRequestFailed, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions[accountID] != session {
		return Session{}, ErrInvalidSessionState
	}
	session.Phone = phone
	session.Step = StepAwaitingCode
	session.LastError = ""

	e.logger.Info("login code sent", "account_id", accountID)
	return *session, nil
}

// SubmitCode submits the one-time code, with an optional second-factor
// secret. The provider may answer that a second factor is required, in
// which case the session moves to awaiting_second_factor and the operator
// must resupply via SubmitSecondFactor.
func (e *Engine) SubmitCode(ctx context.Context, accountID int64, code, secondFactor string) (Session, error) {
	session, err := e.checkStep(accountID, StepAwaitingCode)
	if err != nil {
		return Session{}, err
	}
	return e.verify(ctx, session, code, secondFactor)
}

// SubmitSecondFactor submits the second-factor secret after the provider
// requested one. Retry is allowed without restarting from the phone step.
func (e *Engine) SubmitSecondFactor(ctx context.Context, accountID int64, secondFactor string) (Session, error) {
	session, err := e.checkStep(accountID, StepAwaitingSecondFactor)
	if err != nil {
		return Session{}, err
	}
	return e.verify(ctx, session, "", secondFactor)
}

// verify calls the provider verify capability and applies the resulting
// transition. Only a success here ever mutates account state.
func (e *Engine) verify(ctx context.Context, session *Session, code, secondFactor string) (Session, error) {
	accountID := session.AccountID

	result, err := e.gateway.Verify(ctx, accountID, code, secondFactor)
	if err != nil {
		e.recordError(session, err.Error())
		return e.snapshot(session), fmt.Errorf("%w: %s", ErrVerificationFailed, err)
	}

	e.mu.Lock()
	if e.sessions[accountID] != session {
		e.mu.Unlock()
		return Session{}, ErrInvalidSessionState
	}

	if result.SecondFactorRequired {
		session.Step = StepAwaitingSecondFactor
		session.LastError = ""
		snap := *session
		e.mu.Unlock()
		e.logger.Info("second factor required", "account_id", accountID)
		return snap, nil
	}

	// Success: the session is terminal and destroyed before account state
	// is mutated, so no further submits can race the completed handshake.
	session.Step = StepComplete
	snap := *session
	delete(e.sessions, accountID)
	e.mu.Unlock()

	if result.Session != "" {
		creds := models.Credentials{Telegram: &models.TelegramCredentials{
			Phone:   session.Phone,
			Session: result.Session,
		}}
		encoded, err := creds.Encode()
		if err != nil {
			return snap, err
		}
		if err := e.accounts.UpdateAccountCredentials(ctx, accountID, encoded); err != nil {
			return snap, err
		}
	}
	if err := e.accounts.SetAccountConnected(ctx, accountID, true); err != nil {
		return snap, err
	}

	e.logger.Info("handshake complete, account connected", "account_id", accountID)
	return snap, nil
}

// checkStep fetches the account's session and checks it is at the expected
// step. A missing or mismatched session is an ErrInvalidSessionState.
func (e *Engine) checkStep(accountID int64, want Step) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: no active session for account %d", ErrInvalidSessionState, accountID)
	}
	if session.Step != want {
		return nil, fmt.Errorf("%w: session is in %q, expected %q", ErrInvalidSessionState, session.Step, want)
	}
	return session, nil
}

func (e *Engine) recordError(session *Session, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions[session.AccountID] == session {
		session.LastError = msg
	}
}

func (e *Engine) snapshot(session *Session) Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *session
}
