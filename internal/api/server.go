// Package api exposes the backend boundary the operator-facing surface
// calls: account and rule CRUD, the login handshake endpoints, scheduler
// controls, forwarding history, and the inbound event feed.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mixelka/messenger2mail/internal/auth"
	"github.com/mixelka/messenger2mail/internal/database"
	"github.com/mixelka/messenger2mail/internal/scheduler"
	"github.com/mixelka/messenger2mail/pkg/models"
)

// SourceLister lists the chats a connected messenger session can see
type SourceLister interface {
	Dialogs(ctx context.Context, accountID int64) ([]models.KnownSource, error)
}

// MailTester runs connectivity tests and source listing for mail accounts
type MailTester interface {
	TestIMAP(ctx context.Context, creds models.MailCredentials) error
	TestSMTP(ctx context.Context, creds models.MailCredentials) error
	ListFolders(ctx context.Context, creds models.MailCredentials) ([]models.KnownSource, error)
}

// MailPoller controls the inbound mail poll loops
type MailPoller interface {
	StartAccount(account *models.Account) error
	StopAccount(accountID int64)
}

// Server holds the HTTP handlers and their dependencies
type Server struct {
	db        *database.DB
	auth      *auth.Engine
	scheduler *scheduler.Scheduler
	sources   SourceLister // may be nil when no session gateway is configured
	mail      MailTester
	poller    MailPoller
	logger    *slog.Logger
}

// Deps dependencies for creating a server
type Deps struct {
	DB        *database.DB
	Auth      *auth.Engine
	Scheduler *scheduler.Scheduler
	Sources   SourceLister
	Mail      MailTester
	Poller    MailPoller
	Logger    *slog.Logger
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	return &Server{
		db:        deps.DB,
		auth:      deps.Auth,
		scheduler: deps.Scheduler,
		sources:   deps.Sources,
		mail:      deps.Mail,
		poller:    deps.Poller,
		logger:    deps.Logger.With("component", "api"),
	}
}

// Router builds the HTTP routing table
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", s.listAccounts)
		r.Post("/", s.createAccount)
		r.Delete("/{id}", s.deleteAccount)
		r.Post("/{id}/test", s.testAccount)
		r.Get("/{id}/sources", s.listAccountSources)

		r.Post("/{id}/auth/start", s.startAuth)
		r.Post("/{id}/auth/phone", s.submitPhone)
		r.Post("/{id}/auth/code", s.submitCode)
		r.Post("/{id}/auth/second-factor", s.submitSecondFactor)
		r.Get("/{id}/auth", s.getAuthSession)
		r.Delete("/{id}/auth", s.cancelAuth)
	})

	r.Route("/rules", func(r chi.Router) {
		r.Get("/", s.listRules)
		r.Post("/", s.createRule)
		r.Put("/{id}", s.updateRule)
		r.Delete("/{id}", s.deleteRule)
	})

	r.Route("/schedule", func(r chi.Router) {
		r.Get("/config", s.getScheduleConfig)
		r.Put("/config", s.updateScheduleConfig)
		r.Post("/start", s.startSchedule)
		r.Post("/stop", s.stopSchedule)
		r.Post("/sync", s.syncSchedule)
	})

	r.Get("/logs", s.listLogs)
	r.Post("/events", s.ingestEvent)

	return r
}
