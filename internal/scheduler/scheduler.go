// Package scheduler evaluates enabled routing rules against inbound
// messages. Instant rules dispatch each match immediately; digest rules
// accumulate matches in per-rule buffers that a periodic tick flushes as a
// single batch. Flush attempts for one rule never overlap.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mixelka/messenger2mail/pkg/models"
)

// RuleStore is the slice of the rule store the scheduler reads
type RuleStore interface {
	ListRules(ctx context.Context, enabledOnly bool) ([]*models.RoutingRule, error)
}

// AccountStore is the slice of the account store the scheduler reads
type AccountStore interface {
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
}

// HistoryStore records one entry per dispatch attempt
type HistoryStore interface {
	CreateLog(ctx context.Context, log *models.MessageLog) error
	SetLogsStatus(ctx context.Context, ids []int64, status, batchID string) error
}

// Dispatcher is the external sink capability. DispatchBatch receives a
// batch id that stays stable across retries of the same batch, so a sink
// can deduplicate a partially delivered flush.
type Dispatcher interface {
	DispatchMessage(ctx context.Context, rule *models.RoutingRule, msg models.InboundMessage) error
	DispatchBatch(ctx context.Context, rule *models.RoutingRule, batchID string, msgs []models.InboundMessage) error
}

// Deps dependencies for creating a scheduler
type Deps struct {
	Rules      RuleStore
	Accounts   AccountStore
	History    HistoryStore
	Dispatcher Dispatcher
	Clock      Clock
	Logger     *slog.Logger

	TickInterval    time.Duration // flush pass cadence, default 60s
	DispatchTimeout time.Duration // per dispatch call, default 30s

	// Excerpt shortens payload text for history entries; optional
	Excerpt func(string) string
}

// ruleState is the digest buffer for one rule. Owned exclusively by the
// scheduler; buffer order is arrival order.
type ruleState struct {
	buffer    []models.InboundMessage
	logIDs    []int64 // PENDING history rows matching buffer, same order
	lastFlush time.Time
	flushing  bool
	batchID   string // assigned when a flush batch forms, stable across retries
}

// Scheduler is the forwarding engine
type Scheduler struct {
	rules      RuleStore
	accounts   AccountStore
	history    HistoryStore
	dispatcher Dispatcher
	clock      Clock
	logger     *slog.Logger
	excerpt    func(string) string

	dispatchTimeout time.Duration

	mu       sync.Mutex
	states   map[int64]*ruleState
	interval time.Duration
	running  bool
	cancel   context.CancelFunc
	kick     chan struct{}

	wg sync.WaitGroup
}

// New creates a new scheduler
func New(deps Deps) *Scheduler {
	interval := deps.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := deps.DispatchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}
	excerpt := deps.Excerpt
	if excerpt == nil {
		excerpt = func(s string) string {
			if len(s) > 200 {
				return s[:200]
			}
			return s
		}
	}

	return &Scheduler{
		rules:           deps.Rules,
		accounts:        deps.Accounts,
		history:         deps.History,
		dispatcher:      deps.Dispatcher,
		clock:           clock,
		logger:          deps.Logger.With("component", "scheduler"),
		excerpt:         excerpt,
		dispatchTimeout: timeout,
		states:          make(map[int64]*ruleState),
		interval:        interval,
		kick:            make(chan struct{}, 1),
	}
}

// Start launches the tick loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	interval := s.interval
	s.mu.Unlock()

	s.logger.Info("scheduler started", "tick_interval", interval)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the tick loop and waits for it to exit. In-flight dispatches
// finish on their own timeouts.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// SetTickInterval changes the flush pass cadence of a running scheduler
func (s *Scheduler) SetTickInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
	s.logger.Info("tick interval updated", "tick_interval", d)
}

// TickInterval returns the current flush pass cadence
func (s *Scheduler) TickInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Running reports whether the tick loop is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.TickInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.TickInterval())
		case <-timer.C:
			s.flushPass(ctx, s.clock.Now())
			timer.Reset(s.TickInterval())
		}
	}
}

// SyncRules reconciles the scheduler's per-rule state with the rule store:
// buffers of deleted rules are discarded. Disabled rules keep their buffers
// and resume accumulating if re-enabled.
func (s *Scheduler) SyncRules(ctx context.Context) error {
	rules, err := s.rules.ListRules(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to sync rules: %w", err)
	}

	known := make(map[int64]bool, len(rules))
	for _, rule := range rules {
		known[rule.ID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, state := range s.states {
		if !known[id] {
			if n := len(state.buffer); n > 0 {
				s.logger.Warn("discarding buffer of deleted rule", "rule_id", id, "buffered", n)
			}
			delete(s.states, id)
		}
	}
	return nil
}

// HandleMessage evaluates one inbound message against all enabled rules.
// Every matching rule produces an independent forward; a failing rule never
// blocks the others. Only buffer appends and the instant-dispatch handoff
// happen on the caller's goroutine.
func (s *Scheduler) HandleMessage(ctx context.Context, msg models.InboundMessage) error {
	source, err := s.accounts.GetAccountByID(ctx, msg.AccountID)
	if err != nil {
		return fmt.Errorf("failed to resolve source account %d: %w", msg.AccountID, err)
	}
	if !source.Connected {
		// Rules never match messages from a disconnected account
		s.logger.Debug("dropping message from disconnected account", "account_id", msg.AccountID)
		return nil
	}

	rules, err := s.rules.ListRules(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	for _, rule := range rules {
		if rule.SourceAccountID != msg.AccountID {
			continue
		}
		filter, err := rule.SourceFilter()
		if err != nil {
			s.logger.Error("rule has a broken source filter", "rule_id", rule.ID, "error", err)
			continue
		}
		if !filter.Matches(msg.SourceID) {
			continue
		}

		switch rule.ForwardingType {
		case models.ForwardInstant:
			s.wg.Add(1)
			go s.dispatchInstant(rule, msg)
		case models.ForwardDigest:
			s.bufferMessage(ctx, rule, msg)
		}
	}
	return nil
}

// dispatchInstant performs one instant dispatch off the matching path and
// records the history entry for it.
func (s *Scheduler) dispatchInstant(rule *models.RoutingRule, msg models.InboundMessage) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
	defer cancel()

	status := models.StatusSent
	if err := s.dispatcher.DispatchMessage(ctx, rule, msg); err != nil {
		status = models.StatusFailed
		s.logger.Error("instant dispatch failed", "rule_id", rule.ID, "source_id", msg.SourceID, "error", err)
	}

	entry := &models.MessageLog{
		RuleID:          rule.ID,
		SourceAccountID: msg.AccountID,
		SourceID:        msg.SourceID,
		SenderName:      msg.SenderName,
		ContentExcerpt:  s.excerpt(msg.Text),
		Status:          status,
	}
	// The history write gets its own deadline: a dispatch that failed by
	// timeout must still produce its entry.
	logCtx, logCancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
	defer logCancel()
	if err := s.history.CreateLog(logCtx, entry); err != nil {
		s.logger.Error("failed to record history entry", "rule_id", rule.ID, "error", err)
	}
}

// bufferMessage appends a matched message to the rule's digest buffer and
// records a PENDING history row for it.
func (s *Scheduler) bufferMessage(ctx context.Context, rule *models.RoutingRule, msg models.InboundMessage) {
	entry := &models.MessageLog{
		RuleID:          rule.ID,
		SourceAccountID: msg.AccountID,
		SourceID:        msg.SourceID,
		SenderName:      msg.SenderName,
		ContentExcerpt:  s.excerpt(msg.Text),
		Status:          models.StatusPending,
	}
	if err := s.history.CreateLog(ctx, entry); err != nil {
		s.logger.Error("failed to record history entry", "rule_id", rule.ID, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[rule.ID]
	if !ok {
		// Buffer is created lazily on first match; the first flush
		// becomes eligible one interval after this point.
		state = &ruleState{lastFlush: s.clock.Now()}
		s.states[rule.ID] = state
	}
	state.buffer = append(state.buffer, msg)
	state.logIDs = append(state.logIDs, entry.ID)
}

// flushPass runs one digest flush evaluation. Exported behavior is driven
// by the tick loop; tests call it directly with a controlled clock.
func (s *Scheduler) flushPass(ctx context.Context, now time.Time) {
	rules, err := s.rules.ListRules(ctx, true)
	if err != nil {
		s.logger.Error("flush pass failed to list rules", "error", err)
		return
	}

	for _, rule := range rules {
		if rule.ForwardingType != models.ForwardDigest {
			continue
		}

		s.mu.Lock()
		state, ok := s.states[rule.ID]
		if !ok || len(state.buffer) == 0 || state.flushing || now.Sub(state.lastFlush) < rule.Interval() {
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		// Connectivity is re-checked at flush time: a source that
		// disconnected since match time defers the flush, it does not
		// drop the buffer.
		source, err := s.accounts.GetAccountByID(ctx, rule.SourceAccountID)
		if err != nil || !source.Connected {
			s.logger.Debug("flush deferred, source not connected", "rule_id", rule.ID)
			continue
		}
		if _, err := s.accounts.GetAccountByID(ctx, rule.DestinationAccountID); err != nil {
			s.logger.Debug("flush deferred, destination missing", "rule_id", rule.ID)
			continue
		}

		s.mu.Lock()
		if s.states[rule.ID] != state || state.flushing || len(state.buffer) == 0 {
			// The rule may have been deleted and resynced while the
			// connectivity checks ran
			s.mu.Unlock()
			continue
		}
		state.flushing = true
		if state.batchID == "" {
			state.batchID = uuid.NewString()
		}
		batchID := state.batchID
		batch := make([]models.InboundMessage, len(state.buffer))
		copy(batch, state.buffer)
		logIDs := make([]int64, len(state.logIDs))
		copy(logIDs, state.logIDs)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.flushRule(rule, state, batchID, batch, logIDs)
	}
}

// flushRule dispatches one digest batch. On success the flushed prefix is
// removed from the buffer and its PENDING rows become SENT; on failure the
// buffer and last_flush_at are left untouched so the next tick retries the
// same (possibly grown) batch under the same batch id.
func (s *Scheduler) flushRule(rule *models.RoutingRule, state *ruleState, batchID string, batch []models.InboundMessage, logIDs []int64) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
	err := s.dispatcher.DispatchBatch(ctx, rule, batchID, batch)
	cancel()

	s.mu.Lock()
	state.flushing = false
	if err == nil {
		state.buffer = append([]models.InboundMessage(nil), state.buffer[len(batch):]...)
		state.logIDs = append([]int64(nil), state.logIDs[len(logIDs):]...)
		state.lastFlush = s.clock.Now()
		state.batchID = ""
	}
	s.mu.Unlock()

	// History updates run under their own deadline so a dispatch that
	// failed by timeout cannot take its record down with it.
	logCtx, logCancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
	defer logCancel()

	if err != nil {
		s.logger.Error("digest flush failed, buffer retained", "rule_id", rule.ID, "batch_id", batchID, "batch_size", len(batch), "error", err)
		entry := &models.MessageLog{
			RuleID:          rule.ID,
			SourceAccountID: rule.SourceAccountID,
			SourceID:        "",
			ContentExcerpt:  fmt.Sprintf("digest flush of %d messages failed", len(batch)),
			Status:          models.StatusFailed,
			BatchID:         batchID,
		}
		if logErr := s.history.CreateLog(logCtx, entry); logErr != nil {
			s.logger.Error("failed to record history entry", "rule_id", rule.ID, "error", logErr)
		}
		return
	}

	if err := s.history.SetLogsStatus(logCtx, logIDs, models.StatusSent, batchID); err != nil {
		s.logger.Error("failed to mark batch entries sent", "rule_id", rule.ID, "batch_id", batchID, "error", err)
	}
	s.logger.Info("digest flushed", "rule_id", rule.ID, "batch_id", batchID, "batch_size", len(batch))
}

// Wait blocks until all in-flight dispatch goroutines finish, used by tests
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
