package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/messenger2mail/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type fakeRuleStore struct {
	mu    sync.Mutex
	rules []*models.RoutingRule
}

func (s *fakeRuleStore) ListRules(ctx context.Context, enabledOnly bool) ([]*models.RoutingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.RoutingRule, 0, len(s.rules))
	for _, rule := range s.rules {
		if enabledOnly && !rule.Enabled {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s *fakeRuleStore) remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rules[:0]
	for _, rule := range s.rules {
		if rule.ID != id {
			kept = append(kept, rule)
		}
	}
	s.rules = kept
}

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account
}

func (s *fakeAccountStore) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	copied := *account
	return &copied, nil
}

func (s *fakeAccountStore) setConnected(id int64, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id].Connected = connected
}

type fakeHistory struct {
	mu     sync.Mutex
	nextID int64
	logs   []*models.MessageLog
}

func (h *fakeHistory) CreateLog(ctx context.Context, log *models.MessageLog) error {
	// Behaves like the real store: an expired context fails the write
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	log.ID = h.nextID
	copied := *log
	h.logs = append(h.logs, &copied)
	return nil
}

func (h *fakeHistory) SetLogsStatus(ctx context.Context, ids []int64, status, batchID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	for _, log := range h.logs {
		if wanted[log.ID] {
			log.Status = status
			log.BatchID = batchID
		}
	}
	return nil
}

func (h *fakeHistory) byStatus(status string) []*models.MessageLog {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*models.MessageLog
	for _, log := range h.logs {
		if log.Status == status {
			copied := *log
			out = append(out, &copied)
		}
	}
	return out
}

type dispatchedBatch struct {
	ruleID  int64
	batchID string
	msgs    []models.InboundMessage
}

type fakeDispatcher struct {
	mu         sync.Mutex
	messages   []models.InboundMessage
	batches    []dispatchedBatch
	messageErr error
	batchErr   error

	// when set, the dispatch hangs until its context expires
	stallMessage bool
	stallBatch   bool

	// when set, DispatchBatch blocks until the channel closes
	blockBatch chan struct{}
	inFlight   int
}

func (d *fakeDispatcher) DispatchMessage(ctx context.Context, rule *models.RoutingRule, msg models.InboundMessage) error {
	d.mu.Lock()
	if d.stallMessage {
		d.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	defer d.mu.Unlock()
	if d.messageErr != nil {
		return d.messageErr
	}
	d.messages = append(d.messages, msg)
	return nil
}

func (d *fakeDispatcher) DispatchBatch(ctx context.Context, rule *models.RoutingRule, batchID string, msgs []models.InboundMessage) error {
	d.mu.Lock()
	block := d.blockBatch
	stall := d.stallBatch
	d.inFlight++
	d.mu.Unlock()

	if block != nil {
		<-block
	}
	if stall {
		<-ctx.Done()
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
		return ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlight--
	if d.batchErr != nil {
		return d.batchErr
	}
	d.batches = append(d.batches, dispatchedBatch{ruleID: rule.ID, batchID: batchID, msgs: msgs})
	return nil
}

func (d *fakeDispatcher) sentMessages() []models.InboundMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.InboundMessage(nil), d.messages...)
}

func (d *fakeDispatcher) sentBatches() []dispatchedBatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatchedBatch(nil), d.batches...)
}

type fixture struct {
	sched      *Scheduler
	clock      *fakeClock
	rules      *fakeRuleStore
	accounts   *fakeAccountStore
	history    *fakeHistory
	dispatcher *fakeDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithTimeout(t, 0)
}

func newFixtureWithTimeout(t *testing.T, dispatchTimeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		clock: newFakeClock(),
		rules: &fakeRuleStore{},
		accounts: &fakeAccountStore{accounts: map[int64]*models.Account{
			1: {ID: 1, Name: "source", AccountType: models.AccountTelegram, Connected: true},
			2: {ID: 2, Name: "dest", AccountType: models.AccountMailSMTP, Connected: true},
		}},
		history:    &fakeHistory{},
		dispatcher: &fakeDispatcher{},
	}
	f.sched = New(Deps{
		Rules:           f.rules,
		Accounts:        f.accounts,
		History:         f.history,
		Dispatcher:      f.dispatcher,
		Clock:           f.clock,
		Logger:          slog.Default(),
		DispatchTimeout: dispatchTimeout,
	})
	return f
}

func (f *fixture) addRule(rule *models.RoutingRule) *models.RoutingRule {
	f.rules.mu.Lock()
	defer f.rules.mu.Unlock()
	f.rules.rules = append(f.rules.rules, rule)
	return rule
}

func instantRule(id int64, filter string) *models.RoutingRule {
	return &models.RoutingRule{
		ID:                   id,
		Name:                 "instant",
		SourceAccountID:      1,
		DestinationAccountID: 2,
		SourceFilterJSON:     filter,
		DestinationJSON:      `{"email":"inbox@example.com"}`,
		ForwardingType:       models.ForwardInstant,
		Enabled:              true,
	}
}

func digestRule(id int64, intervalMinutes int) *models.RoutingRule {
	return &models.RoutingRule{
		ID:                   id,
		Name:                 "digest",
		SourceAccountID:      1,
		DestinationAccountID: 2,
		SourceFilterJSON:     `["*"]`,
		DestinationJSON:      `{"email":"inbox@example.com"}`,
		ForwardingType:       models.ForwardDigest,
		IntervalMinutes:      intervalMinutes,
		Enabled:              true,
	}
}

func inbound(sourceID, text string) models.InboundMessage {
	return models.InboundMessage{
		AccountID:  1,
		SourceID:   sourceID,
		SenderName: "alice",
		Text:       text,
	}
}

func TestHandleMessage_InstantDispatchesOnce(t *testing.T) {
	f := newFixture(t)
	f.addRule(instantRule(10, `["chat-1"]`))

	require.NoError(t, f.sched.HandleMessage(context.Background(), inbound("chat-1", "hello")))
	f.sched.Wait()

	sent := f.dispatcher.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "hello", sent[0].Text)

	logs := f.history.byStatus(models.StatusSent)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(10), logs[0].RuleID)
	assert.Equal(t, "chat-1", logs[0].SourceID)
}

func TestHandleMessage_FanOutAcrossRules(t *testing.T) {
	f := newFixture(t)
	f.addRule(instantRule(10, `["chat-1"]`))
	f.addRule(instantRule(11, `["*"]`))
	f.addRule(instantRule(12, `["chat-2"]`)) // does not match

	require.NoError(t, f.sched.HandleMessage(context.Background(), inbound("chat-1", "hello")))
	f.sched.Wait()

	assert.Len(t, f.dispatcher.sentMessages(), 2)
	assert.Len(t, f.history.byStatus(models.StatusSent), 2)
}

func TestHandleMessage_IgnoresOtherAccountsAndDisabledRules(t *testing.T) {
	f := newFixture(t)
	other := instantRule(10, `["*"]`)
	other.SourceAccountID = 5
	f.addRule(other)
	disabled := instantRule(11, `["*"]`)
	disabled.Enabled = false
	f.addRule(disabled)

	require.NoError(t, f.sched.HandleMessage(context.Background(), inbound("chat-1", "hello")))
	f.sched.Wait()

	assert.Empty(t, f.dispatcher.sentMessages())
}

func TestHandleMessage_DropsDisconnectedSource(t *testing.T) {
	f := newFixture(t)
	f.addRule(instantRule(10, `["*"]`))
	f.accounts.setConnected(1, false)

	require.NoError(t, f.sched.HandleMessage(context.Background(), inbound("chat-1", "hello")))
	f.sched.Wait()

	assert.Empty(t, f.dispatcher.sentMessages())
	assert.Empty(t, f.history.byStatus(models.StatusSent))
}

func TestInstantDispatch_FailureRecordsFailed(t *testing.T) {
	f := newFixture(t)
	f.addRule(instantRule(10, `["*"]`))
	f.dispatcher.messageErr = errors.New("sink down")

	require.NoError(t, f.sched.HandleMessage(context.Background(), inbound("chat-1", "hello")))
	f.sched.Wait()

	logs := f.history.byStatus(models.StatusFailed)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(10), logs[0].RuleID)
}

func TestInstantDispatch_TimeoutStillRecordsFailure(t *testing.T) {
	f := newFixtureWithTimeout(t, 20*time.Millisecond)
	f.addRule(instantRule(10, `["*"]`))
	f.dispatcher.stallMessage = true

	require.NoError(t, f.sched.HandleMessage(context.Background(), inbound("chat-1", "hello")))
	f.sched.Wait()

	// The dispatch context expired, the history write must not share it
	logs := f.history.byStatus(models.StatusFailed)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(10), logs[0].RuleID)
	assert.Empty(t, f.history.byStatus(models.StatusSent))
}

func TestDigest_FlushesAfterInterval(t *testing.T) {
	f := newFixture(t)
	f.addRule(digestRule(20, 15))
	ctx := context.Background()

	require.NoError(t, f.sched.HandleMessage(ctx, inbound("chat-1", "first")))
	require.NoError(t, f.sched.HandleMessage(ctx, inbound("chat-2", "second")))

	pending := f.history.byStatus(models.StatusPending)
	require.Len(t, pending, 2)

	// Interval has not elapsed since the first buffered message
	f.sched.flushPass(ctx, f.clock.Advance(10*time.Minute))
	f.sched.Wait()
	assert.Empty(t, f.dispatcher.sentBatches())

	f.sched.flushPass(ctx, f.clock.Advance(6*time.Minute))
	f.sched.Wait()

	batches := f.dispatcher.sentBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, int64(20), batches[0].ruleID)
	assert.NotEmpty(t, batches[0].batchID)
	require.Len(t, batches[0].msgs, 2)
	assert.Equal(t, "first", batches[0].msgs[0].Text)
	assert.Equal(t, "second", batches[0].msgs[1].Text)

	sent := f.history.byStatus(models.StatusSent)
	require.Len(t, sent, 2)
	for _, log := range sent {
		assert.Equal(t, batches[0].batchID, log.BatchID)
	}
	assert.Empty(t, f.history.byStatus(models.StatusPending))
}

func TestDigest_EmptyBufferNeverFlushes(t *testing.T) {
	f := newFixture(t)
	f.addRule(digestRule(20, 15))

	f.sched.flushPass(context.Background(), f.clock.Advance(time.Hour))
	f.sched.Wait()
	assert.Empty(t, f.dispatcher.sentBatches())
}

func TestDigest_FailedFlushRetainsBufferAndBatchID(t *testing.T) {
	f := newFixture(t)
	f.addRule(digestRule(20, 15))
	ctx := context.Background()

	require.NoError(t, f.sched.HandleMessage(ctx, inbound("chat-1", "first")))
	require.NoError(t, f.sched.HandleMessage(ctx, inbound("chat-1", "second")))

	f.dispatcher.batchErr = errors.New("smtp down")
	f.sched.flushPass(ctx, f.clock.Advance(20*time.Minute))
	f.sched.Wait()

	// One batch-level failure row, buffered rows still pending
	failed := f.history.byStatus(models.StatusFailed)
	require.Len(t, failed, 1)
	firstBatchID := failed[0].BatchID
	assert.NotEmpty(t, firstBatchID)
	assert.Len(t, f.history.byStatus(models.StatusPending), 2)

	// Buffer keeps accumulating while delivery is down
	require.NoError(t, f.sched.HandleMessage(ctx, inbound("chat-1", "third")))

	f.dispatcher.mu.Lock()
	f.dispatcher.batchErr = nil
	f.dispatcher.mu.Unlock()

	// lastFlush was not advanced, the retry happens on the next pass
	f.sched.flushPass(ctx, f.clock.Advance(time.Minute))
	f.sched.Wait()

	batches := f.dispatcher.sentBatches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].msgs, 3)
	assert.Equal(t, firstBatchID, batches[0].batchID)

	assert.Len(t, f.history.byStatus(models.StatusSent), 3)
	assert.Empty(t, f.history.byStatus(models.StatusPending))
}

func TestDigest_TimeoutStillRecordsFailedBatch(t *testing.T) {
	f := newFixtureWithTimeout(t, 20*time.Millisecond)
	f.addRule(digestRule(20, 15))
	ctx := context.Background()

	require.NoError(t, f.sched.HandleMessage(ctx, inbound("chat-1", "hello")))

	f.dispatcher.stallBatch = true
	f.sched.flushPass(ctx, f.clock.Advance(20*time.Minute))
	f.sched.Wait()

	// The batch-level failure row lands even though the dispatch context
	// is expired; buffered rows stay pending for the retry
	failed := f.history.byStatus(models.StatusFailed)
	require.Len(t, failed, 1)
	assert.NotEmpty(t, failed[0].BatchID)
	assert.Len(t, f.history.byStatus(models.StatusPending), 1)
	assert.Empty(t, f.dispatcher.sentBatches())
}

func TestDigest_FlushDeferredWhileSourceDisconnected(t *testing.T) {
	f := newFixture(t)
	f.addRule(digestRule(20, 15))
	ctx := context.Background()

	require.NoError(t, f.sched.HandleMessage(ctx, inbound("chat-1", "hello")))
	f.accounts.setConnected(1, false)

	f.sched.flushPass(ctx, f.clock.Advance(time.Hour))
	f.sched.Wait()
	assert.Empty(t, f.dispatcher.sentBatches())
	assert.Len(t, f.history.byStatus(models.StatusPending), 1)

	// Reconnecting releases the buffered batch on the next pass
	f.accounts.setConnected(1, true)
	f.sched.flushPass(ctx, f.clock.Advance(time.Minute))
	f.sched.Wait()

	require.Len(t, f.dispatcher.sentBatches(), 1)
	assert.Empty(t, f.history.byStatus(models.StatusPending))
}

func TestDigest_NoOverlappingFlushes(t *testing.T) {
	f := newFixture(t)
	f.addRule(digestRule(20, 15))
	ctx := context.Background()

	require.NoError(t, f.sched.HandleMessage(ctx, inbound("chat-1", "hello")))

	release := make(chan struct{})
	f.dispatcher.mu.Lock()
	f.dispatcher.blockBatch = release
	f.dispatcher.mu.Unlock()

	now := f.clock.Advance(20 * time.Minute)
	f.sched.flushPass(ctx, now)

	// Second pass while the first flush is still in flight must not start
	// another dispatch for the same rule
	f.sched.flushPass(ctx, now.Add(time.Minute))

	f.dispatcher.mu.Lock()
	inFlight := f.dispatcher.inFlight
	f.dispatcher.blockBatch = nil
	f.dispatcher.mu.Unlock()
	assert.Equal(t, 1, inFlight)

	close(release)
	f.sched.Wait()

	assert.Len(t, f.dispatcher.sentBatches(), 1)
}

func TestSyncRules_DiscardsDeletedRuleBuffer(t *testing.T) {
	f := newFixture(t)
	rule := f.addRule(digestRule(20, 15))
	ctx := context.Background()

	require.NoError(t, f.sched.HandleMessage(ctx, inbound("chat-1", "hello")))

	f.rules.remove(rule.ID)
	require.NoError(t, f.sched.SyncRules(ctx))

	f.sched.flushPass(ctx, f.clock.Advance(time.Hour))
	f.sched.Wait()
	assert.Empty(t, f.dispatcher.sentBatches())
}

func TestSyncRules_KeepsDisabledRuleBuffer(t *testing.T) {
	f := newFixture(t)
	rule := f.addRule(digestRule(20, 15))
	ctx := context.Background()

	require.NoError(t, f.sched.HandleMessage(ctx, inbound("chat-1", "hello")))

	rule.Enabled = false
	require.NoError(t, f.sched.SyncRules(ctx))

	// Disabled rules are skipped by the flush pass but keep their buffer
	f.sched.flushPass(ctx, f.clock.Advance(time.Hour))
	f.sched.Wait()
	assert.Empty(t, f.dispatcher.sentBatches())

	rule.Enabled = true
	f.sched.flushPass(ctx, f.clock.Advance(time.Minute))
	f.sched.Wait()
	require.Len(t, f.dispatcher.sentBatches(), 1)
}

func TestStartStop_TickDrivesFlush(t *testing.T) {
	f := newFixture(t)
	f.sched.SetTickInterval(10 * time.Millisecond)
	f.addRule(digestRule(20, 15))
	ctx := context.Background()

	require.NoError(t, f.sched.HandleMessage(ctx, inbound("chat-1", "hello")))
	f.clock.Advance(20 * time.Minute)

	f.sched.Start()
	defer f.sched.Stop()

	require.Eventually(t, func() bool {
		return len(f.dispatcher.sentBatches()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}
