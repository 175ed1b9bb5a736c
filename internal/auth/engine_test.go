package auth

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/messenger2mail/pkg/models"
)

type fakeGateway struct {
	requestCodeErr error
	verifyResult   VerifyResult
	verifyErr      error

	codeRequests int
	verifyCalls  int
	lastCode     string
	lastFactor   string
}

func (g *fakeGateway) RequestCode(ctx context.Context, accountID int64, phone string) error {
	g.codeRequests++
	return g.requestCodeErr
}

func (g *fakeGateway) Verify(ctx context.Context, accountID int64, code, secondFactor string) (VerifyResult, error) {
	g.verifyCalls++
	g.lastCode = code
	g.lastFactor = secondFactor
	return g.verifyResult, g.verifyErr
}

type fakeAccounts struct {
	accounts       map[int64]*models.Account
	connected      map[int64]bool
	credentials    map[int64]string
	connectedCalls int
}

func newFakeAccounts(accounts ...*models.Account) *fakeAccounts {
	s := &fakeAccounts{
		accounts:    make(map[int64]*models.Account),
		connected:   make(map[int64]bool),
		credentials: make(map[int64]string),
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *fakeAccounts) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return account, nil
}

func (s *fakeAccounts) SetAccountConnected(ctx context.Context, id int64, connected bool) error {
	s.connectedCalls++
	s.connected[id] = connected
	return nil
}

func (s *fakeAccounts) UpdateAccountCredentials(ctx context.Context, id int64, credentialsJSON string) error {
	s.credentials[id] = credentialsJSON
	return nil
}

func messengerAccount(id int64) *models.Account {
	return &models.Account{ID: id, Name: "tg", AccountType: models.AccountTelegram}
}

func newTestEngine(gateway Gateway, accounts AccountStore) *Engine {
	return NewEngine(gateway, accounts, slog.Default())
}

func TestStartSession_MessengerOnly(t *testing.T) {
	gateway := &fakeGateway{}
	store := newFakeAccounts(
		messengerAccount(1),
		&models.Account{ID: 2, Name: "imap", AccountType: models.AccountMailIMAP},
	)
	engine := newTestEngine(gateway, store)
	ctx := context.Background()

	session, err := engine.StartSession(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingPhone, session.Step)

	_, err = engine.StartSession(ctx, 2)
	assert.ErrorIs(t, err, ErrInvalidSessionState)

	_, err = engine.StartSession(ctx, 99)
	assert.Error(t, err)
}

func TestFullHandshake_NoSecondFactor(t *testing.T) {
	gateway := &fakeGateway{verifyResult: VerifyResult{Session: "token-abc"}}
	store := newFakeAccounts(messengerAccount(1))
	engine := newTestEngine(gateway, store)
	ctx := context.Background()

	_, err := engine.StartSession(ctx, 1)
	require.NoError(t, err)

	session, err := engine.SubmitPhone(ctx, 1, "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingCode, session.Step)
	assert.Equal(t, 1, gateway.codeRequests)

	session, err = engine.SubmitCode(ctx, 1, "12345", "")
	require.NoError(t, err)
	assert.Equal(t, StepComplete, session.Step)

	// Terminal sessions are destroyed
	_, ok := engine.Session(1)
	assert.False(t, ok)

	assert.True(t, store.connected[1])
	assert.Equal(t, 1, store.connectedCalls)

	var creds models.Credentials
	account := &models.Account{ID: 1, AccountType: models.AccountTelegram, CredentialsJSON: store.credentials[1]}
	creds, err = account.Credentials()
	require.NoError(t, err)
	require.NotNil(t, creds.Telegram)
	assert.Equal(t, "token-abc", creds.Telegram.Session)
	assert.Equal(t, "+15550001111", creds.Telegram.Phone)
}

func TestFullHandshake_SecondFactor(t *testing.T) {
	gateway := &fakeGateway{verifyResult: VerifyResult{SecondFactorRequired: true}}
	store := newFakeAccounts(messengerAccount(1))
	engine := newTestEngine(gateway, store)
	ctx := context.Background()

	_, err := engine.StartSession(ctx, 1)
	require.NoError(t, err)
	_, err = engine.SubmitPhone(ctx, 1, "+15550001111")
	require.NoError(t, err)

	session, err := engine.SubmitCode(ctx, 1, "12345", "")
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingSecondFactor, session.Step)
	assert.False(t, store.connected[1])

	gateway.verifyResult = VerifyResult{Session: "token-2fa"}
	session, err = engine.SubmitSecondFactor(ctx, 1, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, StepComplete, session.Step)
	assert.Equal(t, "hunter2", gateway.lastFactor)
	assert.True(t, store.connected[1])
}

func TestSubmitPhone_ProviderFailureRetries(t *testing.T) {
	gateway := &fakeGateway{requestCodeErr: errors.New("flood wait")}
	store := newFakeAccounts(messengerAccount(1))
	engine := newTestEngine(gateway, store)
	ctx := context.Background()

	_, err := engine.StartSession(ctx, 1)
	require.NoError(t, err)

	session, err := engine.SubmitPhone(ctx, 1, "+15550001111")
	assert.ErrorIs(t, err, ErrCodeRequestFailed)
	assert.Equal(t, StepAwaitingPhone, session.Step)
	assert.Equal(t, "flood wait", session.LastError)

	// Same step, retry allowed
	gateway.requestCodeErr = nil
	session, err = engine.SubmitPhone(ctx, 1, "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingCode, session.Step)
	assert.Empty(t, session.LastError)
}

func TestSubmitCode_WrongCodeKeepsStep(t *testing.T) {
	gateway := &fakeGateway{verifyErr: errors.New("code invalid")}
	store := newFakeAccounts(messengerAccount(1))
	engine := newTestEngine(gateway, store)
	ctx := context.Background()

	_, err := engine.StartSession(ctx, 1)
	require.NoError(t, err)
	_, err = engine.SubmitPhone(ctx, 1, "+15550001111")
	require.NoError(t, err)

	session, err := engine.SubmitCode(ctx, 1, "00000", "")
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, StepAwaitingCode, session.Step)
	assert.False(t, store.connected[1])
}

func TestSubmit_OutOfOrder(t *testing.T) {
	gateway := &fakeGateway{}
	store := newFakeAccounts(messengerAccount(1))
	engine := newTestEngine(gateway, store)
	ctx := context.Background()

	// No session at all
	_, err := engine.SubmitCode(ctx, 1, "12345", "")
	assert.ErrorIs(t, err, ErrInvalidSessionState)

	_, err = engine.StartSession(ctx, 1)
	require.NoError(t, err)

	// Code before phone
	_, err = engine.SubmitCode(ctx, 1, "12345", "")
	assert.ErrorIs(t, err, ErrInvalidSessionState)

	// Second factor before the provider asked for one
	_, err = engine.SubmitSecondFactor(ctx, 1, "hunter2")
	assert.ErrorIs(t, err, ErrInvalidSessionState)

	assert.Zero(t, gateway.verifyCalls)
}

func TestStartSession_SupersedesPrior(t *testing.T) {
	gateway := &fakeGateway{}
	store := newFakeAccounts(messengerAccount(1))
	engine := newTestEngine(gateway, store)
	ctx := context.Background()

	_, err := engine.StartSession(ctx, 1)
	require.NoError(t, err)
	_, err = engine.SubmitPhone(ctx, 1, "+15550001111")
	require.NoError(t, err)

	// Restart drops the code step, a fresh handshake begins at phone
	session, err := engine.StartSession(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StepAwaitingPhone, session.Step)

	_, err = engine.SubmitCode(ctx, 1, "12345", "")
	assert.ErrorIs(t, err, ErrInvalidSessionState)
}

func TestCancelSession(t *testing.T) {
	gateway := &fakeGateway{}
	store := newFakeAccounts(messengerAccount(1))
	engine := newTestEngine(gateway, store)
	ctx := context.Background()

	_, err := engine.StartSession(ctx, 1)
	require.NoError(t, err)

	engine.CancelSession(1)
	_, ok := engine.Session(1)
	assert.False(t, ok)

	_, err = engine.SubmitPhone(ctx, 1, "+15550001111")
	assert.ErrorIs(t, err, ErrInvalidSessionState)
}
