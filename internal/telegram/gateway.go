package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mixelka/messenger2mail/internal/auth"
	"github.com/mixelka/messenger2mail/pkg/models"
)

// Gateway is an HTTP client for the MTProto session sidecar that holds the
// actual user sessions and performs the provider login calls on our
// behalf. It implements auth.Gateway.
type Gateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// GatewayConfig for the session gateway client
type GatewayConfig struct {
	BaseURL string // e.g., http://session-gateway:8090
	Token   string
}

// NewGateway creates a new session gateway client
func NewGateway(cfg GatewayConfig) *Gateway {
	return &Gateway{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type gatewayResponse struct {
	Status  string `json:"status"` // "code_sent", "success", "2fa_required", "error"
	Message string `json:"message"`
	Session string `json:"session,omitempty"`
}

// RequestCode asks the provider to send a one-time login code to the phone
func (g *Gateway) RequestCode(ctx context.Context, accountID int64, phone string) error {
	var resp gatewayResponse
	path := fmt.Sprintf("/sessions/%d/send-code", accountID)
	if err := g.post(ctx, path, map[string]string{"phone": phone}, &resp); err != nil {
		return err
	}
	if resp.Status != "code_sent" {
		return fmt.Errorf("provider rejected code request: %s", resp.Message)
	}
	return nil
}

// Verify submits the one-time code and optional second-factor secret
func (g *Gateway) Verify(ctx context.Context, accountID int64, code, secondFactor string) (auth.VerifyResult, error) {
	var resp gatewayResponse
	path := fmt.Sprintf("/sessions/%d/sign-in", accountID)
	payload := map[string]string{"code": code, "password": secondFactor}
	if err := g.post(ctx, path, payload, &resp); err != nil {
		return auth.VerifyResult{}, err
	}

	switch resp.Status {
	case "success":
		return auth.VerifyResult{Session: resp.Session}, nil
	case "2fa_required":
		return auth.VerifyResult{SecondFactorRequired: true}, nil
	default:
		return auth.VerifyResult{}, fmt.Errorf("provider rejected sign-in: %s", resp.Message)
	}
}

// Dialogs lists the chats visible to the account's session, used to help
// an operator populate a rule's source filter.
func (g *Gateway) Dialogs(ctx context.Context, accountID int64) ([]models.KnownSource, error) {
	var sources []models.KnownSource
	path := fmt.Sprintf("/sessions/%d/dialogs", accountID)
	if err := g.get(ctx, path, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

// SendMessage sends a message into a chat as the account's user session.
// Used for messenger destinations when no Bot API sink is configured.
func (g *Gateway) SendMessage(ctx context.Context, accountID int64, chatID, text string) error {
	var resp gatewayResponse
	path := fmt.Sprintf("/sessions/%d/messages", accountID)
	payload := map[string]string{"chat_id": chatID, "text": text}
	if err := g.post(ctx, path, payload, &resp); err != nil {
		return err
	}
	if resp.Status != "success" {
		return fmt.Errorf("provider rejected message: %s", resp.Message)
	}
	return nil
}

func (g *Gateway) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, out)
}

func (g *Gateway) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return g.do(req, out)
}

func (g *Gateway) do(req *http.Request, out interface{}) error {
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call session gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// ErrGatewayNotConfigured is returned by the disabled gateway stub
var ErrGatewayNotConfigured = errors.New("session gateway not configured")

// DisabledGateway satisfies auth.Gateway when no sidecar is configured;
// every call fails with ErrGatewayNotConfigured.
type DisabledGateway struct{}

func (DisabledGateway) RequestCode(ctx context.Context, accountID int64, phone string) error {
	return ErrGatewayNotConfigured
}

func (DisabledGateway) Verify(ctx context.Context, accountID int64, code, secondFactor string) (auth.VerifyResult, error) {
	return auth.VerifyResult{}, ErrGatewayNotConfigured
}
