// Package gateway implements the alternate gateway provider client. The
// gateway speaks a flat JSON dialect and authenticates with an API key, but
// adapts to the same provider-neutral send contract as the Graph client.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"wacampaign_backend/internal/provider"
	"wacampaign_backend/platform/config"
	"wacampaign_backend/platform/logger"

	"golang.org/x/time/rate"
)

// Credentials is the per-tenant sending identity for the gateway.
type Credentials struct {
	ChannelID string
	APIKey    string
}

// Client sends template messages through the gateway's message endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

type sendRequest struct {
	ChannelID string           `json:"channel_id"`
	To        string           `json:"to"`
	Template  string           `json:"template"`
	Language  string           `json:"language"`
	Variables []map[string]any `json:"variables,omitempty"`
}

type sendResponse struct {
	MessageUID string `json:"message_uid"`
	Status     string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Title   string `json:"title"`
		Details string `json:"details"`
	} `json:"error"`
}

var terminalCodes = map[string]bool{
	"invalid_channel":    true,
	"invalid_template":   true,
	"parameter_mismatch": true,
	"unauthorized":       true,
}

// NewClient creates a gateway client shared across tenants; credentials are
// supplied per call.
func NewClient(cfg config.ProviderConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.GetGatewayBaseURL(), "/"),
		http:    &http.Client{Timeout: cfg.GetProviderTimeout()},
		limiter: rate.NewLimiter(rate.Limit(cfg.GetProviderRatePerSecond()), 1),
		log:     log,
	}
}

// SendFunc binds credentials into a provider-neutral send function.
func (c *Client) SendFunc(creds Credentials) provider.SendFunc {
	return func(ctx context.Context, req provider.SendRequest) (provider.SendResult, error) {
		return c.send(ctx, creds, req)
	}
}

func (c *Client) send(ctx context.Context, creds Credentials, req provider.SendRequest) (provider.SendResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return provider.SendResult{}, provider.NewTransient("rate_wait", err.Error())
	}

	payload := sendRequest{
		ChannelID: creds.ChannelID,
		To:        req.Recipient,
		Template:  req.TemplateName,
		Language:  req.LanguageCode,
		Variables: req.Components,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return provider.SendResult{}, fmt.Errorf("marshal gateway payload: %w", err)
	}

	url := c.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return provider.SendResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", creds.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return provider.SendResult{}, provider.NewTransient("network", err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return provider.SendResult{}, classifyError(resp.StatusCode, data)
	}

	var parsed sendResponse
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.MessageUID == "" {
		return provider.SendResult{}, provider.NewTerminal("malformed_response", "gateway response missing message uid")
	}

	return provider.SendResult{MessageID: parsed.MessageUID}, nil
}

func classifyError(status int, body []byte) error {
	var parsed errorResponse
	_ = json.Unmarshal(body, &parsed)

	code := parsed.Error.Code
	message := parsed.Error.Title
	if parsed.Error.Details != "" {
		message = message + ": " + parsed.Error.Details
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	if terminalCodes[code] {
		return provider.NewTerminal(code, message)
	}
	if provider.ClassifyHTTPStatus(status) {
		return provider.NewTransient(code, message)
	}
	return provider.NewTerminal(code, message)
}
