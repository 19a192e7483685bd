// Package graph implements the Graph-API-style WhatsApp provider client.
package graph

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

// Credentials is the per-tenant sending identity for the Graph API.
type Credentials struct {
	PhoneNumberID string
	AccessToken   string
}

// Client sends template messages through the Graph API messages endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

type templatePayload struct {
	Name       string           `json:"name"`
	Language   languagePayload  `json:"language"`
	Components []map[string]any `json:"components,omitempty"`
}

type languagePayload struct {
	Code string `json:"code"`
}

type messageRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Template         templatePayload `json:"template"`
}

type messageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Code      int    `json:"code"`
		Message   string `json:"message"`
		Subcode   int    `json:"error_subcode"`
		ErrorData struct {
			Details string `json:"details"`
		} `json:"error_data"`
	} `json:"error"`
}

// Rate-limit codes the Graph API returns under sustained send pressure.
var retryableCodes = map[int]bool{
	4:      true, // application request limit
	80007:  true, // WABA rate limit
	130429: true, // cloud API throughput limit
	131056: true, // pair rate limit
}

// NewClient creates a Graph API client shared across tenants; credentials are
// supplied per call.
func NewClient(cfg config.ProviderConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.GetGraphAPIBaseURL(), "/"),
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

	payload := messageRequest{
		MessagingProduct: "whatsapp",
		To:               req.Recipient,
		Type:             "template",
		Template: templatePayload{
			Name:       req.TemplateName,
			Language:   languagePayload{Code: req.LanguageCode},
			Components: req.Components,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return provider.SendResult{}, fmt.Errorf("marshal graph payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, creds.PhoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return provider.SendResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return provider.SendResult{}, provider.NewTransient("network", err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return provider.SendResult{}, c.classifyError(resp.StatusCode, data)
	}

	var parsed messageResponse
	if err := json.Unmarshal(data, &parsed); err != nil || len(parsed.Messages) == 0 {
		return provider.SendResult{}, provider.NewTerminal("malformed_response", "graph response missing message id")
	}

	return provider.SendResult{MessageID: parsed.Messages[0].ID}, nil
}

func (c *Client) classifyError(status int, body []byte) error {
	var parsed errorResponse
	_ = json.Unmarshal(body, &parsed)

	code := fmt.Sprintf("%d", parsed.Error.Code)
	message := parsed.Error.Message
	if parsed.Error.ErrorData.Details != "" {
		message = message + ": " + parsed.Error.ErrorData.Details
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	if retryableCodes[parsed.Error.Code] || provider.ClassifyHTTPStatus(status) {
		return provider.NewTransient(code, message)
	}
	return provider.NewTerminal(code, message)
}
