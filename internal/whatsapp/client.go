// Package whatsapp sends text messages through an Evolution API instance.
package whatsapp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"salesops_backend/platform/apperr"
	"salesops_backend/platform/config"
	"salesops_backend/platform/logger"

	json "github.com/goccy/go-json"
)

const (
	provider       = "evolution"
	requestTimeout = 30 * time.Second
	sendDelayMs    = 1200
	maxErrorBody   = 2048
)

// SendRequest is one outbound text message. Number is the bare digit string.
type SendRequest struct {
	Number   string
	Text     string
	Instance string
}

// SendResult is what the provider answered. It is filled in as far as
// possible even when the send fails, so the attempt can be audited.
type SendResult struct {
	MessageID  string
	StatusCode int
	Request    json.RawMessage
	Body       json.RawMessage
}

type Client struct {
	baseURL  string
	apiKey   string
	instance string
	http     *http.Client
	log      *logger.Logger
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Delay  int    `json:"delay"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// NewClient returns nil when no provider url is configured.
func NewClient(cfg config.WhatsAppConfig, log *logger.Logger) *Client {
	if cfg.GetWhatsAppURL() == "" {
		return nil
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		apiKey:   cfg.GetWhatsAppKey(),
		instance: cfg.GetWhatsAppInstance(),
		http:     &http.Client{Timeout: requestTimeout},
		log:      log,
	}
}

// SendText posts one message. The instance in req overrides the configured one.
func (c *Client) SendText(ctx context.Context, req SendRequest) (SendResult, error) {
	if c == nil {
		return SendResult{}, apperr.Validation("messaging provider is not configured")
	}

	instance := req.Instance
	if instance == "" {
		instance = c.instance
	}
	if instance == "" {
		return SendResult{}, apperr.Validation("messaging instance is not configured")
	}

	payload, err := json.Marshal(sendTextRequest{Number: req.Number, Text: req.Text, Delay: sendDelayMs})
	if err != nil {
		return SendResult{}, fmt.Errorf("marshal whatsapp payload: %w", err)
	}
	result := SendResult{Request: payload}

	endpoint := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, url.PathEscape(instance))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return result, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		e := apperr.Upstream(apperr.KindUpstream, provider, 0, "")
		e.Err = err
		c.log.UpstreamError(provider, "send_text", 0, err)
		return result, e.WithOp("whatsapp.send_text")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, _ := io.ReadAll(resp.Body)
	result.StatusCode = resp.StatusCode
	result.Body = rawOrString(body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := statusError(resp.StatusCode, body).WithOp("whatsapp.send_text")
		c.log.UpstreamError(provider, "send_text", resp.StatusCode, e)
		return result, e
	}

	var decoded sendTextResponse
	if err := json.Unmarshal(body, &decoded); err == nil {
		result.MessageID = decoded.Key.ID
	}
	c.log.Info("whatsapp message sent", "message_id", result.MessageID, "instance", instance)
	return result, nil
}

func statusError(status int, body []byte) *apperr.Error {
	kind := apperr.KindUpstream
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = apperr.KindUnauthorized
	case http.StatusTooManyRequests:
		kind = apperr.KindRateLimited
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return apperr.Upstream(kind, provider, status, text)
}

func rawOrString(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
