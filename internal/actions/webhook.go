package actions

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when
// action_config.secret is set.
const SignatureHeader = "X-Schedulerd-Signature"

const maxResponseBody = 4096

// Webhook delivers an HTTP request described by action_config:
//
//	url      target URL (required)
//	method   HTTP method, default POST
//	headers  map of extra request headers
//	payload  JSON body, default {}
//	secret   HMAC-SHA256 signing key
//
// Any non-2xx response is a failure.
type Webhook struct {
	httpClient *http.Client
}

// NewWebhook creates a webhook action. A nil client uses one with a 30s
// timeout; the schedule's handler timeout applies through the context.
func NewWebhook(client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Webhook{httpClient: client}
}

// Handle implements scheduler.Handler.
func (w *Webhook) Handle(ctx context.Context, cfg map[string]any) (any, error) {
	url, _ := cfg["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("webhook action requires a url")
	}

	method := http.MethodPost
	if m, ok := cfg["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	payload := cfg["payload"]
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if headers, ok := cfg["headers"].(map[string]any); ok {
		for key, value := range headers {
			req.Header.Set(key, fmt.Sprint(value))
		}
	}
	req.Header.Set("Content-Type", "application/json")

	if secret, ok := cfg["secret"].(string); ok && secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign([]byte(secret), body))
	}

	log.Debug().
		Str("method", method).
		Str("url", url).
		Msg("Delivering webhook")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}, nil
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
