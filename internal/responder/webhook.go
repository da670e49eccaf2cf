// Package responder relays approved message envelopes to the external
// agent endpoint and feeds its replies back through the delivery callback.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"walletbot/internal/domain"
)

const defaultTimeout = 120 * time.Second

// Webhook posts envelopes as JSON to the agent URL and expects a JSON
// response of the form {"messages": [{"text": ..., "replyTo": ...}]}.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhook(url string, logger *slog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger,
	}
}

type webhookResponse struct {
	Messages []domain.OutboundPayload `json:"messages"`
}

// Dispatch sends the envelope and delivers each returned payload. A failed
// delivery of one payload does not stop the rest.
func (w *Webhook) Dispatch(ctx context.Context, env domain.Envelope, deliver func(domain.OutboundPayload) error) error {
	if w.url == "" {
		w.logger.Debug("no agent endpoint configured, dropping envelope",
			"account", env.AccountID, "route", env.RouteKey)
		return nil
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("agent request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode agent response: %w", err)
	}

	for _, p := range parsed.Messages {
		if p.Text == "" {
			continue
		}
		// deliver reports its own failures to the error sink; keep going.
		_ = deliver(p)
	}
	return nil
}
