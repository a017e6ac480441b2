package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/obs"
)

// Sender delivers one event. A nil error means the recipient has it.
type Sender interface {
	Send(ctx context.Context, e domain.Event) error
}

// LogSender writes rendered messages to the process log. It is the
// default when no webhook is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, e domain.Event) error {
	m := Render(e)
	obs.Logger().Info("notification",
		zap.String("event_id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.Body),
	)
	return nil
}

// WebhookSender POSTs each rendered message as JSON to a mail relay.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

type webhookPayload struct {
	ID   string            `json:"id"`
	Kind domain.EventKind  `json:"kind"`
	Data map[string]string `json:"data"`
	Message
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSender) Send(ctx context.Context, e domain.Event) error {
	body, err := json.Marshal(webhookPayload{ID: e.ID, Kind: e.Kind, Data: e.Data, Message: Render(e)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", e.ID)
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
