package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	source string
	client *http.Client
}

// NewWebhookNotifier creates a notifier for url with a 10s timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		source: "ml-trader",
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// webhookPayload is the request body: the alert fields plus a send time.
type webhookPayload struct {
	Alert
	Source string `json:"source"`
	SentAt string `json:"sent_at"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := sonic.Marshal(webhookPayload{
		Alert:  alert,
		Source: w.source,
		SentAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send %q: %w", alert.Title, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	log.Printf("[webhook] delivered %s alert %q", alert.Level, alert.Title)
	return nil
}
