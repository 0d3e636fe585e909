// Package crmsync delivers change events from the sync queue to the
// downstream CRM webhook. Delivery is at-least-once; the receiving end is
// expected to dedupe on record id and operation.
package crmsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event mirrors what the campaign service enqueues after commit.
type Event struct {
	TenantID  string         `json:"tenant_id"`
	Table     string         `json:"table"`
	RecordID  string         `json:"record_id"`
	Operation string         `json:"operation"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Worker pushes queued events to the webhook. SendFunc is swappable so
// tests can observe deliveries without a live endpoint.
type Worker struct {
	WebhookURL string
	Client     *http.Client

	SendFunc func(body []byte) error
}

func NewWorker(webhookURL string) *Worker {
	return &Worker{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Process validates one queued message and delivers it. A malformed body
// returns an error the consumer should NOT retry; it is logged and dropped
// there.
func (w *Worker) Process(body []byte) error {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("malformed sync event: %w", err)
	}
	if event.RecordID == "" || event.Table == "" {
		return fmt.Errorf("sync event missing record_id or table")
	}

	send := w.SendFunc
	if send == nil {
		send = w.post
	}
	if err := send(body); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"tenant_id": event.TenantID,
		"table":     event.Table,
		"record_id": event.RecordID,
		"operation": event.Operation,
	}).Info("sync event delivered")
	return nil
}

func (w *Worker) post(body []byte) error {
	if w.WebhookURL == "" {
		return fmt.Errorf("no webhook URL configured")
	}
	resp, err := w.Client.Post(w.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
