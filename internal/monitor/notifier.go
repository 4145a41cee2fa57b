package monitor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/circuitbreaker"
	"github.com/djlord-it/ynab-sync/internal/domain"
)

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, alert domain.Alert) error {
	log.Warn().
		Str("component", "monitor").
		Str("alarm", alert.Alarm).
		Str("function", alert.Function).
		Str("topic", alert.Topic).
		Float64("value", alert.Value).
		Msg(alert.Reason)
	return nil
}

// Publisher sends a message to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic, subject, message string) error
}

// TopicNotifier publishes alerts to the alert's topic, which fans out to
// its email subscriptions.
type TopicNotifier struct {
	publisher Publisher
}

func NewTopicNotifier(p Publisher) *TopicNotifier {
	return &TopicNotifier{publisher: p}
}

func (n *TopicNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	if alert.Topic == "" {
		return errors.New("alert has no topic")
	}
	body, err := json.MarshalIndent(alert, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	subject := fmt.Sprintf("ALARM: %s", alert.Alarm)
	return n.publisher.Publish(ctx, alert.Topic, subject, string(body))
}

// WebhookNotifier posts alerts as signed JSON.
// Headers: X-YnabSync-Delivery-ID, X-YnabSync-Signature (hex HMAC-SHA256 of the body).
type WebhookNotifier struct {
	client  *http.Client
	url     string
	secret  string
	timeout time.Duration
}

func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		client:  &http.Client{},
		url:     url,
		secret:  secret,
		timeout: 30 * time.Second,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-YnabSync-Delivery-ID", uuid.NewString())
	req.Header.Set("X-YnabSync-Signature", computeSignature(n.secret, body))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook body against its signature header.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Fanout delivers an alert to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, alert domain.Alert) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Guarded skips its notifier while the breaker holds the channel open, so
// a dead endpoint fails fast instead of costing a full timeout per alert.
type Guarded struct {
	Name     string
	Notifier Notifier
	Breaker  *circuitbreaker.CircuitBreaker
}

func (g Guarded) Notify(ctx context.Context, alert domain.Alert) error {
	err := g.Breaker.Do(g.Name, func() error {
		return g.Notifier.Notify(ctx, alert)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		log.Warn().Str("component", "monitor").Str("channel", g.Name).Str("alarm", alert.Alarm).
			Msg("notification channel open, alert not delivered")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", g.Name, err)
	}
	return nil
}
