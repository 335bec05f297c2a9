package webhook

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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/config"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/events"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

// Retry delays: 10s, 1min, 5min
var DefaultRetryDelays = []time.Duration{
	10 * time.Second,
	1 * time.Minute,
	5 * time.Minute,
}

// Deferrer runs keyed one-shot tasks at a deadline
type Deferrer interface {
	Schedule(key string, at time.Time, fn func()) bool
}

// Payload is the JSON body POSTed to the callback URL
type Payload struct {
	DeliveryID string       `json:"delivery_id"`
	Attempt    int          `json:"attempt"`
	Event      events.Event `json:"event"`
}

// Notifier POSTs artifact lifecycle events to a single callback URL.
// Failed deliveries are retried with backoff; the caller never waits on the
// network.
type Notifier struct {
	client      *http.Client
	url         string
	secret      string
	deferred    Deferrer
	retryDelays []time.Duration
	now         func() time.Time
	logger      *logging.Logger

	wg sync.WaitGroup
}

// Option configures a Notifier
type Option func(*Notifier)

// WithClock overrides the clock used for timestamps and retry deadlines
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// WithRetryDelays overrides DefaultRetryDelays
func WithRetryDelays(delays ...time.Duration) Option {
	return func(n *Notifier) { n.retryDelays = delays }
}

// New creates a notifier for cfg.URL
func New(cfg config.WebhookConfig, deferred Deferrer, logger *logging.Logger, opts ...Option) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	n := &Notifier{
		client:      &http.Client{Timeout: timeout},
		url:         cfg.URL,
		secret:      cfg.Secret,
		deferred:    deferred,
		retryDelays: DefaultRetryDelays,
		now:         time.Now,
		logger:      logger.WithComponent("webhook"),
	}
	for _, opt := range opts {
		opt(n)
	}

	return n, nil
}

// Notify queues delivery of event for artifact
func (n *Notifier) Notify(ctx context.Context, event string, artifact models.Artifact) {
	payload := Payload{
		DeliveryID: uuid.New().String(),
		Attempt:    1,
		Event:      events.NewEvent(event, artifact, n.now()),
	}
	n.dispatch(payload)
}

// Wait blocks until in-flight deliveries finish. Scheduled retries are not
// waited for.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) dispatch(payload Payload) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.attempt(payload)
	}()
}

func (n *Notifier) attempt(payload Payload) {
	err := n.deliver(context.Background(), payload)
	if err == nil {
		metrics.RecordStorageOperation("webhook", "success")
		return
	}

	log := n.logger.WithError(err).WithFields(map[string]interface{}{
		"delivery_id": payload.DeliveryID,
		"event":       payload.Event.Type,
		"attempt":     payload.Attempt,
	})

	if payload.Attempt > len(n.retryDelays) {
		log.Error("Webhook delivery abandoned")
		metrics.RecordStorageOperation("webhook", "error")
		return
	}

	delay := n.retryDelays[payload.Attempt-1]
	log.Warnf("Webhook delivery failed, retrying in %s", delay)
	metrics.RecordStorageOperation("webhook", "retry")

	next := payload
	next.Attempt++
	n.deferred.Schedule("webhook:"+payload.DeliveryID, n.now().Add(delay), func() {
		n.dispatch(next)
	})
}

// deliver sends one attempt
func (n *Notifier) deliver(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mediadrop-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", payload.Event.Type)
	req.Header.Set("X-Webhook-Delivery", payload.DeliveryID)

	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(body, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("callback returned %d: %s", resp.StatusCode, snippet)
	}

	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
