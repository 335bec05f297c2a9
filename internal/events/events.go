package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/config"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/pkg/models"
)

// Event is the message body published for every artifact lifecycle change
type Event struct {
	Type        string    `json:"type"`
	FileName    string    `json:"file_name"`
	MediaType   string    `json:"media_type"`
	SizeBytes   int64     `json:"filesize"`
	DownloadURL string    `json:"download_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewEvent builds the event body for artifact
func NewEvent(eventType string, artifact models.Artifact, at time.Time) Event {
	return Event{
		Type:        eventType,
		FileName:    artifact.FileName,
		MediaType:   artifact.MediaType,
		SizeBytes:   artifact.SizeBytes,
		DownloadURL: artifact.DownloadURL,
		CreatedAt:   artifact.CreatedAt,
		ExpiresAt:   artifact.ExpiresAt(),
		OccurredAt:  at,
	}
}

// Channel is the subset of *amqp.Channel the publisher needs
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends artifact lifecycle events to a topic exchange. Publish
// failures are logged and never reach the caller.
type Publisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
	now      func() time.Time
	logger   *logging.Logger
}

// New dials the broker and declares the events exchange
func New(cfg config.EventsConfig, logger *logging.Logger) (*Publisher, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p := NewWithChannel(channel, cfg.Exchange, logger)
	p.conn = conn
	return p, nil
}

// NewWithChannel wraps an already open channel
func NewWithChannel(channel Channel, exchange string, logger *logging.Logger) *Publisher {
	return &Publisher{
		channel:  channel,
		exchange: exchange,
		now:      time.Now,
		logger:   logger.WithComponent("events"),
	}
}

// Notify publishes eventType for artifact, routed by the event type
func (p *Publisher) Notify(ctx context.Context, eventType string, artifact models.Artifact) {
	if err := p.Publish(ctx, eventType, artifact); err != nil {
		p.logger.WithError(err).Warnf("Failed to publish %s for %s", eventType, artifact.FileName)
	}
}

// Publish publishes eventType for artifact and reports failures
func (p *Publisher) Publish(ctx context.Context, eventType string, artifact models.Artifact) error {
	body, err := json.Marshal(NewEvent(eventType, artifact, p.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		eventType,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    p.now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the broker connection
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
