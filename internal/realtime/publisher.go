package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Event is the envelope published for inbound provider notifications.
type Event struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, key string, evt Event) error
	Close() error
}

// ConnectionOptions configures the broker connection.
type ConnectionOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

const maxDialDelay = 60 * time.Second

// withDefaults fills in the zero-value options.
func (cfg ConnectionOptions) withDefaults() ConnectionOptions {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	return cfg
}

// DialWithRetry tries to connect to RabbitMQ with exponential backoff.
// It respects context cancellation for graceful shutdown.
func DialWithRetry(ctx context.Context, cfg ConnectionOptions) (*amqp091.Connection, error) {
	cfg = cfg.withDefaults()
	var lastErr error

	for i := 1; i <= cfg.RetryAttempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				cfg.Logger.Info("rabbit connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		sleep := cfg.Delay << (i - 1)
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		cfg.Logger.Warn("rabbit dial failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", sleep),
			slog.Any("error", err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w",
		cfg.RetryAttempts, lastErr)
}

// AMQPPublisher publishes events to a topic exchange.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	exchange string
	log      *slog.Logger
}

// NewAMQP dials the broker, opens a channel and declares the exchange.
func NewAMQP(ctx context.Context, cfg ConnectionOptions) (*AMQPPublisher, error) {
	cfg = cfg.withDefaults()

	conn, err := DialWithRetry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("realtime: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("realtime: declare exchange %q: %w", cfg.Exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: cfg.Exchange, log: cfg.Logger}, nil
}

// Publish sends one event with the given routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, key string, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("realtime: marshal event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType: "application/json",
		MessageId:   evt.ID,
		Timestamp:   evt.OccurredAt,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("realtime: publish %q: %w", key, err)
	}
	p.log.Debug("event published", slog.String("key", key), slog.String("id", evt.ID))
	return nil
}

func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// FallbackPublisher is used when no broker is configured; it logs and drops.
type FallbackPublisher struct {
	log *slog.Logger
}

func NewFallback(logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackPublisher{log: logger}
}

func (p *FallbackPublisher) Publish(ctx context.Context, key string, evt Event) error {
	p.log.Warn("FallbackPublisher: skipped publish", slog.String("key", key))
	return nil
}

func (p *FallbackPublisher) Close() error {
	return nil
}
