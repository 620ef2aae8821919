// Package amqp publishes admission decisions to a RabbitMQ topic exchange.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bnema/mailpilot/internal/ports"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const DefaultExchange = "mailpilot.decisions"

// channel is the part of *amqp.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	exchange string
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       channel
}

var _ ports.DecisionPublisher = (*Publisher)(nil)

// Dial connects to url and declares a durable topic exchange.
func Dial(url string, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	publisher, err := newPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn

	log.Debug().Str("exchange", publisher.exchange).Msg("amqp publisher ready")
	return publisher, nil
}

func newPublisher(ch channel, exchange string) (*Publisher, error) {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = DefaultExchange
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Publisher{exchange: exchange, ch: ch}, nil
}

// RoutingKey is decision.admitted or decision.refused.<kind>.
func RoutingKey(event ports.DecisionEvent) string {
	if event.Admitted {
		return "decision.admitted"
	}
	if event.Refusal == "" {
		return "decision.refused"
	}
	return "decision.refused." + event.Refusal
}

func (p *Publisher) Publish(ctx context.Context, event ports.DecisionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         "mailpilot.decision",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish decision %s: %w", event.ID, err)
	}

	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
