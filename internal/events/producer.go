// Package events publishes payment lifecycle events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/punchamoorthee/faktor/internal/domain"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	RoutingPaymentCreated     = "payment.created"
	RoutingPaymentDistributed = "payment.distributed"
	RoutingPaymentClosed      = "payment.closed"
	RoutingInvoicePaid        = "invoice.paid"
)

// PaymentEvent is the body of every payment.* message.
type PaymentEvent struct {
	Payment   domain.Payment      `json:"payment"`
	Transfer  *domain.TransferLog `json:"transfer,omitempty"`
	Reclaimed int64               `json:"reclaimed,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// InvoiceEvent is the body of invoice.paid messages.
type InvoiceEvent struct {
	Payment   domain.InvoicePayment `json:"payment"`
	Timestamp time.Time             `json:"timestamp"`
}

// Publisher is implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	Close()
}

// Fallback is a no-op publisher used when AMQP is not configured or unreachable.
type Fallback struct {
	Log *zap.Logger
}

func (p *Fallback) Publish(ctx context.Context, routingKey string, body interface{}) error {
	if p.Log != nil {
		p.Log.Debug("publish skipped", zap.String("mode", "fallback"), zap.String("routing_key", routingKey))
	}
	return nil
}

func (p *Fallback) Close() {}

// Producer holds the RabbitMQ connection and channel for one exchange.
type Producer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      *zap.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewProducer dials the broker and declares the durable topic exchange.
func NewProducer(amqpURL, exchange string, log *zap.Logger) (*Producer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Producer{conn: conn, channel: ch, exchange: exchange, log: log.Named("events")}, nil
}

// New returns a Producer when amqpURL is set and reachable, and a Fallback otherwise.
func New(amqpURL, exchange string, log *zap.Logger) Publisher {
	if strings.TrimSpace(amqpURL) == "" {
		return &Fallback{Log: log}
	}
	p, err := NewProducer(amqpURL, exchange, log)
	if err != nil {
		log.Warn("rabbitmq unavailable, events disabled", zap.Error(err))
		return &Fallback{Log: log}
	}
	return p
}

func (p *Producer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	p.log.Warn("publish failed; reopening channel", zap.String("routing_key", routingKey), zap.Error(err))

	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return chErr
	}
	p.channel = ch
	if err := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
