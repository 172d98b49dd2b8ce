package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"torvpn/pkg/model"
)

// DefaultExchange receives audit entries when no exchange is configured.
const DefaultExchange = "torvpn.audit"

// ErrNoHistory is returned by journals that only forward entries.
var ErrNoHistory = errors.New("journal keeps no history")

// AMQP publishes every entry to a fanout exchange, routed by action. Entries are not
// retained locally.
type AMQP struct {
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// OpenAMQP connects to url and declares the exchange.
func OpenAMQP(url, exchange string) (*AMQP, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", exchange, err)
	}
	return &AMQP{exchange: exchange, conn: conn, ch: ch}, nil
}

func (a *AMQP) Record(ctx context.Context, e model.AuditEntry) error {
	msg, err := publishing(e)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn.IsClosed() {
		return fmt.Errorf("amqp connection closed")
	}
	return a.ch.PublishWithContext(ctx, a.exchange, e.Action, false, false, msg)
}

func (a *AMQP) Recent(context.Context, int) ([]model.AuditEntry, error) {
	return nil, ErrNoHistory
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.ch.Close()
	return a.conn.Close()
}

func publishing(e model.AuditEntry) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.Timestamp,
		Type:         e.Action,
		Body:         body,
	}, nil
}
