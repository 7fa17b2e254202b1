package amqptransport

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const returnBuffer = 16

var errNotConfirming = errors.New("actionqueue amqp: channel is not in confirm mode")

// ChannelPublisher adapts an *amqp.Channel in confirm mode to Publisher.
type ChannelPublisher struct {
	ch      *amqp.Channel
	returns chan amqp.Return
}

var _ Publisher = (*ChannelPublisher)(nil)

// NewChannelPublisher puts ch into confirm mode and subscribes to returns.
func NewChannelPublisher(ch *amqp.Channel) (*ChannelPublisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("actionqueue amqp: enable confirms: %w", err)
	}

	returns := ch.NotifyReturn(make(chan amqp.Return, returnBuffer))

	return &ChannelPublisher{ch: ch, returns: returns}, nil
}

// Publish implements Publisher.
func (p *ChannelPublisher) Publish(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (Confirmation, error) {
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, false, msg)
	if err != nil {
		return nil, err
	}
	if confirm == nil {
		return nil, errNotConfirming
	}

	return confirm, nil
}

// Returns implements Publisher.
func (p *ChannelPublisher) Returns() <-chan amqp.Return {
	return p.returns
}

// Dialer owns a connection and channel opened from a URL.
type Dialer struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	Publisher *ChannelPublisher
}

// Dial connects to url, opens a confirm-mode channel and declares a durable topic exchange.
func Dial(url, exchange string) (*Dialer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("actionqueue amqp: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("actionqueue amqp: open channel: %w", err)
	}

	if exchange == "" {
		exchange = defaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("actionqueue amqp: declare exchange %s: %w", exchange, err)
	}

	publisher, err := NewChannelPublisher(ch)
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	return &Dialer{conn: conn, ch: ch, Publisher: publisher}, nil
}

// Close closes the channel and the connection.
func (d *Dialer) Close() error {
	_ = d.ch.Close()

	return d.conn.Close()
}
