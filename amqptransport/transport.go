// Package amqptransport delivers actions by publishing them to a RabbitMQ exchange with
// publisher confirms.
//
// An action counts as delivered only once the broker acks it. Channel or connection failures
// and nacks are transient. A mandatory publish that no queue is bound for comes back as a
// basic.return and is reported as *actionqueue.LogicError, since replaying it cannot succeed
// until the topology changes.
package amqptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/velmie/actionqueue"
)

const defaultExchange = "actionqueue.actions"

// ErrPublisherRequired is returned when a nil publisher is provided.
var ErrPublisherRequired = errors.New("actionqueue amqp: publisher is required")

// Confirmation resolves to the broker's ack or nack of one publish.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// Publisher publishes with confirms and exposes returned messages.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (Confirmation, error)
	Returns() <-chan amqp.Return
}

// Message is the body published for one action.
type Message struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Transport implements actionqueue.Transport on AMQP.
type Transport struct {
	publisher Publisher
	exchange  string
	mandatory bool
	clock     actionqueue.Clock
	logger    actionqueue.Logger

	mu sync.Mutex
}

var _ actionqueue.Transport = (*Transport)(nil)

// Option configures the Transport.
type Option func(*Transport)

// WithExchange sets the exchange actions are published to. The routing key is the action kind.
func WithExchange(name string) Option {
	return func(t *Transport) {
		t.exchange = name
	}
}

// WithMandatory controls whether unroutable actions are returned by the broker.
func WithMandatory(mandatory bool) Option {
	return func(t *Transport) {
		t.mandatory = mandatory
	}
}

// WithClock sets the time source for message timestamps.
func WithClock(clock actionqueue.Clock) Option {
	return func(t *Transport) {
		t.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger actionqueue.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// New creates a transport on publisher.
func New(publisher Publisher, opts ...Option) (*Transport, error) {
	if publisher == nil {
		return nil, ErrPublisherRequired
	}

	t := &Transport{
		publisher: publisher,
		exchange:  defaultExchange,
		mandatory: true,
		clock:     actionqueue.SystemClock{},
		logger:    actionqueue.NopLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// Send implements actionqueue.Transport.
func (t *Transport) Send(ctx context.Context, kind string, payload json.RawMessage) error {
	body, err := json.Marshal(Message{Kind: kind, Payload: payload})
	if err != nil {
		return fmt.Errorf("actionqueue amqp: marshal message: %w", err)
	}

	messageID, _ := actionqueue.IdempotencyKeyFromContext(ctx)

	// publishes are serialized so a return always belongs to the last publish
	t.mu.Lock()
	defer t.mu.Unlock()

	t.drainReturns()

	confirm, err := t.publisher.Publish(ctx, t.exchange, kind, t.mandatory, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Type:         kind,
		Timestamp:    t.clock.Now(),
		Body:         body,
	})
	if err != nil {
		return actionqueue.NewTransientError(kindOf(err), fmt.Errorf("publish to %s/%s: %w", t.exchange, kind, err))
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return actionqueue.NewTransientError(kindOf(err), fmt.Errorf("confirm %s/%s: %w", t.exchange, kind, err))
	}
	if !acked {
		return actionqueue.NewTransientError(actionqueue.TransientUnavailable, fmt.Errorf("broker nacked %s/%s", t.exchange, kind))
	}

	if ret, ok := t.pendingReturn(); ok {
		return actionqueue.NewLogicError("unroutable", fmt.Sprintf("%d %s: no route for %q on %q", ret.ReplyCode, ret.ReplyText, ret.RoutingKey, ret.Exchange))
	}

	t.logger.Debug("actionqueue published action", "exchange", t.exchange, "kind", kind, "message_id", messageID)

	return nil
}

// the broker sends basic.return before the ack of the same publish
func (t *Transport) pendingReturn() (amqp.Return, bool) {
	select {
	case ret, ok := <-t.publisher.Returns():
		return ret, ok
	default:
		return amqp.Return{}, false
	}
}

func (t *Transport) drainReturns() {
	for {
		select {
		case ret, ok := <-t.publisher.Returns():
			if !ok {
				return
			}
			t.logger.Warn("actionqueue discarded stale amqp return", "routing_key", ret.RoutingKey, "message_id", ret.MessageId)
		default:
			return
		}
	}
}

func kindOf(err error) actionqueue.TransientKind {
	if errors.Is(err, amqp.ErrClosed) {
		return actionqueue.TransientConnection
	}

	return actionqueue.TransientKindOf(err)
}
