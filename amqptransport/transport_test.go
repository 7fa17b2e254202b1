package amqptransport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/velmie/actionqueue"
)

type fakeConfirm struct {
	acked bool
	err   error
}

func (c fakeConfirm) WaitContext(context.Context) (bool, error) {
	return c.acked, c.err
}

type published struct {
	exchange  string
	key       string
	mandatory bool
	msg       amqp.Publishing
}

type fakePublisher struct {
	returns    chan amqp.Return
	publishErr error
	confirm    fakeConfirm
	returnNext bool
	sent       []published
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		returns: make(chan amqp.Return, 4),
		confirm: fakeConfirm{acked: true},
	}
}

func (p *fakePublisher) Publish(_ context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) (Confirmation, error) {
	if p.publishErr != nil {
		return nil, p.publishErr
	}
	p.sent = append(p.sent, published{exchange: exchange, key: key, mandatory: mandatory, msg: msg})
	if p.returnNext {
		p.returns <- amqp.Return{
			ReplyCode:  amqp.NoRoute,
			ReplyText:  "NO_ROUTE",
			Exchange:   exchange,
			RoutingKey: key,
			MessageId:  msg.MessageId,
		}
	}

	return p.confirm, nil
}

func (p *fakePublisher) Returns() <-chan amqp.Return {
	return p.returns
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestSendPublishesAction(t *testing.T) {
	publisher := newFakePublisher()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	transport, err := New(publisher, WithExchange("game.actions"), WithClock(fixedClock{now: now}))
	require.NoError(t, err)

	ctx := actionqueue.WithIdempotencyKey(context.Background(), "key-1")
	require.NoError(t, transport.Send(ctx, "completeQuest", json.RawMessage(`{"questId":"q1"}`)))

	require.Len(t, publisher.sent, 1)
	got := publisher.sent[0]
	require.Equal(t, "game.actions", got.exchange)
	require.Equal(t, "completeQuest", got.key)
	require.True(t, got.mandatory)
	require.Equal(t, "key-1", got.msg.MessageId)
	require.Equal(t, "completeQuest", got.msg.Type)
	require.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	require.Equal(t, "application/json", got.msg.ContentType)
	require.True(t, got.msg.Timestamp.Equal(now))

	var msg Message
	require.NoError(t, json.Unmarshal(got.msg.Body, &msg))
	require.Equal(t, "completeQuest", msg.Kind)
	require.JSONEq(t, `{"questId":"q1"}`, string(msg.Payload))
}

func TestSendClosedChannelIsTransient(t *testing.T) {
	publisher := newFakePublisher()
	publisher.publishErr = amqp.ErrClosed
	transport, err := New(publisher)
	require.NoError(t, err)

	err = transport.Send(context.Background(), "completeQuest", json.RawMessage(`{}`))
	require.Error(t, err)
	require.True(t, actionqueue.IsTransient(err))
	require.Equal(t, actionqueue.TransientConnection, actionqueue.TransientKindOf(err))
	require.ErrorIs(t, err, amqp.ErrClosed)
}

func TestSendNackIsTransient(t *testing.T) {
	publisher := newFakePublisher()
	publisher.confirm = fakeConfirm{acked: false}
	transport, err := New(publisher)
	require.NoError(t, err)

	err = transport.Send(context.Background(), "completeQuest", json.RawMessage(`{}`))
	require.True(t, actionqueue.IsTransient(err))
	require.Equal(t, actionqueue.TransientUnavailable, actionqueue.TransientKindOf(err))
}

func TestSendConfirmTimeoutIsTransient(t *testing.T) {
	publisher := newFakePublisher()
	publisher.confirm = fakeConfirm{err: context.DeadlineExceeded}
	transport, err := New(publisher)
	require.NoError(t, err)

	err = transport.Send(context.Background(), "completeQuest", json.RawMessage(`{}`))
	require.True(t, actionqueue.IsTransient(err))
	require.Equal(t, actionqueue.TransientTimeout, actionqueue.TransientKindOf(err))
}

func TestSendUnroutableIsLogic(t *testing.T) {
	publisher := newFakePublisher()
	publisher.returnNext = true
	transport, err := New(publisher)
	require.NoError(t, err)

	err = transport.Send(context.Background(), "unknownKind", json.RawMessage(`{}`))
	var logicErr *actionqueue.LogicError
	require.True(t, errors.As(err, &logicErr))
	require.Equal(t, "unroutable", logicErr.Code)
	require.Contains(t, logicErr.Message, "unknownKind")
}

func TestSendDiscardsStaleReturns(t *testing.T) {
	publisher := newFakePublisher()
	publisher.returns <- amqp.Return{RoutingKey: "old", MessageId: "stale"}
	transport, err := New(publisher)
	require.NoError(t, err)

	require.NoError(t, transport.Send(context.Background(), "completeQuest", json.RawMessage(`{}`)))
	require.Empty(t, publisher.returns)
}

func TestSendNonMandatory(t *testing.T) {
	publisher := newFakePublisher()
	transport, err := New(publisher, WithMandatory(false))
	require.NoError(t, err)

	require.NoError(t, transport.Send(context.Background(), "completeQuest", json.RawMessage(`{}`)))
	require.False(t, publisher.sent[0].mandatory)
	require.Equal(t, defaultExchange, publisher.sent[0].exchange)
}

func TestNewRequiresPublisher(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrPublisherRequired)
}
