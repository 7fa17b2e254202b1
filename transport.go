package actionqueue

import (
	"context"
	"encoding/json"
)

// Transport performs one network call for an action.
//
// Send returns nil on success, a *LogicError when the backend rejected the action,
// and any other error (typically *TransientError) when delivery could not be confirmed.
type Transport interface {
	Send(ctx context.Context, kind string, payload json.RawMessage) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, kind string, payload json.RawMessage) error

// Send implements Transport.
func (fn TransportFunc) Send(ctx context.Context, kind string, payload json.RawMessage) error {
	return fn(ctx, kind, payload)
}

type idempotencyKeyCtx struct{}

// WithIdempotencyKey attaches the dedupe key of an action so transports can pass it to the backend.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// IdempotencyKeyFromContext returns the key set by WithIdempotencyKey.
func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKeyCtx{}).(string)

	return key, ok && key != ""
}
