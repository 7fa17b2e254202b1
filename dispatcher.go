package actionqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a successful Submit.
type Status int

const (
	// StatusDelivered means the backend accepted the action immediately.
	StatusDelivered Status = iota + 1
	// StatusSavedOffline means the network was unavailable and the action was queued.
	// Callers should treat it as a deferred success.
	StatusSavedOffline
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusSavedOffline:
		return "saved_offline"
	default:
		return "unknown"
	}
}

// Result describes how a submitted action was handled.
type Result struct {
	Status Status
	// EntryID is the queued entry when Status is StatusSavedOffline.
	EntryID uuid.UUID
}

// FlushTrigger starts a background flush without waiting for it.
type FlushTrigger interface {
	Trigger()
}

// Dispatcher is the entry point for submitting actions. It tries immediate delivery and
// falls back to the Queue when the network is unavailable.
type Dispatcher struct {
	transport Transport
	queue     *Queue
	trigger   FlushTrigger
	cfg       Config
}

// NewDispatcher constructs a Dispatcher. trigger may be nil.
func NewDispatcher(transport Transport, queue *Queue, trigger FlushTrigger, opts ...Option) *Dispatcher {
	return newDispatcher(transport, queue, trigger, newConfig(opts))
}

func newDispatcher(transport Transport, queue *Queue, trigger FlushTrigger, cfg Config) *Dispatcher {
	if transport == nil {
		panic("actionqueue: nil Transport")
	}
	if queue == nil {
		panic("actionqueue: nil Queue")
	}

	return &Dispatcher{
		transport: transport,
		queue:     queue,
		trigger:   trigger,
		cfg:       cfg,
	}
}

// Submit sends an action, queueing it when the failure is transient.
//
// On success a background flush is triggered. A transient failure returns StatusSavedOffline
// and no error. A logic failure is returned untouched and nothing is queued.
// An error is also returned when the offline save itself fails.
func (d *Dispatcher) Submit(ctx context.Context, kind string, payload json.RawMessage) (Result, error) {
	if err := ValidateAction(kind, payload); err != nil {
		return Result{}, err
	}
	key, err := DedupeKey(kind, payload)
	if err != nil {
		return Result{}, err
	}

	err = sendAction(ctx, d.transport, d.cfg.SendTimeout, kind, payload, key)
	if err == nil {
		d.cfg.Metrics.AddDelivered(1)
		d.triggerFlush()

		return Result{Status: StatusDelivered}, nil
	}

	if d.cfg.Classifier(err) == FailureLogic {
		d.cfg.Logger.Info("actionqueue action rejected", "kind", kind, "err", err)

		return Result{}, err
	}

	d.cfg.Logger.Info("actionqueue send failed, saving offline",
		"kind", kind, "cause", TransientKindOf(err), "err", err)

	id, qErr := d.queue.Enqueue(context.WithoutCancel(ctx), kind, payload)
	if qErr != nil {
		return Result{}, fmt.Errorf("actionqueue: save offline: %w (send: %w)", qErr, err)
	}
	d.cfg.Metrics.AddSavedOffline(1)

	if d.cfg.FlushThreshold > 0 && d.queue.Size() >= d.cfg.FlushThreshold {
		d.triggerFlush()
	}

	return Result{Status: StatusSavedOffline, EntryID: id}, nil
}

func (d *Dispatcher) triggerFlush() {
	if d.trigger != nil {
		d.trigger.Trigger()
	}
}

// sendAction performs one bounded send. A send cut off by its own deadline is reported as a
// transient timeout unless the transport already returned a logic error.
func sendAction(
	ctx context.Context,
	transport Transport,
	timeout time.Duration,
	kind string,
	payload json.RawMessage,
	key string,
) error {
	sendCtx, cancel := context.WithTimeout(WithIdempotencyKey(ctx, key), timeout)
	defer cancel()

	err := transport.Send(sendCtx, kind, payload)
	if err == nil {
		return nil
	}
	if errors.Is(sendCtx.Err(), context.DeadlineExceeded) && !IsLogic(err) {
		var transientErr *TransientError
		if !errors.As(err, &transientErr) {
			return NewTransientError(TransientTimeout, err)
		}
	}

	return err
}
