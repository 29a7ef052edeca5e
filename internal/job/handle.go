package job

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// State is the lifecycle position of a Handle
type State int

const (
	StateDelivered State = iota
	StateAcknowledged
	StateReleased
	StateRequeued
)

func (s State) String() string {
	switch s {
	case StateDelivered:
		return "delivered"
	case StateAcknowledged:
		return "acknowledged"
	case StateReleased:
		return "released"
	case StateRequeued:
		return "requeued"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handle is the consumer-side view of one delivered job.
//
// A Handle is built once per delivery and used by a single worker. Delete
// and Release both consume the delivery tag; any later ack attempt fails
// with ErrProtocol. A Handle is never reused.
type Handle struct {
	env          Envelope
	acker        amqp.Acknowledger
	queue        Queue
	codec        *Codec
	logger       *slog.Logger
	publishFirst bool

	mu         sync.Mutex
	state      State
	descriptor *Descriptor
	decodeErr  error
}

// HandleOption configures a Handle
type HandleOption func(*Handle)

// WithLogger sets the logger used for ack and release events
func WithLogger(logger *slog.Logger) HandleOption {
	return func(h *Handle) {
		h.logger = logger
	}
}

// WithPublishBeforeAck makes Release publish the retry before acking the
// original delivery. A failed decode or publish then leaves the delivery
// unacknowledged instead of losing it, at the cost of a possible duplicate
// if the ack itself fails after a successful publish.
func WithPublishBeforeAck() HandleOption {
	return func(h *Handle) {
		h.publishFirst = true
	}
}

// NewHandle wraps an envelope. acker must be the channel that delivered it.
func NewHandle(env Envelope, acker amqp.Acknowledger, queue Queue, codec *Codec, opts ...HandleOption) *Handle {
	h := &Handle{
		env:    env,
		acker:  acker,
		queue:  queue,
		codec:  codec,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		state:  StateDelivered,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Body returns the raw message body exactly as delivered
func (h *Handle) Body() []byte {
	return h.env.Body
}

// ID returns the message id, or ErrMissingIdentity when the message had none
func (h *Handle) ID() (string, error) {
	if h.env.MessageID == "" {
		return "", ErrMissingIdentity
	}
	return h.env.MessageID, nil
}

// Queue returns the queue the message was consumed from
func (h *Handle) Queue() string {
	return h.env.Queue
}

// DeliveryTag returns the broker delivery tag
func (h *Handle) DeliveryTag() uint64 {
	return h.env.DeliveryTag
}

// Redelivered reports whether the broker flagged the delivery as redelivered
func (h *Handle) Redelivered() bool {
	return h.env.Redelivered
}

// State returns the current lifecycle state
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Attempts returns the attempt counter embedded in the command
func (h *Handle) Attempts() (uint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	desc, err := h.decode()
	if err != nil {
		return 0, err
	}
	return desc.Attempts(), nil
}

// Command returns the decoded command
func (h *Handle) Command() (Command, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	desc, err := h.decode()
	if err != nil {
		return nil, err
	}
	return desc.Command, nil
}

// MaxTries returns the retry limit written into the payload, if any
func (h *Handle) MaxTries() (uint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	desc, err := h.decode()
	if err != nil || desc.Payload.MaxTries == nil {
		return 0, false
	}
	return *desc.Payload.MaxTries, true
}

// Delete acknowledges the delivery, removing the message from the broker
func (h *Handle) Delete() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.ack(StateAcknowledged)
}

// Release acknowledges the delivery and publishes the command again with
// its attempt counter incremented, delayed when delay is positive.
//
// By default the ack happens first: if the body cannot be decoded after the
// ack, the job is gone from the broker and a DecodeError is returned.
func (h *Handle) Release(ctx context.Context, delay time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateDelivered {
		return fmt.Errorf("%w: delivery %d is %s", ErrProtocol, h.env.DeliveryTag, h.state)
	}

	if delay < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDelay, delay)
	}

	if h.publishFirst {
		return h.releasePublishFirst(ctx, delay)
	}

	if err := h.ack(StateReleased); err != nil {
		return err
	}

	desc, err := h.codec.Decode(h.env.Body)
	if err != nil {
		h.logger.Error("Released job could not be decoded, message is no longer queued",
			slog.String("queue", h.env.Queue),
			slog.Uint64("delivery_tag", h.env.DeliveryTag),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to release delivery %d: %w", h.env.DeliveryTag, err)
	}

	return h.republish(ctx, delay, desc.Command)
}

func (h *Handle) releasePublishFirst(ctx context.Context, delay time.Duration) error {
	desc, err := h.codec.Decode(h.env.Body)
	if err != nil {
		return fmt.Errorf("failed to release delivery %d: %w", h.env.DeliveryTag, err)
	}

	if err := h.republish(ctx, delay, desc.Command); err != nil {
		return err
	}

	return h.ack(StateReleased)
}

func (h *Handle) republish(ctx context.Context, delay time.Duration, cmd Command) error {
	cmd.SetAttempts(cmd.Attempts() + 1)

	var err error
	if delay > 0 {
		err = h.queue.PublishLater(ctx, delay, cmd, h.env.Queue)
	} else {
		err = h.queue.Publish(ctx, cmd, h.env.Queue)
	}
	if err != nil {
		return fmt.Errorf("failed to republish released job: %w", err)
	}

	h.logger.Debug("Job released",
		slog.String("queue", h.env.Queue),
		slog.String("command", cmd.CommandName()),
		slog.Uint64("attempts", uint64(cmd.Attempts())),
		slog.Duration("delay", delay),
	)

	return nil
}

// Requeue hands the delivery back to the broker unchanged, without touching
// the attempt counter. It settles the delivery tag like Delete does.
func (h *Handle) Requeue() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateDelivered {
		return fmt.Errorf("%w: delivery %d is %s", ErrProtocol, h.env.DeliveryTag, h.state)
	}
	h.state = StateRequeued

	if err := h.acker.Nack(h.env.DeliveryTag, false, true); err != nil {
		return fmt.Errorf("%w: requeue delivery %d: %w", ErrAckFailed, h.env.DeliveryTag, err)
	}

	h.logger.Debug("Delivery requeued",
		slog.String("queue", h.env.Queue),
		slog.Uint64("delivery_tag", h.env.DeliveryTag),
	)

	return nil
}

// ack consumes the delivery tag. The state moves to next before the broker
// call so a failed ack is never retried on the same tag.
func (h *Handle) ack(next State) error {
	if h.state != StateDelivered {
		return fmt.Errorf("%w: delivery %d is %s", ErrProtocol, h.env.DeliveryTag, h.state)
	}
	h.state = next

	if err := h.acker.Ack(h.env.DeliveryTag, false); err != nil {
		return fmt.Errorf("%w: delivery %d: %w", ErrAckFailed, h.env.DeliveryTag, err)
	}

	h.logger.Debug("Delivery acknowledged",
		slog.String("queue", h.env.Queue),
		slog.Uint64("delivery_tag", h.env.DeliveryTag),
		slog.String("state", next.String()),
	)

	return nil
}

func (h *Handle) decode() (*Descriptor, error) {
	if h.descriptor == nil && h.decodeErr == nil {
		h.descriptor, h.decodeErr = h.codec.Decode(h.env.Body)
	}
	return h.descriptor, h.decodeErr
}
