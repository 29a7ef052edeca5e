package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultDelayedKey   = "jobs:delayed"
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
)

// delayedMessage is the sorted-set member stored for each scheduled message
type delayedMessage struct {
	Queue       string `json:"queue"`
	MessageID   string `json:"message_id"`
	ContentType string `json:"content_type"`
	Attempts    int64  `json:"attempts"`
	Body        []byte `json:"body"`
	DueAt       int64  `json:"due_at"`
}

// RedisDelayerOptions configures a RedisDelayer
type RedisDelayerOptions struct {
	Key          string
	Exchange     string
	PollInterval time.Duration
	BatchSize    int64
	Logger       *slog.Logger
}

// RedisDelayer keeps delayed messages in a Redis sorted set scored by due
// time. Run moves due messages to RabbitMQ.
//
// A member is removed with ZREM before it is published, so only one
// scheduler instance publishes it; a failed publish puts it back.
type RedisDelayer struct {
	rdb          goredis.Cmdable
	publisher    Publisher
	key          string
	exchange     string
	pollInterval time.Duration
	batchSize    int64
	logger       *slog.Logger
	now          func() time.Time
}

// NewRedisDelayer creates a delayer storing messages in rdb
func NewRedisDelayer(rdb goredis.Cmdable, publisher Publisher, opts *RedisDelayerOptions) *RedisDelayer {
	if opts == nil {
		opts = &RedisDelayerOptions{}
	}

	d := &RedisDelayer{
		rdb:          rdb,
		publisher:    publisher,
		key:          opts.Key,
		exchange:     opts.Exchange,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		logger:       opts.Logger,
		now:          time.Now,
	}

	if d.key == "" {
		d.key = defaultDelayedKey
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultPollInterval
	}
	if d.batchSize <= 0 {
		d.batchSize = defaultBatchSize
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return d
}

// Schedule stores msg until delay has passed
func (d *RedisDelayer) Schedule(ctx context.Context, delay time.Duration, queue string, msg amqp.Publishing) error {
	due := d.now().Add(delay).UnixMilli()

	attempts, _ := msg.Headers[attemptsHeader].(int64)
	member, err := json.Marshal(delayedMessage{
		Queue:       queue,
		MessageID:   msg.MessageId,
		ContentType: msg.ContentType,
		Attempts:    attempts,
		Body:        msg.Body,
		DueAt:       due,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal delayed message: %w", err)
	}

	if err := d.rdb.ZAdd(ctx, d.key, goredis.Z{Score: float64(due), Member: string(member)}).Err(); err != nil {
		return fmt.Errorf("failed to store delayed message: %w", err)
	}

	return nil
}

// Run promotes due messages every poll interval until ctx is canceled
func (d *RedisDelayer) Run(ctx context.Context) error {
	d.logger.Info("Delayed job scheduler started",
		slog.String("key", d.key),
		slog.Duration("poll_interval", d.pollInterval),
	)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Delayed job scheduler stopped")
			return nil

		case <-ticker.C:
			if _, err := d.PromoteDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("Failed to promote delayed jobs",
					slog.Any("error", err),
				)
			}
		}
	}
}

// PromoteDue publishes up to one batch of due messages and returns how many
// were published
func (d *RedisDelayer) PromoteDue(ctx context.Context) (int, error) {
	now := d.now().UnixMilli()

	members, err := d.rdb.ZRangeByScore(ctx, d.key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: d.batchSize,
	}).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return 0, fmt.Errorf("failed to read due messages: %w", err)
	}

	promoted := 0
	for _, member := range members {
		removed, err := d.rdb.ZRem(ctx, d.key, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to claim delayed message: %w", err)
		}
		if removed == 0 {
			// claimed by another scheduler
			continue
		}

		var dm delayedMessage
		if err := json.Unmarshal([]byte(member), &dm); err != nil {
			d.logger.Error("Dropping malformed delayed message",
				slog.String("key", d.key),
				slog.Any("error", err),
			)
			continue
		}

		if err := d.publish(ctx, &dm); err != nil {
			d.logger.Error("Failed to publish delayed message, rescheduling",
				slog.String("queue", dm.Queue),
				slog.String("message_id", dm.MessageID),
				slog.Any("error", err),
			)
			if addErr := d.rdb.ZAdd(ctx, d.key, goredis.Z{Score: float64(dm.DueAt), Member: member}).Err(); addErr != nil {
				return promoted, fmt.Errorf("failed to reschedule delayed message %s: %w", dm.MessageID, addErr)
			}
			continue
		}

		promoted++
		d.logger.Debug("Delayed job promoted",
			slog.String("queue", dm.Queue),
			slog.String("message_id", dm.MessageID),
		)
	}

	return promoted, nil
}

// Pending returns the number of messages waiting in the sorted set
func (d *RedisDelayer) Pending(ctx context.Context) (int64, error) {
	return d.rdb.ZCard(ctx, d.key).Result()
}

func (d *RedisDelayer) publish(ctx context.Context, dm *delayedMessage) error {
	if err := d.publisher.DeclareQueue(dm.Queue, nil); err != nil {
		return err
	}

	msg := newPublishing(dm.Body, dm.MessageID, uint(dm.Attempts))
	if dm.ContentType != "" {
		msg.ContentType = dm.ContentType
	}

	return d.publisher.PublishMessage(ctx, d.exchange, dm.Queue, msg)
}
