package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/amqp-jobs/internal/job"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer sets QoS and starts a manual-ack consumer on the job queue
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if w.consumer == nil {
		return nil, fmt.Errorf("rabbitmq consumer is nil")
	}

	if err := w.consumer.Qos(w.prefetchCount); err != nil {
		return nil, err
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.consumer.Consume(w.queueName, w.consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.consumerTag),
		slog.String("queue", w.queueName),
	)

	return deliveries, nil
}

// startMessageDispatcher wraps each delivery in a job handle and hands it to the pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - worker stopping")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			h := job.NewHandle(
				job.EnvelopeFromDelivery(delivery, w.queueName),
				delivery.Acknowledger,
				w.queue,
				w.codec,
				w.handleOpts...,
			)

			select {
			case w.jobsChan <- h:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("message_id", delivery.MessageId),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.requeueOnShutdown(delivery)
				return
			case <-w.stopChan:
				w.requeueOnShutdown(delivery)
				return
			}
		}
	}
}

// requeueOnShutdown hands an undispatched delivery back to the broker
func (w *Worker) requeueOnShutdown(delivery amqp.Delivery) {
	w.logger.Info("Message dispatcher stopped while dispatching job",
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
	)

	if nackErr := delivery.Nack(false, true); nackErr != nil {
		w.logger.Error("Failed to NACK message on shutdown",
			slog.Any("error", nackErr),
		)
	}
}
