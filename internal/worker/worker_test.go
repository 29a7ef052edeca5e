package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/amqp-jobs/internal/job"
	"github.com/cuongbtq/amqp-jobs/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resizeImage struct {
	job.BaseCommand
	job.Limits
	Path string `json:"path"`
}

func (c *resizeImage) CommandName() string { return "image.resize" }

type orphanCommand struct {
	job.BaseCommand
}

func (c *orphanCommand) CommandName() string { return "image.orphan" }

type fakeAcker struct {
	mu     sync.Mutex
	acks   []uint64
	nacks  []uint64
	ackErr error
}

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return a.ackErr
}

func (a *fakeAcker) Nack(tag uint64, _ bool, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, tag)
	return nil
}

func (a *fakeAcker) Reject(tag uint64, _ bool) error {
	return a.Nack(tag, false, false)
}

func (a *fakeAcker) ackCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acks)
}

type publishCall struct {
	delay    time.Duration
	queue    string
	attempts uint
	command  job.Command
}

type fakeQueue struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (q *fakeQueue) Publish(ctx context.Context, cmd job.Command, queue string) error {
	return q.PublishLater(ctx, 0, cmd, queue)
}

func (q *fakeQueue) PublishLater(_ context.Context, delay time.Duration, cmd job.Command, queue string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return q.err
	}
	q.calls = append(q.calls, publishCall{delay: delay, queue: queue, attempts: cmd.Attempts(), command: cmd})
	return nil
}

type fakeFailures struct {
	mu     sync.Mutex
	failed []*domain.FailedJob
	err    error
}

func (f *fakeFailures) RecordFailure(_ context.Context, job *domain.FailedJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.failed = append(f.failed, job)
	return nil
}

type testEnv struct {
	worker   *Worker
	codec    *job.Codec
	acker    *fakeAcker
	queue    *fakeQueue
	failures *fakeFailures
}

func newTestEnv(t *testing.T, handler HandlerFunc, cfg Config) *testEnv {
	t.Helper()

	codec := job.NewCodec()
	codec.MustRegister(
		func() job.Command { return &resizeImage{} },
		func() job.Command { return &orphanCommand{} },
	)

	registry := NewRegistry()
	require.NoError(t, registry.Register("image.resize", handler))

	env := &testEnv{
		codec:    codec,
		acker:    &fakeAcker{},
		queue:    &fakeQueue{},
		failures: &fakeFailures{},
	}

	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Queue = env.queue
	cfg.Codec = codec
	cfg.Registry = registry
	cfg.Failures = env.failures
	if cfg.QueueName == "" {
		cfg.QueueName = "images"
	}

	env.worker = NewWorker(&cfg)
	env.worker.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	return env
}

func (e *testEnv) encode(t *testing.T, cmd job.Command) []byte {
	t.Helper()

	body, _, err := e.codec.Encode(cmd)
	require.NoError(t, err)
	return body
}

func (e *testEnv) handle(body []byte) *job.Handle {
	return job.NewHandle(
		job.Envelope{Body: body, DeliveryTag: 7, MessageID: "msg-7", Queue: "images"},
		e.acker,
		e.queue,
		e.codec,
		e.worker.handleOpts...,
	)
}

func (e *testEnv) run(t *testing.T, body []byte) *job.Handle {
	t.Helper()

	h := e.handle(body)
	e.worker.handleJob(context.Background(), e.worker.logger, h)
	return h
}

func succeed(context.Context, job.Command) error { return nil }

func failWith(err error) HandlerFunc {
	return func(context.Context, job.Command) error { return err }
}

func withAttempts(cmd *resizeImage, n uint) *resizeImage {
	cmd.SetAttempts(n)
	return cmd
}

func TestWorker_HandleJob_Success(t *testing.T) {
	var got *resizeImage
	env := newTestEnv(t, func(_ context.Context, cmd job.Command) error {
		got = cmd.(*resizeImage)
		return nil
	}, Config{})

	h := env.run(t, env.encode(t, &resizeImage{Path: "/tmp/a.png"}))

	require.NotNil(t, got)
	assert.Equal(t, "/tmp/a.png", got.Path)
	assert.Equal(t, job.StateAcknowledged, h.State())
	assert.Equal(t, []uint64{7}, env.acker.acks)
	assert.Empty(t, env.queue.calls)
	assert.Empty(t, env.failures.failed)
}

func TestWorker_HandleJob_Failures(t *testing.T) {
	transient := errors.New("storage unavailable")

	tests := []struct {
		name          string
		handler       HandlerFunc
		cfg           Config
		cmd           job.Command
		body          []byte
		wantState     job.State
		wantPublishes []publishCall
		wantReason    string
		wantAttempts  uint
	}{
		{
			name:      "transient failure is released immediately",
			handler:   failWith(transient),
			cfg:       Config{MaxTries: 3},
			cmd:       &resizeImage{Path: "a"},
			wantState: job.StateReleased,
			wantPublishes: []publishCall{
				{delay: 0, queue: "images", attempts: 1},
			},
		},
		{
			name:      "transient failure is released with backoff",
			handler:   failWith(transient),
			cfg:       Config{MaxTries: 5, Backoff: Backoff{Base: time.Second, Max: time.Minute}},
			cmd:       withAttempts(&resizeImage{Path: "a"}, 2),
			wantState: job.StateReleased,
			wantPublishes: []publishCall{
				{delay: 4 * time.Second, queue: "images", attempts: 3},
			},
		},
		{
			name:         "exhausted tries are recorded",
			handler:      failWith(transient),
			cfg:          Config{MaxTries: 3},
			cmd:          withAttempts(&resizeImage{Path: "a"}, 2),
			wantState:    job.StateAcknowledged,
			wantReason:   domain.ReasonMaxTries,
			wantAttempts: 3,
		},
		{
			name:    "payload max tries overrides the default",
			handler: failWith(transient),
			cfg:     Config{MaxTries: 10},
			cmd: func() job.Command {
				cmd := &resizeImage{Path: "a"}
				cmd.SetMaxTries(1)
				return cmd
			}(),
			wantState:    job.StateAcknowledged,
			wantReason:   domain.ReasonMaxTries,
			wantAttempts: 1,
		},
		{
			name:         "permanent error is recorded without retry",
			handler:      failWith(domain.NewPermanentError(transient)),
			cfg:          Config{MaxTries: 3},
			cmd:          &resizeImage{Path: "a"},
			wantState:    job.StateAcknowledged,
			wantReason:   domain.ReasonPermanent,
			wantAttempts: 1,
		},
		{
			name:         "command without handler is recorded",
			handler:      succeed,
			cfg:          Config{MaxTries: 3},
			cmd:          &orphanCommand{},
			wantState:    job.StateAcknowledged,
			wantReason:   domain.ReasonPermanent,
			wantAttempts: 1,
		},
		{
			name:         "undecodable body is recorded",
			handler:      succeed,
			cfg:          Config{MaxTries: 3},
			body:         []byte(`{"data":{"command":"{\"type\":\"gone.job\"}"}}`),
			wantState:    job.StateAcknowledged,
			wantReason:   domain.ReasonUndecodable,
			wantAttempts: 0,
		},
		{
			name:         "publish before ack keeps the same outcome",
			handler:      failWith(transient),
			cfg:          Config{MaxTries: 3, PublishBeforeAck: true},
			cmd:          &resizeImage{Path: "a"},
			wantState:    job.StateReleased,
			wantPublishes: []publishCall{
				{delay: 0, queue: "images", attempts: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.handler, tt.cfg)

			body := tt.body
			if body == nil {
				body = env.encode(t, tt.cmd)
			}

			h := env.run(t, body)

			assert.Equal(t, tt.wantState, h.State())
			assert.Equal(t, []uint64{7}, env.acker.acks)

			require.Len(t, env.queue.calls, len(tt.wantPublishes))
			for i, want := range tt.wantPublishes {
				got := env.queue.calls[i]
				assert.Equal(t, want.delay, got.delay)
				assert.Equal(t, want.queue, got.queue)
				assert.Equal(t, want.attempts, got.attempts)
			}

			if tt.wantReason == "" {
				assert.Empty(t, env.failures.failed)
				return
			}

			require.Len(t, env.failures.failed, 1)
			failed := env.failures.failed[0]
			assert.Equal(t, tt.wantReason, failed.Reason)
			assert.Equal(t, tt.wantAttempts, failed.Attempts)
			assert.Equal(t, "images", failed.Queue)
			assert.Equal(t, "msg-7", failed.MessageID)
			assert.Equal(t, body, failed.Payload)
			assert.NotEmpty(t, failed.ID)
			assert.NotEmpty(t, failed.Exception)
			assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), failed.FailedAt)
		})
	}
}

func TestWorker_HandleJob_RecordFailureReleasesInstead(t *testing.T) {
	env := newTestEnv(t, failWith(errors.New("boom")), Config{MaxTries: 1})
	env.failures.err = errors.New("database down")

	h := env.run(t, env.encode(t, &resizeImage{Path: "a"}))

	assert.Equal(t, job.StateReleased, h.State())
	require.Len(t, env.queue.calls, 1)
	assert.Equal(t, uint(1), env.queue.calls[0].attempts)
}

func TestWorker_HandleJob_LostReleaseIsRecorded(t *testing.T) {
	env := newTestEnv(t, failWith(errors.New("boom")), Config{MaxTries: 3})
	env.queue.err = errors.New("channel closed")

	h := env.run(t, env.encode(t, &resizeImage{Path: "a"}))

	assert.Equal(t, job.StateReleased, h.State())
	require.Len(t, env.failures.failed, 1)
	assert.Equal(t, domain.ReasonReleaseLost, env.failures.failed[0].Reason)
	assert.Contains(t, env.failures.failed[0].Exception, "channel closed")
}

func TestWorker_HandleJob_PublishBeforeAckRequeuesOnPublishFailure(t *testing.T) {
	env := newTestEnv(t, failWith(errors.New("boom")), Config{MaxTries: 3, PublishBeforeAck: true})
	env.queue.err = errors.New("channel closed")

	h := env.run(t, env.encode(t, &resizeImage{Path: "a"}))

	assert.Equal(t, job.StateRequeued, h.State())
	assert.Empty(t, env.acker.acks)
	assert.Equal(t, []uint64{7}, env.acker.nacks)
	assert.Empty(t, env.failures.failed)
}

func TestWorker_HandleJob_AckFailureIsNotRecordedAsLost(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "ack first", cfg: Config{MaxTries: 3}},
		{name: "publish before ack", cfg: Config{MaxTries: 3, PublishBeforeAck: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, failWith(errors.New("boom")), tt.cfg)
			env.acker.ackErr = errors.New("channel closed")

			h := env.run(t, env.encode(t, &resizeImage{Path: "a"}))

			assert.Equal(t, job.StateReleased, h.State())
			assert.Equal(t, []uint64{7}, env.acker.acks)
			assert.Empty(t, env.acker.nacks)
			assert.Empty(t, env.failures.failed)
		})
	}
}

func TestWorker_ProcessJob_Timeout(t *testing.T) {
	env := newTestEnv(t, func(ctx context.Context, _ job.Command) error {
		<-ctx.Done()
		return ctx.Err()
	}, Config{JobTimeout: 10 * time.Millisecond})

	err := env.worker.processJob(context.Background(), env.handle(env.encode(t, &resizeImage{})))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, isPermanent(err))
}

func TestWorker_ProcessJob_Panic(t *testing.T) {
	env := newTestEnv(t, func(context.Context, job.Command) error {
		panic("nil map")
	}, Config{})

	err := env.worker.processJob(context.Background(), env.handle(env.encode(t, &resizeImage{})))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked: nil map")
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
	prefetch   int
	queue      string
	qosErr     error
}

func (c *fakeConsumer) Qos(prefetchCount int) error {
	c.prefetch = prefetchCount
	return c.qosErr
}

func (c *fakeConsumer) Consume(queue, _ string) (<-chan amqp.Delivery, error) {
	c.queue = queue
	return c.deliveries, nil
}

func TestWorker_Start(t *testing.T) {
	var mu sync.Mutex
	var paths []string

	consumer := &fakeConsumer{deliveries: make(chan amqp.Delivery, 3)}
	env := newTestEnv(t, func(_ context.Context, cmd job.Command) error {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, cmd.(*resizeImage).Path)
		return nil
	}, Config{Concurrency: 2, PrefetchCount: 5, QueueName: "images"})
	env.worker.consumer = consumer

	for i, path := range []string{"a", "b", "c"} {
		consumer.deliveries <- amqp.Delivery{
			Acknowledger: env.acker,
			DeliveryTag:  uint64(i + 1),
			MessageId:    path,
			Body:         env.encode(t, &resizeImage{Path: path}),
		}
	}
	close(consumer.deliveries)

	require.NoError(t, env.worker.Start(context.Background()))
	require.NoError(t, env.worker.Stop(time.Second))

	assert.Equal(t, 5, consumer.prefetch)
	assert.Equal(t, "images", consumer.queue)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, paths)
	assert.Equal(t, 3, env.acker.ackCount())
}

func TestWorker_Start_ConsumerErrors(t *testing.T) {
	env := newTestEnv(t, succeed, Config{})
	env.worker.consumer = &fakeConsumer{qosErr: errors.New("channel closed")}

	err := env.worker.Start(context.Background())
	assert.Error(t, err)

	env.worker.consumer = nil
	err = env.worker.Start(context.Background())
	assert.ErrorContains(t, err, "consumer is nil")
}

func TestWorker_DispatcherRequeuesOnShutdown(t *testing.T) {
	env := newTestEnv(t, succeed, Config{})
	acker := &fakeAcker{}

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 9}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// no pool is running, so the handoff can only end through cancellation
	done := make(chan struct{})
	go func() {
		env.worker.startMessageDispatcher(ctx, deliveries)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}

	acker.mu.Lock()
	defer acker.mu.Unlock()
	assert.LessOrEqual(t, len(acker.nacks), 1)
	assert.Empty(t, acker.acks)
}
