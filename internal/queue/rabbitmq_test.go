package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/amqp-jobs/internal/job"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendEmail struct {
	job.BaseCommand
	To string `json:"to"`
}

func (c *sendEmail) CommandName() string { return "mail.send" }

type unknownCommand struct {
	job.BaseCommand
}

func (c *unknownCommand) CommandName() string { return "mail.unknown" }

type published struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type declared struct {
	name string
	args amqp.Table
}

type fakePublisher struct {
	mu         sync.Mutex
	published  []published
	declared   []declared
	publishErr error
	declareErr error
}

func (p *fakePublisher) PublishMessage(_ context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.publishErr != nil {
		return p.publishErr
	}
	p.published = append(p.published, published{exchange: exchange, routingKey: routingKey, msg: msg})
	return nil
}

func (p *fakePublisher) DeclareQueue(name string, args amqp.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.declareErr != nil {
		return p.declareErr
	}
	p.declared = append(p.declared, declared{name: name, args: args})
	return nil
}

func newTestCodec(t *testing.T) *job.Codec {
	t.Helper()

	codec := job.NewCodec()
	require.NoError(t, codec.Register(func() job.Command { return &sendEmail{} }))
	return codec
}

func decodeBody(t *testing.T, codec *job.Codec, body []byte) *sendEmail {
	t.Helper()

	desc, err := codec.Decode(body)
	require.NoError(t, err)

	cmd, ok := desc.Command.(*sendEmail)
	require.True(t, ok, "decoded command has type %T", desc.Command)
	return cmd
}

func TestRabbitQueue_Publish(t *testing.T) {
	codec := newTestCodec(t)
	pub := &fakePublisher{}
	q := NewRabbitQueue(pub, codec, &Options{Exchange: "jobs"})

	cmd := &sendEmail{To: "ops@example.com"}
	cmd.SetAttempts(2)

	require.NoError(t, q.Publish(context.Background(), cmd, "emails"))

	require.Len(t, pub.published, 1)
	got := pub.published[0]
	assert.Equal(t, "jobs", got.exchange)
	assert.Equal(t, "emails", got.routingKey)
	assert.Equal(t, contentTypeJSON, got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.NotEmpty(t, got.msg.MessageId)
	assert.Equal(t, int64(2), got.msg.Headers[attemptsHeader])

	var payload job.Payload
	require.NoError(t, json.Unmarshal(got.msg.Body, &payload))
	assert.Equal(t, got.msg.MessageId, payload.UUID)
	assert.Equal(t, "mail.send", payload.Data.CommandName)

	decoded := decodeBody(t, codec, got.msg.Body)
	assert.Equal(t, "ops@example.com", decoded.To)
	assert.Equal(t, uint(2), decoded.Attempts())

	require.Len(t, pub.declared, 1)
	assert.Equal(t, "emails", pub.declared[0].name)
	assert.Nil(t, pub.declared[0].args)
}

func TestRabbitQueue_Publish_Errors(t *testing.T) {
	brokerErr := errors.New("channel closed")

	tests := []struct {
		name      string
		cmd       job.Command
		publisher *fakePublisher
		wantIs    error
	}{
		{
			name:      "unregistered command",
			cmd:       &unknownCommand{},
			publisher: &fakePublisher{},
			wantIs:    job.ErrUnregisteredCommand,
		},
		{
			name:      "declare failure",
			cmd:       &sendEmail{},
			publisher: &fakePublisher{declareErr: brokerErr},
			wantIs:    brokerErr,
		},
		{
			name:      "publish failure",
			cmd:       &sendEmail{},
			publisher: &fakePublisher{publishErr: brokerErr},
			wantIs:    brokerErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewRabbitQueue(tt.publisher, newTestCodec(t), nil)

			err := q.Publish(context.Background(), tt.cmd, "emails")

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantIs)
			assert.Empty(t, tt.publisher.published)
		})
	}
}

func TestRabbitQueue_PublishLater_TTL(t *testing.T) {
	codec := newTestCodec(t)
	pub := &fakePublisher{}
	q := NewRabbitQueue(pub, codec, &Options{Exchange: "jobs"})

	cmd := &sendEmail{To: "ops@example.com"}
	cmd.SetAttempts(1)

	require.NoError(t, q.PublishLater(context.Background(), 30*time.Second, cmd, "emails"))

	require.Len(t, pub.declared, 2)
	assert.Equal(t, "emails", pub.declared[0].name)
	assert.Nil(t, pub.declared[0].args)

	holding := pub.declared[1]
	assert.Equal(t, "emails.delay.30000", holding.name)
	assert.Equal(t, amqp.Table{
		"x-message-ttl":             int64(30000),
		"x-dead-letter-exchange":    "jobs",
		"x-dead-letter-routing-key": "emails",
		"x-expires":                 int64(330000),
	}, holding.args)

	require.Len(t, pub.published, 1)
	got := pub.published[0]
	assert.Equal(t, "", got.exchange)
	assert.Equal(t, "emails.delay.30000", got.routingKey)
	assert.Equal(t, uint(1), decodeBody(t, codec, got.msg.Body).Attempts())
}

func TestTTLDelayer_Schedule_RedeclaresHoldingQueue(t *testing.T) {
	pub := &fakePublisher{}
	d := NewTTLDelayer(pub, "jobs", "")
	msg := amqp.Publishing{Body: []byte("{}")}

	require.NoError(t, d.Schedule(context.Background(), time.Minute, "emails", msg))
	require.NoError(t, d.Schedule(context.Background(), time.Minute, "emails", msg))

	require.Len(t, pub.declared, 2)
	for _, decl := range pub.declared {
		assert.Equal(t, "emails.delay.60000", decl.name)
		assert.Contains(t, decl.args, "x-expires")
	}
	require.Len(t, pub.published, 2)
}

func TestRabbitQueue_PublishLater_NoDelay(t *testing.T) {
	for _, delay := range []time.Duration{0, -time.Second} {
		pub := &fakePublisher{}
		q := NewRabbitQueue(pub, newTestCodec(t), &Options{Exchange: "jobs"})

		require.NoError(t, q.PublishLater(context.Background(), delay, &sendEmail{}, "emails"))

		require.Len(t, pub.published, 1)
		assert.Equal(t, "jobs", pub.published[0].exchange)
		assert.Equal(t, "emails", pub.published[0].routingKey)
	}
}

type recordingDelayer struct {
	delay time.Duration
	queue string
	msg   amqp.Publishing
	err   error
}

func (d *recordingDelayer) Schedule(_ context.Context, delay time.Duration, queue string, msg amqp.Publishing) error {
	d.delay = delay
	d.queue = queue
	d.msg = msg
	return d.err
}

func TestRabbitQueue_PublishLater_CustomDelayer(t *testing.T) {
	pub := &fakePublisher{}
	delayer := &recordingDelayer{}
	q := NewRabbitQueue(pub, newTestCodec(t), &Options{Delayer: delayer})

	require.NoError(t, q.PublishLater(context.Background(), time.Minute, &sendEmail{}, "emails"))

	assert.Equal(t, time.Minute, delayer.delay)
	assert.Equal(t, "emails", delayer.queue)
	assert.NotEmpty(t, delayer.msg.MessageId)
	assert.Empty(t, pub.published)

	delayer.err = errors.New("redis down")
	err := q.PublishLater(context.Background(), time.Minute, &sendEmail{}, "emails")
	assert.ErrorIs(t, err, delayer.err)
}

func TestTTLDelayer_QueueName(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		delay  time.Duration
		want   string
	}{
		{name: "whole seconds", delay: 5 * time.Second, want: "emails.delay.5000"},
		{name: "rounds up", delay: 1500 * time.Microsecond, want: "emails.delay.2"},
		{name: "prefixed", prefix: "retry", delay: time.Second, want: "retry.emails.delay.1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewTTLDelayer(&fakePublisher{}, "jobs", tt.prefix)
			assert.Equal(t, tt.want, d.QueueName("emails", tt.delay))
		})
	}
}
