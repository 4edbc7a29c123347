// Package pubsub carries invoice jobs over Google Cloud Pub/Sub so the API
// and the worker can run as separate processes.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/dvloznov/expense-ingest/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// AckDeadline applies to subscriptions created by EnsureSubscription.
	AckDeadline = 20 * time.Second

	// DefaultMaxOutstanding bounds concurrent handler calls per consumer.
	DefaultMaxOutstanding = 5

	attrJobType = "job_type"
)

// EnsureTopic returns the named topic, creating it when it does not exist.
func EnsureTopic(ctx context.Context, c *pubsub.Client, topicID string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("EnsureTopic: pubsub client is nil")
	}
	if topicID == "" {
		return nil, errors.New("EnsureTopic: topic is required")
	}

	t := c.Topic(topicID)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("EnsureTopic: check topic %q: %w", topicID, err)
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("EnsureTopic: create topic %q: %w", topicID, err)
	}
	return t, nil
}

// EnsureSubscription returns the named subscription on topic, creating it
// when it does not exist.
func EnsureSubscription(ctx context.Context, c *pubsub.Client, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	if c == nil {
		return nil, errors.New("EnsureSubscription: pubsub client is nil")
	}
	if name == "" {
		return nil, errors.New("EnsureSubscription: subscription name is required")
	}
	if topic == nil {
		return nil, errors.New("EnsureSubscription: topic is required")
	}

	sub := c.Subscription(name)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("EnsureSubscription: check subscription %q: %w", name, err)
	}
	if ok {
		return sub, nil
	}
	sub, err = c.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: AckDeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("EnsureSubscription: create subscription %q: %w", name, err)
	}
	return sub, nil
}

// Publisher publishes jobs as JSON messages.
type Publisher struct {
	topic *pubsub.Topic
	store jobs.JobStore
	log   zerolog.Logger
}

// NewPublisher publishes to topic. store may be nil.
func NewPublisher(topic *pubsub.Topic, store jobs.JobStore, log zerolog.Logger) *Publisher {
	return &Publisher{
		topic: topic,
		store: store,
		log:   log.With().Str("component", "pubsub_publisher").Str("topic", topic.ID()).Logger(),
	}
}

// PublishProcessInvoice implements jobs.Publisher. It blocks until the
// server acknowledges the message.
func (p *Publisher) PublishProcessInvoice(ctx context.Context, job *jobs.ProcessInvoiceJob) error {
	job.Prepare(func() string { return uuid.New().String() }, time.Now())

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("PublishProcessInvoice: marshal job: %w", err)
	}

	if p.store != nil {
		if err := p.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishProcessInvoice: save job: %w", err)
		}
	}

	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{attrJobType: string(job.GetType())},
	})
	msgID, err := res.Get(ctx)
	if err != nil {
		if p.store != nil {
			_ = p.store.UpdateJobStatus(ctx, job.JobID, jobs.JobStatusFailed, err.Error())
		}
		return fmt.Errorf("PublishProcessInvoice: publish: %w", err)
	}

	p.log.Debug().
		Str("job_id", job.JobID).
		Str("invoice_id", job.InvoiceID).
		Str("message_id", msgID).
		Msg("job published")
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	p.topic.Stop()
	return nil
}

// Consumer receives jobs from a subscription. Messages are acked when the
// handler succeeds and nacked when it fails, so Pub/Sub redelivers them.
// Undecodable messages are acked and dropped.
type Consumer struct {
	sub   *pubsub.Subscription
	store jobs.JobStore
	log   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewConsumer consumes from sub with at most maxOutstanding concurrent
// handler calls. store may be nil.
func NewConsumer(sub *pubsub.Subscription, maxOutstanding int, store jobs.JobStore, log zerolog.Logger) *Consumer {
	if maxOutstanding <= 0 {
		maxOutstanding = DefaultMaxOutstanding
	}
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	return &Consumer{
		sub:   sub,
		store: store,
		log:   log.With().Str("component", "pubsub_consumer").Str("subscription", sub.ID()).Logger(),
	}
}

// Start implements jobs.Consumer. Receiving runs in the background until
// Stop is called or ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, handler jobs.JobHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return errors.New("Consumer.Start: already started")
	}

	rctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		err := c.sub.Receive(rctx, func(ctx context.Context, m *pubsub.Message) {
			c.handle(ctx, m, handler)
		})
		if err != nil {
			c.log.Error().Err(err).Msg("receive stopped")
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
		}
	}()
	return nil
}

func (c *Consumer) handle(ctx context.Context, m *pubsub.Message, handler jobs.JobHandler) {
	job, err := DecodeJob(m.Data)
	if err != nil {
		c.log.Error().Err(err).Str("message_id", m.ID).Msg("dropping undecodable message")
		m.Ack()
		return
	}
	if m.DeliveryAttempt != nil {
		job.RetryCount = *m.DeliveryAttempt - 1
	}

	log := c.log.With().Str("job_id", job.JobID).Str("invoice_id", job.InvoiceID).Logger()

	started := time.Now()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &started
	c.save(ctx, job)

	err = handler(ctx, job)

	completed := time.Now()
	job.CompletedAt = &completed
	if err != nil {
		job.Status = jobs.JobStatusRetrying
		job.Error = err.Error()
		c.save(ctx, job)
		log.Warn().Err(err).Msg("job failed, nacking")
		m.Nack()
		return
	}

	job.Status = jobs.JobStatusCompleted
	job.Error = ""
	c.save(ctx, job)
	log.Info().Dur("duration", completed.Sub(started)).Msg("job completed")
	m.Ack()
}

func (c *Consumer) save(ctx context.Context, job *jobs.ProcessInvoiceJob) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveJob(ctx, job); err != nil {
		c.log.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to save job state")
	}
}

// Stop implements jobs.Consumer. It waits for in-flight handlers or ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DecodeJob parses a message payload into a job.
func DecodeJob(data []byte) (*jobs.ProcessInvoiceJob, error) {
	var job jobs.ProcessInvoiceJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("DecodeJob: %w", err)
	}
	if job.JobID == "" || job.InvoiceID == "" {
		return nil, errors.New("DecodeJob: job_id and invoice_id are required")
	}
	return &job, nil
}

var _ jobs.Publisher = (*Publisher)(nil)
var _ jobs.Consumer = (*Consumer)(nil)
