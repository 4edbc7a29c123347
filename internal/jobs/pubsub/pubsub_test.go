package pubsub

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/dvloznov/expense-ingest/internal/jobs"
	"github.com/dvloznov/expense-ingest/internal/jobs/inmemory"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) *pubsub.Client {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v", err)
	}

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("pubsub.NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnsureTopicAndSubscriptionAreIdempotent(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	topic, err := EnsureTopic(ctx, client, "invoices")
	if err != nil {
		t.Fatalf("EnsureTopic() error = %v", err)
	}
	if _, err := EnsureTopic(ctx, client, "invoices"); err != nil {
		t.Fatalf("second EnsureTopic() error = %v", err)
	}

	sub, err := EnsureSubscription(ctx, client, "invoices-worker", topic)
	if err != nil {
		t.Fatalf("EnsureSubscription() error = %v", err)
	}
	cfg, err := sub.Config(ctx)
	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}
	if cfg.AckDeadline != AckDeadline {
		t.Errorf("AckDeadline = %s, want %s", cfg.AckDeadline, AckDeadline)
	}
	if _, err := EnsureSubscription(ctx, client, "invoices-worker", topic); err != nil {
		t.Fatalf("second EnsureSubscription() error = %v", err)
	}

	if _, err := EnsureTopic(ctx, client, ""); err == nil {
		t.Error("EnsureTopic(\"\") should fail")
	}
	if _, err := EnsureSubscription(ctx, client, "x", nil); err == nil {
		t.Error("EnsureSubscription(nil topic) should fail")
	}
}

func TestPublishAndConsume(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	topic, err := EnsureTopic(ctx, client, "invoices")
	if err != nil {
		t.Fatalf("EnsureTopic() error = %v", err)
	}
	sub, err := EnsureSubscription(ctx, client, "invoices-worker", topic)
	if err != nil {
		t.Fatalf("EnsureSubscription() error = %v", err)
	}

	store := inmemory.NewStore()
	pub := NewPublisher(topic, store, zerolog.Nop())
	defer pub.Close()

	consumer := NewConsumer(sub, 1, store, zerolog.Nop())

	var attempts int32
	got := make(chan *jobs.ProcessInvoiceJob, 1)
	err = consumer.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		// The first delivery fails so the message is nacked and redelivered.
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("temporary")
		}
		got <- job.(*jobs.ProcessInvoiceJob)
		return nil
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := consumer.Start(ctx, nil); err == nil {
		t.Error("second Start() should fail")
	}

	job := &jobs.ProcessInvoiceJob{InvoiceID: "inv-1", BatchID: "batch-1", StorageKey: "invoices/a.png", ContentType: "image/png"}
	if err := pub.PublishProcessInvoice(ctx, job); err != nil {
		t.Fatalf("PublishProcessInvoice() error = %v", err)
	}

	select {
	case received := <-got:
		if received.JobID != job.JobID || received.StorageKey != "invoices/a.png" || received.BatchID != "batch-1" {
			t.Errorf("received job = %+v", received)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("job was not redelivered after nack")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := consumer.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	saved, err := store.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if saved.Status != jobs.JobStatusCompleted {
		t.Errorf("stored status = %s, want completed", saved.Status)
	}
}

func TestDecodeJob(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid", `{"job_id":"j","invoice_id":"i","storage_key":"k"}`, false},
		{"missing invoice", `{"job_id":"j"}`, true},
		{"not json", `nope`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := DecodeJob([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJob() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && job.StorageKey != "k" {
				t.Errorf("StorageKey = %q", job.StorageKey)
			}
		})
	}
}
