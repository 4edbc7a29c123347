package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockBatches struct {
	FailStaleBatchesFunc func(ctx context.Context, cutoff time.Time, reason string, now time.Time) (int64, error)
}

func (m *mockBatches) FailStaleBatches(ctx context.Context, cutoff time.Time, reason string, now time.Time) (int64, error) {
	return m.FailStaleBatchesFunc(ctx, cutoff, reason, now)
}

type mockInvoices struct {
	FailStaleInvoicesFunc func(ctx context.Context, cutoff, now time.Time) (int64, error)
}

func (m *mockInvoices) FailStaleInvoices(ctx context.Context, cutoff, now time.Time) (int64, error) {
	return m.FailStaleInvoicesFunc(ctx, cutoff, now)
}

type mockLocker struct {
	ObtainFunc func(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

func (m *mockLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	return m.ObtainFunc(ctx, key, ttl)
}

func TestRunOnce(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var gotCutoff, gotInvoiceCutoff time.Time
	var gotReason string
	batches := &mockBatches{FailStaleBatchesFunc: func(ctx context.Context, cutoff time.Time, reason string, n time.Time) (int64, error) {
		gotCutoff, gotReason = cutoff, reason
		return 2, nil
	}}
	invoices := &mockInvoices{FailStaleInvoicesFunc: func(ctx context.Context, cutoff, n time.Time) (int64, error) {
		gotInvoiceCutoff = cutoff
		return 1, nil
	}}

	s := New(batches, invoices, nil, 30*time.Minute, zerolog.Nop())
	s.now = func() time.Time { return now }

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if res.Batches != 2 || res.Invoices != 1 || res.Skipped {
		t.Errorf("RunOnce() = %+v", res)
	}
	want := now.Add(-30 * time.Minute)
	if !gotCutoff.Equal(want) || !gotInvoiceCutoff.Equal(want) {
		t.Errorf("cutoff = %s / %s, want %s", gotCutoff, gotInvoiceCutoff, want)
	}
	if gotReason != "processing abandoned: no completion after 30m0s" {
		t.Errorf("reason = %q", gotReason)
	}
}

func TestRunOnceLocking(t *testing.T) {
	noBatches := &mockBatches{FailStaleBatchesFunc: func(context.Context, time.Time, string, time.Time) (int64, error) { return 0, nil }}
	noInvoices := &mockInvoices{FailStaleInvoicesFunc: func(context.Context, time.Time, time.Time) (int64, error) { return 0, nil }}

	tests := []struct {
		name        string
		obtainErr   error
		wantSkipped bool
		wantErr     bool
		wantRelease bool
	}{
		{name: "obtained", wantRelease: true},
		{name: "held elsewhere", obtainErr: ErrLockHeld, wantSkipped: true},
		{name: "redis down", obtainErr: errors.New("connection refused"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			released := false
			var gotKey string
			var gotTTL time.Duration
			locker := &mockLocker{ObtainFunc: func(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
				gotKey, gotTTL = key, ttl
				if tt.obtainErr != nil {
					return nil, tt.obtainErr
				}
				return func(context.Context) error { released = true; return nil }, nil
			}}

			s := New(noBatches, noInvoices, locker, 10*time.Minute, zerolog.Nop())
			res, err := s.RunOnce(context.Background())

			if (err != nil) != tt.wantErr {
				t.Fatalf("RunOnce() error = %v, wantErr %v", err, tt.wantErr)
			}
			if res.Skipped != tt.wantSkipped {
				t.Errorf("Skipped = %v, want %v", res.Skipped, tt.wantSkipped)
			}
			if released != tt.wantRelease {
				t.Errorf("released = %v, want %v", released, tt.wantRelease)
			}
			if gotKey != LockKey || gotTTL != 10*time.Minute {
				t.Errorf("Obtain(%q, %s)", gotKey, gotTTL)
			}
		})
	}
}

func TestRunOnceBatchError(t *testing.T) {
	invoicesCalled := false
	s := New(
		&mockBatches{FailStaleBatchesFunc: func(context.Context, time.Time, string, time.Time) (int64, error) {
			return 0, errors.New("db down")
		}},
		&mockInvoices{FailStaleInvoicesFunc: func(context.Context, time.Time, time.Time) (int64, error) {
			invoicesCalled = true
			return 0, nil
		}},
		nil, time.Minute, zerolog.Nop(),
	)

	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() should fail")
	}
	if invoicesCalled {
		t.Error("invoices swept after batch failure")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(nil, nil, nil, time.Minute, zerolog.Nop())
	if err := s.Start("not a schedule"); err == nil {
		t.Fatal("Start() should reject an invalid schedule")
	}

	if err := s.Start("@every 1h"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start("@every 1h"); err == nil {
		t.Error("second Start() should fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
}

func TestConnectRedisUnreachable(t *testing.T) {
	if _, err := ConnectRedis(context.Background(), "127.0.0.1:1", 0); err == nil {
		t.Fatal("ConnectRedis() to a closed port should fail")
	}
}
