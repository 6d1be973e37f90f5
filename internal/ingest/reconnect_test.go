package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/Theesthan/VoxSentinel/internal/observe"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(metric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestReconnector_CleanEndNoRetry(t *testing.T) {
	t.Parallel()
	runs := 0
	r := NewReconnector(ReconnectorConfig{
		StreamID: "s1",
		Run: func(ctx context.Context) error {
			runs++
			return nil
		},
		Backoff: time.Millisecond,
		Metrics: testMetrics(t),
	})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
}

func TestReconnector_ExhaustsBudget(t *testing.T) {
	t.Parallel()
	runs := 0
	failed := false
	r := NewReconnector(ReconnectorConfig{
		StreamID: "s1",
		Run: func(ctx context.Context) error {
			runs++
			return errors.New("connection refused")
		},
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		OnFailure:   func(ctx context.Context) { failed = true },
		Metrics:     testMetrics(t),
	})

	err := r.Run(context.Background())
	if !errors.Is(err, ErrReconnectFailed) {
		t.Fatalf("Run = %v, want ErrReconnectFailed", err)
	}
	// Initial run plus 3 retries.
	if runs != 4 {
		t.Errorf("runs = %d, want 4", runs)
	}
	if !failed {
		t.Error("OnFailure was not called")
	}
}

func TestReconnector_RecoversMidBudget(t *testing.T) {
	t.Parallel()
	runs := 0
	r := NewReconnector(ReconnectorConfig{
		StreamID: "s1",
		Run: func(ctx context.Context) error {
			runs++
			if runs < 3 {
				return errors.New("flaky")
			}
			return nil
		},
		MaxAttempts: 5,
		Backoff:     time.Millisecond,
		Metrics:     testMetrics(t),
	})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runs != 3 {
		t.Errorf("runs = %d, want 3", runs)
	}
}

func TestReconnector_CancelledDuringBackoff(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	r := NewReconnector(ReconnectorConfig{
		StreamID: "s1",
		Run: func(ctx context.Context) error {
			cancel()
			return errors.New("down")
		},
		Backoff: time.Minute,
		Metrics: testMetrics(t),
	})

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
