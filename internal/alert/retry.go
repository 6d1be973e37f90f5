package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

const (
	// retryBaseDelay doubles per attempt: 5s, 10s, 20s.
	retryBaseDelay = 5 * time.Second

	// defaultRetryAttempts bounds redelivery attempts per task.
	defaultRetryAttempts = 3

	retryWorkers   = 4
	retryQueueSize = 256
)

// retryTask is one failed delivery scheduled for redelivery.
type retryTask struct {
	channel Channel
	alert   types.Alert
}

// retrier redelivers failed channel sends on a small worker pool. Each
// worker owns a task through its full backoff schedule, which bounds the
// number of concurrent redeliveries without a timer wheel.
type retrier struct {
	tasks       chan retryTask
	maxAttempts int
	metrics     *observe.Metrics
	log         *slog.Logger
	wg          sync.WaitGroup
}

func newRetrier(maxAttempts int, metrics *observe.Metrics) *retrier {
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryAttempts
	}
	return &retrier{
		tasks:       make(chan retryTask, retryQueueSize),
		maxAttempts: maxAttempts,
		metrics:     metrics,
		log:         slog.With("component", "alert_retrier"),
	}
}

// start launches the worker pool; workers exit when ctx is cancelled.
func (r *retrier) start(ctx context.Context) {
	for i := 0; i < retryWorkers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.work(ctx)
		}()
	}
}

// enqueue schedules a redelivery. A full queue drops the task; the original
// failure was already counted.
func (r *retrier) enqueue(channel Channel, a types.Alert) {
	select {
	case r.tasks <- retryTask{channel: channel, alert: a}:
	default:
		r.log.Warn("retry queue full, dropping redelivery",
			"channel", channel.Name(), "alert_id", a.AlertID)
	}
}

// wait blocks until all workers have exited.
func (r *retrier) wait() {
	r.wg.Wait()
}

func (r *retrier) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.tasks:
			r.redeliver(ctx, task)
		}
	}
}

// redeliver retries one task with exponential backoff until it succeeds,
// the attempts are exhausted, or ctx is cancelled.
func (r *retrier) redeliver(ctx context.Context, task retryTask) {
	delay := retryBaseDelay
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		ok, err := task.channel.Send(ctx, task.alert)
		if ok {
			r.log.Info("redelivery succeeded",
				"channel", task.channel.Name(), "alert_id", task.alert.AlertID, "attempt", attempt)
			return
		}
		if err != nil {
			r.log.Warn("redelivery error",
				"channel", task.channel.Name(), "alert_id", task.alert.AlertID, "error", err)
		}
		delay *= 2
	}
	r.metrics.RecordDeliveryFailure(ctx, task.channel.Name())
	r.log.Warn("redelivery exhausted",
		"channel", task.channel.Name(), "alert_id", task.alert.AlertID, "attempts", r.maxAttempts)
}
