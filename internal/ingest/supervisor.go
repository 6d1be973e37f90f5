package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Theesthan/VoxSentinel/internal/config"
	"github.com/Theesthan/VoxSentinel/internal/observe"
)

// StreamSpec identifies one monitored stream and how to reach it.
type StreamSpec struct {
	ID       string
	URL      string
	Protocol config.Protocol
}

// Runner executes the full per-stream pipeline (ingestion through NLP) for
// one session. It blocks until the stream ends or ctx is cancelled.
type Runner func(ctx context.Context, spec StreamSpec, sessionID string) error

// SessionHooks lets the caller persist session lifecycle transitions.
// Either hook may be nil.
type SessionHooks struct {
	// OnOpen is called before the runner starts. An error aborts the start.
	OnOpen func(ctx context.Context, spec StreamSpec, sessionID string) error

	// OnClose is called after the runner returns, with the close reason:
	// "ended", "stopped", or "error".
	OnClose func(ctx context.Context, sessionID, reason string)
}

// Supervisor owns the lifecycle of all running stream pipelines. Start and
// Stop are idempotent, and a reconciliation loop keeps the running set
// aligned with the control-plane API.
type Supervisor struct {
	runner  Runner
	hooks   SessionHooks
	metrics *observe.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	active map[string]*activeStream
}

// activeStream tracks one running pipeline goroutine.
type activeStream struct {
	spec      StreamSpec
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSupervisor creates a supervisor that starts pipelines via runner.
func NewSupervisor(runner Runner, hooks SessionHooks, metrics *observe.Metrics) *Supervisor {
	return &Supervisor{
		runner:  runner,
		hooks:   hooks,
		metrics: metrics,
		log:     slog.With("component", "supervisor"),
		active:  make(map[string]*activeStream),
	}
}

// Start launches a pipeline for spec. Starting an already-running stream is
// a no-op. ctx scopes the whole supervisor, not the individual call; the
// pipeline keeps running after Start returns.
func (s *Supervisor) Start(ctx context.Context, spec StreamSpec) error {
	s.mu.Lock()
	if _, running := s.active[spec.ID]; running {
		s.mu.Unlock()
		s.log.Debug("stream already running", "stream_id", spec.ID)
		return nil
	}

	sessionID := uuid.NewString()
	if s.hooks.OnOpen != nil {
		if err := s.hooks.OnOpen(ctx, spec, sessionID); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	as := &activeStream{
		spec:      spec,
		sessionID: sessionID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.active[spec.ID] = as
	s.mu.Unlock()

	s.metrics.ActiveStreams.Add(ctx, 1)
	s.log.Info("stream started",
		"stream_id", spec.ID,
		"session_id", sessionID,
		"protocol", spec.Protocol)

	go s.supervise(streamCtx, as)
	return nil
}

// supervise runs one pipeline to completion and cleans up its registration.
func (s *Supervisor) supervise(ctx context.Context, as *activeStream) {
	defer close(as.done)

	err := s.runner(ctx, as.spec, as.sessionID)

	reason := "ended"
	switch {
	case ctx.Err() != nil:
		reason = "stopped"
	case err != nil:
		reason = "error"
	}

	s.mu.Lock()
	// Only deregister if this session still owns the slot; a Stop/Start
	// cycle may already have replaced it.
	if cur, ok := s.active[as.spec.ID]; ok && cur == as {
		delete(s.active, as.spec.ID)
	}
	s.mu.Unlock()

	// The stream context is gone by now; use a fresh one for bookkeeping.
	bg := context.WithoutCancel(ctx)
	s.metrics.ActiveStreams.Add(bg, -1)
	if s.hooks.OnClose != nil {
		s.hooks.OnClose(bg, as.sessionID, reason)
	}

	if err != nil && ctx.Err() == nil {
		s.log.Error("stream pipeline failed",
			"stream_id", as.spec.ID,
			"session_id", as.sessionID,
			"error", err)
	} else {
		s.log.Info("stream finished",
			"stream_id", as.spec.ID,
			"session_id", as.sessionID,
			"reason", reason)
	}
}

// Stop cancels the pipeline for streamID and waits for it to wind down.
// Stopping an unknown stream is a no-op.
func (s *Supervisor) Stop(streamID string) {
	s.mu.Lock()
	as, ok := s.active[streamID]
	s.mu.Unlock()
	if !ok {
		return
	}

	as.cancel()
	<-as.done
}

// StopAll stops every running pipeline and waits for all of them.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	streams := make([]*activeStream, 0, len(s.active))
	for _, as := range s.active {
		streams = append(streams, as)
	}
	s.mu.Unlock()

	for _, as := range streams {
		as.cancel()
	}
	for _, as := range streams {
		<-as.done
	}
}

// Active returns the IDs of all currently running streams.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// SessionID returns the session currently serving streamID, or "" if the
// stream is not running.
func (s *Supervisor) SessionID(streamID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if as, ok := s.active[streamID]; ok {
		return as.sessionID
	}
	return ""
}

// Reconcile aligns the running set with desired: streams present in desired
// but not running are started, running streams absent from desired are
// stopped. Changes to a running stream's URL restart it.
func (s *Supervisor) Reconcile(ctx context.Context, desired []StreamSpec) {
	want := make(map[string]StreamSpec, len(desired))
	for _, spec := range desired {
		want[spec.ID] = spec
	}

	s.mu.Lock()
	var toStop []string
	var toRestart []StreamSpec
	for id, as := range s.active {
		spec, keep := want[id]
		switch {
		case !keep:
			toStop = append(toStop, id)
		case spec.URL != as.spec.URL || spec.Protocol != as.spec.Protocol:
			toRestart = append(toRestart, spec)
		}
	}
	s.mu.Unlock()

	for _, id := range toStop {
		s.log.Info("reconcile: stopping stream removed upstream", "stream_id", id)
		s.Stop(id)
	}
	for _, spec := range toRestart {
		s.log.Info("reconcile: restarting stream with changed source", "stream_id", spec.ID)
		s.Stop(spec.ID)
		if err := s.Start(ctx, spec); err != nil {
			s.log.Error("reconcile: restart failed", "stream_id", spec.ID, "error", err)
		}
	}
	for id, spec := range want {
		if s.SessionID(id) != "" {
			continue
		}
		if err := s.Start(ctx, spec); err != nil {
			s.log.Error("reconcile: start failed", "stream_id", id, "error", err)
		}
	}
}

// RunReconciler polls fetch at the given interval and reconciles the running
// set against the result until ctx is cancelled. Fetch errors are logged and
// skipped; the current set keeps running on a stale view.
func (s *Supervisor) RunReconciler(ctx context.Context, interval time.Duration, fetch func(ctx context.Context) ([]StreamSpec, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			desired, err := fetch(ctx)
			if err != nil {
				s.log.Warn("reconcile: fetching desired streams failed", "error", err)
				continue
			}
			s.Reconcile(ctx, desired)
		}
	}
}
