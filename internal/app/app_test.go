package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/Theesthan/VoxSentinel/internal/asr"
	"github.com/Theesthan/VoxSentinel/internal/config"
	"github.com/Theesthan/VoxSentinel/internal/ingest"
	"github.com/Theesthan/VoxSentinel/internal/observe"
	asrmock "github.com/Theesthan/VoxSentinel/pkg/provider/asr/mock"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(metric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// fakeSessions records session lifecycle calls in memory.
type fakeSessions struct {
	mu        sync.Mutex
	streams   []types.Stream
	opened    []string
	closed    []string
	statuses  []string
	upsertErr error
	openErr   error
}

func (f *fakeSessions) UpsertStream(_ context.Context, st types.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.streams = append(f.streams, st)
	return nil
}

func (f *fakeSessions) UpdateStreamStatus(_ context.Context, streamID string, status types.StreamStatus, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, fmt.Sprintf("%s/%s/%s", streamID, status, sessionID))
	return nil
}

func (f *fakeSessions) OpenSession(_ context.Context, sessionID, streamID, asrBackend string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = append(f.opened, fmt.Sprintf("%s/%s/%s", sessionID, streamID, asrBackend))
	return nil
}

func (f *fakeSessions) CloseSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, sessionID)
	return nil
}

// fakeControl serves a canned stream list and records status updates.
type fakeControl struct {
	mu      sync.Mutex
	streams []types.Stream
	err     error
	updates []string
}

func (f *fakeControl) ListStreams(_ context.Context, status types.StreamStatus) ([]types.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]types.Stream(nil), f.streams...), nil
}

func (f *fakeControl) UpdateStreamStatus(_ context.Context, streamID string, status types.StreamStatus, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fmt.Sprintf("%s/%s/%s", streamID, status, sessionID))
	return nil
}

func testApp(sessions sessionStore, control controlPlane) *App {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			ASRPrimary:  config.ProviderEntry{Name: "deepgram"},
			ASRFallback: config.ProviderEntry{Name: "whisperhttp"},
		},
	}
	cfg.Pipeline.ApplyDefaults()
	return &App{
		cfg:            cfg,
		log:            slog.With("component", "app"),
		sessions:       sessions,
		control:        control,
		failovers:      make(map[string]*asr.Failover),
		sessionStreams: make(map[string]string),
	}
}

func TestProtocolForURL(t *testing.T) {
	cases := map[string]config.Protocol{
		"rtsp://cam.example/lobby":         config.ProtocolRTSP,
		"http://cdn.example/live.m3u8":     config.ProtocolHLS,
		"https://cdn.example/archive.m3u8": config.ProtocolHLS,
		"/var/audio/backfill.wav":          config.ProtocolFile,
		"recording.wav":                    config.ProtocolFile,
	}
	for url, want := range cases {
		if got := protocolForURL(url); got != want {
			t.Errorf("protocolForURL(%q): want %q, got %q", url, want, got)
		}
	}
}

func TestChannelConfigFromDB(t *testing.T) {
	got := channelConfigFromDB(types.AlertChannelConfig{
		ChannelID:   "ops-webhook",
		ChannelType: types.ChannelWebhook,
		Config:      map[string]any{"url": "https://ops.example/hook"},
		MinSeverity: types.SeverityHigh,
		AlertTypes:  []types.AlertType{types.AlertKeyword},
		StreamIDs:   []string{"lobby"},
		Enabled:     true,
	})

	if got.Name != "ops-webhook" || got.Type != "webhook" {
		t.Errorf("identity: got %q/%q", got.Name, got.Type)
	}
	if got.MinSeverity != "high" {
		t.Errorf("MinSeverity: got %q", got.MinSeverity)
	}
	if len(got.AlertTypes) != 1 || got.AlertTypes[0] != "keyword" {
		t.Errorf("AlertTypes: got %v", got.AlertTypes)
	}
	if len(got.StreamIDs) != 1 || got.StreamIDs[0] != "lobby" {
		t.Errorf("StreamIDs: got %v", got.StreamIDs)
	}
	if got.Options["url"] != "https://ops.example/hook" {
		t.Errorf("Options: got %v", got.Options)
	}
}

func TestOpenSession_RegistersStreamAndSession(t *testing.T) {
	sessions := &fakeSessions{}
	control := &fakeControl{}
	a := testApp(sessions, control)

	spec := ingest.StreamSpec{ID: "lobby", URL: "rtsp://cam/lobby", Protocol: config.ProtocolRTSP}
	if err := a.openSession(context.Background(), spec, "sess-1"); err != nil {
		t.Fatalf("openSession: %v", err)
	}

	if len(sessions.streams) != 1 {
		t.Fatalf("want 1 stream upsert, got %d", len(sessions.streams))
	}
	st := sessions.streams[0]
	if st.StreamID != "lobby" || st.Status != types.StreamActive || st.CurrentSessionID != "sess-1" {
		t.Errorf("stream upsert: got %+v", st)
	}
	if st.ASRPrimary != "deepgram" || st.ASRFallback != "whisperhttp" {
		t.Errorf("engine names: got %q/%q", st.ASRPrimary, st.ASRFallback)
	}
	if len(sessions.opened) != 1 || sessions.opened[0] != "sess-1/lobby/deepgram" {
		t.Errorf("opened sessions: got %v", sessions.opened)
	}
	if a.sessionStreams["sess-1"] != "lobby" {
		t.Error("session to stream mapping not recorded")
	}
	if len(control.updates) != 1 || control.updates[0] != "lobby/active/sess-1" {
		t.Errorf("control updates: got %v", control.updates)
	}
}

func TestOpenSession_StoreErrorAborts(t *testing.T) {
	sessions := &fakeSessions{upsertErr: errors.New("db down")}
	a := testApp(sessions, nil)

	spec := ingest.StreamSpec{ID: "lobby", URL: "rtsp://cam/lobby", Protocol: config.ProtocolRTSP}
	if err := a.openSession(context.Background(), spec, "sess-1"); err == nil {
		t.Fatal("expected error when the stream upsert fails")
	}
	if len(sessions.opened) != 0 {
		t.Error("session must not open after a failed upsert")
	}
}

func TestCloseSession_ReasonMapsStatus(t *testing.T) {
	for reason, want := range map[string]types.StreamStatus{
		"stopped": types.StreamStopped,
		"ended":   types.StreamStopped,
		"error":   types.StreamError,
	} {
		sessions := &fakeSessions{}
		control := &fakeControl{}
		a := testApp(sessions, control)
		a.sessionStreams["sess-1"] = "lobby"

		a.closeSession(context.Background(), "sess-1", reason)

		if len(sessions.closed) != 1 || sessions.closed[0] != "sess-1" {
			t.Errorf("%s: closed sessions: got %v", reason, sessions.closed)
		}
		wantStatus := fmt.Sprintf("lobby/%s/", want)
		if len(sessions.statuses) != 1 || sessions.statuses[0] != wantStatus {
			t.Errorf("%s: statuses: want %q, got %v", reason, wantStatus, sessions.statuses)
		}
		if len(control.updates) != 1 || control.updates[0] != wantStatus {
			t.Errorf("%s: control updates: got %v", reason, control.updates)
		}
		if _, ok := a.sessionStreams["sess-1"]; ok {
			t.Errorf("%s: session mapping must be removed", reason)
		}
	}
}

func TestCloseSession_UnknownSessionSkipsStreamUpdate(t *testing.T) {
	sessions := &fakeSessions{}
	a := testApp(sessions, nil)

	a.closeSession(context.Background(), "sess-x", "stopped")

	if len(sessions.closed) != 1 {
		t.Error("session row must still close")
	}
	if len(sessions.statuses) != 0 {
		t.Errorf("no stream to update, got %v", sessions.statuses)
	}
}

func TestFetchDesired_InfersProtocols(t *testing.T) {
	control := &fakeControl{streams: []types.Stream{
		{StreamID: "lobby", SourceURL: "rtsp://cam/lobby", Status: types.StreamActive},
		{StreamID: "radio", SourceURL: "https://cdn.example/radio.m3u8", Status: types.StreamActive},
	}}
	a := testApp(&fakeSessions{}, control)

	specs, err := a.fetchDesired(context.Background())
	if err != nil {
		t.Fatalf("fetchDesired: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("want 2 specs, got %d", len(specs))
	}
	if specs[0].Protocol != config.ProtocolRTSP || specs[1].Protocol != config.ProtocolHLS {
		t.Errorf("protocols: got %q and %q", specs[0].Protocol, specs[1].Protocol)
	}

	control.err = errors.New("api down")
	if _, err := a.fetchDesired(context.Background()); err == nil {
		t.Fatal("expected error from control plane")
	}
}

// stubGate reports a fixed degradation state.
type stubGate struct {
	degraded bool
}

func (s *stubGate) Degraded() bool { return s.degraded }

func TestDegradedReasons_ReportsOpenBreakers(t *testing.T) {
	a := testApp(&fakeSessions{}, nil)
	metrics := testMetrics(t)

	healthy := asr.NewFailover("lobby",
		&asrmock.Engine{}, nil, asr.FailoverConfig{}, metrics)
	a.registerStages("lobby", healthy, &stubGate{})
	if got := a.degradedReasons(); len(got) != 0 {
		t.Fatalf("closed breaker must not degrade: got %v", got)
	}

	failing := asr.NewFailover("dock",
		&asrmock.Engine{Errs: []error{errors.New("backend down")}},
		nil, asr.FailoverConfig{FailureThreshold: 1}, metrics)
	a.registerStages("dock", failing, &stubGate{})
	if _, err := failing.StreamAudio(context.Background(), []byte{0, 0}); err == nil {
		t.Fatal("expected scripted stream error")
	}

	got := a.degradedReasons()
	if len(got) != 1 || got[0] != "asr_failover:dock" {
		t.Errorf("degraded reasons: got %v", got)
	}

	a.unregisterStages("dock")
	if got := a.degradedReasons(); len(got) != 0 {
		t.Errorf("after unregister: got %v", got)
	}
}

func TestDegradedReasons_ReportsDegradedVADGate(t *testing.T) {
	a := testApp(&fakeSessions{}, nil)
	metrics := testMetrics(t)

	healthy := asr.NewFailover("mic",
		&asrmock.Engine{}, nil, asr.FailoverConfig{}, metrics)
	a.registerStages("mic", healthy, &stubGate{degraded: true})

	got := a.degradedReasons()
	if len(got) != 1 || got[0] != "vad:mic" {
		t.Errorf("degraded reasons: got %v, want [vad:mic]", got)
	}

	a.unregisterStages("mic")
	if got := a.degradedReasons(); len(got) != 0 {
		t.Errorf("after unregister: got %v", got)
	}
}
