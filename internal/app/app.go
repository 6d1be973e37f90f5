// Package app wires configuration, storage, queues, and the per-stream
// processing stages into a running VoxSentinel server.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Theesthan/VoxSentinel/internal/alert"
	"github.com/Theesthan/VoxSentinel/internal/apiclient"
	"github.com/Theesthan/VoxSentinel/internal/asr"
	"github.com/Theesthan/VoxSentinel/internal/audit"
	"github.com/Theesthan/VoxSentinel/internal/config"
	"github.com/Theesthan/VoxSentinel/internal/diarize"
	"github.com/Theesthan/VoxSentinel/internal/health"
	"github.com/Theesthan/VoxSentinel/internal/ingest"
	"github.com/Theesthan/VoxSentinel/internal/nlp"
	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/internal/queue"
	"github.com/Theesthan/VoxSentinel/internal/resilience"
	"github.com/Theesthan/VoxSentinel/internal/search"
	"github.com/Theesthan/VoxSentinel/internal/store"
	"github.com/Theesthan/VoxSentinel/internal/vadgate"
	asrprov "github.com/Theesthan/VoxSentinel/pkg/provider/asr"
	sentprov "github.com/Theesthan/VoxSentinel/pkg/provider/sentiment"
	"github.com/Theesthan/VoxSentinel/pkg/types"
)

const (
	reconcileInterval      = 15 * time.Second
	retentionSweepInterval = 1 * time.Hour
	shutdownTimeout        = 5 * time.Second
)

// sessionStore is the slice of [store.Store] the session lifecycle needs.
type sessionStore interface {
	UpsertStream(ctx context.Context, st types.Stream) error
	UpdateStreamStatus(ctx context.Context, streamID string, status types.StreamStatus, sessionID string) error
	OpenSession(ctx context.Context, sessionID, streamID, asrBackend string) error
	CloseSession(ctx context.Context, sessionID string) error
}

// controlPlane is the slice of [apiclient.Client] used for reconciliation
// and status reporting. Nil when no control plane is configured.
type controlPlane interface {
	ListStreams(ctx context.Context, status types.StreamStatus) ([]types.Stream, error)
	UpdateStreamStatus(ctx context.Context, streamID string, status types.StreamStatus, sessionID string) error
}

// App owns every long-running component of the monitoring server. Create one
// with [New] and drive it with [Run]; Run blocks until the context is
// cancelled and tears everything down on the way out.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	log      *slog.Logger

	rdb *redis.Client
	bus *queue.Bus
	db  *store.Store

	// searcher is nil when no search cluster is configured; segment
	// indexing is then skipped and queries fall back to Postgres.
	searcher *search.Client

	// control is nil without a configured control-plane API; streams and
	// rules then come from the config file and the database only.
	control controlPlane

	sessions   sessionStore
	hub        *alert.Hub
	reloader   *nlp.Reloader
	redactor   *nlp.Redactor
	dispatcher *alert.Dispatcher
	anchorer   *audit.Anchorer
	verifier   *audit.Verifier
	supervisor *ingest.Supervisor
	health     *health.Handler

	mu             sync.Mutex
	failovers      map[string]*asr.Failover // stream ID -> active failover
	gates          map[string]degradable    // stream ID -> active VAD gate
	sessionStreams map[string]string        // session ID -> stream ID
}

// degradable is satisfied by pipeline stages that can keep running in a
// degraded mode, like the VAD gate failing open on scorer errors.
type degradable interface {
	Degraded() bool
}

// New connects to Redis and Postgres, loads alert routes and keyword rules,
// and assembles the supervisor and background workers. Nothing is running yet
// when New returns; call [App.Run].
func New(ctx context.Context, cfg *config.Config, registry *config.Registry) (*App, error) {
	a := &App{
		cfg:            cfg,
		registry:       registry,
		metrics:        observe.DefaultMetrics(),
		log:            slog.With("component", "app"),
		failovers:      make(map[string]*asr.Failover),
		gates:          make(map[string]degradable),
		sessionStreams: make(map[string]string),
	}

	a.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("app: redis ping: %w", err)
	}
	a.bus = queue.New(a.rdb)

	db, err := store.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		a.rdb.Close()
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	a.db = db
	a.sessions = db

	if cfg.Search.URL != "" {
		a.searcher = search.NewClient(cfg.Search.URL)
		if err := a.searcher.EnsureIndex(ctx); err != nil {
			// The cluster may come up after us; indexing errors are
			// non-fatal throughout.
			a.log.Warn("search index setup failed", "error", err)
		}
	}

	var ruleSource nlp.RuleSource = db
	if cfg.API.BaseURL != "" {
		api := apiclient.New(cfg.API.BaseURL, cfg.API.Token)
		a.control = api
		ruleSource = api
	}

	a.reloader = nlp.NewReloader(ruleSource, cfg.Pipeline.RulePollInterval(),
		cfg.Pipeline.FuzzyThreshold, nlp.WithUpdateChannel(a.bus))
	if err := a.reloader.Refresh(ctx); err != nil {
		a.log.Warn("initial rule load failed, starting with no rules", "error", err)
	}
	a.redactor = nlp.NewRedactor()

	a.hub = alert.NewHub()
	routes, err := a.buildRoutes(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.dispatcher = alert.NewDispatcher(a.bus, routes, db.WriteAlert, alert.DispatcherConfig{
		DedupTTL:          time.Duration(cfg.Pipeline.DedupTTLSeconds) * time.Second,
		ThrottlePerMinute: cfg.Pipeline.ThrottlePerMinute,
		MaxRetries:        cfg.Pipeline.MaxRetries,
	}, a.metrics)

	a.anchorer = audit.NewAnchorer(db, cfg.Pipeline.AnchorInterval(), a.metrics)
	a.verifier = audit.NewVerifier(db)
	a.supervisor = ingest.NewSupervisor(a.runStream, ingest.SessionHooks{
		OnOpen:  a.openSession,
		OnClose: a.closeSession,
	}, a.metrics)

	a.health = health.New([]health.Checker{
		health.PostgresChecker(db.Pool()),
		health.RedisChecker(a.rdb),
	}, health.WithDegraded(a.degradedReasons))

	return a, nil
}

// buildRoutes merges statically configured channels with the ones registered
// in the database.
func (a *App) buildRoutes(ctx context.Context) ([]alert.Route, error) {
	cfgs := append([]config.ChannelConfig(nil), a.cfg.Channels...)

	dbCfgs, err := a.db.ListChannelConfigs(ctx)
	if err != nil {
		a.log.Warn("loading channel configs from store failed", "error", err)
	}
	for _, c := range dbCfgs {
		cfgs = append(cfgs, channelConfigFromDB(c))
	}

	routes, err := alert.BuildRoutes(cfgs, a.hub)
	if err != nil {
		return nil, fmt.Errorf("app: build alert routes: %w", err)
	}
	return routes, nil
}

// channelConfigFromDB converts a database channel row into the config form
// [alert.BuildRoutes] consumes.
func channelConfigFromDB(c types.AlertChannelConfig) config.ChannelConfig {
	alertTypes := make([]string, len(c.AlertTypes))
	for i, t := range c.AlertTypes {
		alertTypes[i] = string(t)
	}
	return config.ChannelConfig{
		Name:        c.ChannelID,
		Type:        string(c.ChannelType),
		MinSeverity: string(c.MinSeverity),
		AlertTypes:  alertTypes,
		StreamIDs:   c.StreamIDs,
		Options:     c.Config,
	}
}

// Run starts every worker and the admin HTTP server, then blocks until ctx
// is cancelled or a component fails fatally. All resources are released
// before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.dispatcher.Run(ctx) })
	g.Go(func() error { return a.anchorer.Run(ctx) })
	g.Go(func() error { return a.reloader.Run(ctx) })
	g.Go(func() error {
		retention := time.Duration(a.cfg.Pipeline.RetentionDays) * 24 * time.Hour
		return a.db.RunRetention(ctx, retention, retentionSweepInterval)
	})
	if a.control != nil {
		g.Go(func() error {
			a.supervisor.RunReconciler(ctx, reconcileInterval, a.fetchDesired)
			return ctx.Err()
		})
	}
	g.Go(func() error { return a.serveAdmin(ctx) })

	for _, sc := range a.cfg.Streams {
		if !sc.Enabled {
			continue
		}
		spec := ingest.StreamSpec{ID: sc.ID, URL: sc.URL, Protocol: sc.Protocol}
		if err := a.supervisor.Start(ctx, spec); err != nil {
			a.log.Error("stream failed to start", "stream_id", sc.ID, "error", err)
		}
	}

	err := g.Wait()
	a.supervisor.StopAll()
	a.close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}

// ReconcileStreams applies a changed static stream set to the supervisor:
// new enabled streams start, removed or disabled ones stop. Callers must not
// use this while a control plane owns the stream list.
func (a *App) ReconcileStreams(ctx context.Context, streams []config.StreamConfig) {
	desired := make([]ingest.StreamSpec, 0, len(streams))
	for _, sc := range streams {
		if !sc.Enabled {
			continue
		}
		desired = append(desired, ingest.StreamSpec{ID: sc.ID, URL: sc.URL, Protocol: sc.Protocol})
	}
	a.supervisor.Reconcile(ctx, desired)
}

// fetchDesired asks the control plane which streams should be running. The
// control plane stores only source URLs, so the protocol is inferred.
func (a *App) fetchDesired(ctx context.Context) ([]ingest.StreamSpec, error) {
	streams, err := a.control.ListStreams(ctx, types.StreamActive)
	if err != nil {
		return nil, err
	}
	specs := make([]ingest.StreamSpec, 0, len(streams))
	for _, st := range streams {
		specs = append(specs, ingest.StreamSpec{
			ID:       st.StreamID,
			URL:      st.SourceURL,
			Protocol: protocolForURL(st.SourceURL),
		})
	}
	return specs, nil
}

// protocolForURL maps a source URL onto an ingestion protocol. HTTP sources
// are treated as HLS playlists; anything without a scheme is a local file.
func protocolForURL(rawURL string) config.Protocol {
	switch {
	case strings.HasPrefix(rawURL, "rtsp://"):
		return config.ProtocolRTSP
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return config.ProtocolHLS
	default:
		return config.ProtocolFile
	}
}

// openSession records the stream and its new session before the runner
// starts. A failure here aborts the start.
func (a *App) openSession(ctx context.Context, spec ingest.StreamSpec, sessionID string) error {
	err := a.sessions.UpsertStream(ctx, types.Stream{
		StreamID:         spec.ID,
		Name:             spec.ID,
		SourceURL:        spec.URL,
		ASRPrimary:       a.cfg.Providers.ASRPrimary.Name,
		ASRFallback:      a.cfg.Providers.ASRFallback.Name,
		VADThreshold:     a.cfg.Pipeline.VADThreshold,
		ChunkMs:          a.cfg.Pipeline.ChunkMs,
		Status:           types.StreamActive,
		CurrentSessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("app: register stream %s: %w", spec.ID, err)
	}
	if err := a.sessions.OpenSession(ctx, sessionID, spec.ID, a.cfg.Providers.ASRPrimary.Name); err != nil {
		return fmt.Errorf("app: open session %s: %w", sessionID, err)
	}

	a.mu.Lock()
	a.sessionStreams[sessionID] = spec.ID
	a.mu.Unlock()

	if a.control != nil {
		if err := a.control.UpdateStreamStatus(ctx, spec.ID, types.StreamActive, sessionID); err != nil {
			a.log.Warn("control-plane status update failed",
				"stream_id", spec.ID, "error", err)
		}
	}
	return nil
}

// closeSession finalizes the session row and moves the stream to its resting
// status: "error" when the runner gave up, "stopped" otherwise.
func (a *App) closeSession(ctx context.Context, sessionID, reason string) {
	a.mu.Lock()
	streamID := a.sessionStreams[sessionID]
	delete(a.sessionStreams, sessionID)
	a.mu.Unlock()

	status := types.StreamStopped
	if reason == "error" {
		status = types.StreamError
	}

	if err := a.sessions.CloseSession(ctx, sessionID); err != nil {
		a.log.Warn("closing session failed", "session_id", sessionID, "error", err)
	}
	if streamID == "" {
		return
	}
	if err := a.sessions.UpdateStreamStatus(ctx, streamID, status, ""); err != nil {
		a.log.Warn("stream status update failed", "stream_id", streamID, "error", err)
	}
	if a.control != nil {
		if err := a.control.UpdateStreamStatus(ctx, streamID, status, ""); err != nil {
			a.log.Warn("control-plane status update failed",
				"stream_id", streamID, "error", err)
		}
	}
}

// degradedReasons reports streams currently running with an open ASR breaker
// or a failing VAD scorer. Feeds the readiness endpoint.
func (a *App) degradedReasons() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var reasons []string
	for streamID, f := range a.failovers {
		if f.BreakerState() != resilience.StateClosed {
			reasons = append(reasons, "asr_failover:"+streamID)
		}
	}
	for streamID, g := range a.gates {
		if g.Degraded() {
			reasons = append(reasons, "vad:"+streamID)
		}
	}
	sort.Strings(reasons)
	return reasons
}

func (a *App) registerStages(streamID string, f *asr.Failover, g degradable) {
	a.mu.Lock()
	a.failovers[streamID] = f
	a.gates[streamID] = g
	a.mu.Unlock()
}

func (a *App) unregisterStages(streamID string) {
	a.mu.Lock()
	delete(a.failovers, streamID)
	delete(a.gates, streamID)
	a.mu.Unlock()
}

// runStream executes all processing stages of one stream session. Every
// stage consumes from and produces to the stream's Redis queues; the stages
// run until the source ends, the reconnect budget is exhausted, or ctx is
// cancelled.
func (a *App) runStream(ctx context.Context, spec ingest.StreamSpec, sessionID string) error {
	providers := a.cfg.Providers
	pipeline := a.cfg.Pipeline

	primary, err := a.registry.CreateASR(providers.ASRPrimary)
	if err != nil {
		return fmt.Errorf("app: create ASR engine %q: %w", providers.ASRPrimary.Name, err)
	}
	var fallback asrprov.Engine
	if providers.ASRFallback.Name != "" {
		fallback, err = a.registry.CreateASR(providers.ASRFallback)
		if err != nil {
			return fmt.Errorf("app: create ASR engine %q: %w", providers.ASRFallback.Name, err)
		}
	}
	vadEngine, err := a.registry.CreateVAD(providers.VAD)
	if err != nil {
		return fmt.Errorf("app: create VAD engine %q: %w", providers.VAD.Name, err)
	}
	defer vadEngine.Close()
	diarEngine, err := a.registry.CreateDiarize(providers.Diarization)
	if err != nil {
		return fmt.Errorf("app: create diarization engine %q: %w", providers.Diarization.Name, err)
	}
	defer diarEngine.Close()
	var analyzer sentprov.Analyzer
	if providers.Sentiment.Name != "" {
		analyzer, err = a.registry.CreateSentiment(providers.Sentiment)
		if err != nil {
			return fmt.Errorf("app: create sentiment analyzer %q: %w", providers.Sentiment.Name, err)
		}
		defer analyzer.Close()
	}

	failover := asr.NewFailover(spec.ID, primary, fallback, asr.FailoverConfig{}, a.metrics)
	gate := vadgate.NewGate(a.bus, vadEngine, spec.ID, pipeline.VADThreshold, a.metrics)
	a.registerStages(spec.ID, failover, gate)
	defer a.unregisterStages(spec.ID)

	router := asr.NewRouter(a.bus, failover, spec.ID, a.metrics)
	segmentHolder := diarize.NewHolder()
	accumulator := diarize.NewAccumulator(a.bus, diarEngine, segmentHolder,
		spec.ID, pipeline.DiarizationWindowSeconds, a.metrics)
	merger := diarize.NewMerger(a.bus, segmentHolder, spec.ID, sessionID)
	nlpStage := nlp.NewPipeline(a.bus, a.reloader, analyzer, a.redactor, spec.ID, nlp.PipelineConfig{
		WindowSeconds:           pipeline.NLPWindowSeconds,
		SentimentWindowSeconds:  pipeline.SentimentWindowSeconds,
		SentimentConsecutive:    pipeline.SentimentConsecutive,
		SentimentScoreThreshold: pipeline.SentimentScoreThreshold,
		ASRBackend:              providers.ASRPrimary.Name,
	}, a.metrics)

	var indexer store.Indexer
	if a.searcher != nil {
		indexer = a.searcher
	}
	writer := store.NewSegmentWriter(a.bus, a.db, indexer, spec.ID, a.metrics)

	// The ingest goroutine cancels the group when the source ends so the
	// downstream stages drain and exit instead of blocking forever.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		rec := ingest.NewReconnector(ingest.ReconnectorConfig{
			StreamID: spec.ID,
			Run: func(ctx context.Context) error {
				extractor, err := ingest.NewExtractor(spec)
				if err != nil {
					return err
				}
				return ingest.NewPipeline(a.bus, extractor, spec.ID, sessionID,
					pipeline.ChunkMs, a.metrics).Run(ctx)
			},
			Metrics: a.metrics,
		})
		return rec.Run(runCtx)
	})
	g.Go(func() error { return gate.Run(runCtx) })
	g.Go(func() error { return router.Run(runCtx) })
	g.Go(func() error { return accumulator.Run(runCtx) })
	g.Go(func() error { return merger.Run(runCtx) })
	g.Go(func() error { return nlpStage.Run(runCtx) })
	g.Go(func() error { return writer.Run(runCtx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// The source ended cleanly and the ingest goroutine wound the
		// other stages down.
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

// serveAdmin runs the admin HTTP server: health endpoints, Prometheus
// metrics, the live alert WebSocket feed, and segment verification.
func (a *App) serveAdmin(ctx context.Context) error {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws/alerts", a.hub.Handler())
	mux.HandleFunc("GET /segments/{id}/verify", a.handleVerify)

	srv := &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsCfg := a.cfg.Server.TLS; tlsCfg != nil {
			err = srv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: admin server: %w", err)
	}
}

// handleVerify checks one segment against its covering audit anchor.
func (a *App) handleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := a.verifier.Verify(r.Context(), r.PathValue("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, store.ErrNoAnchor) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}
