package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr":         {"deepgram", "whisper"},
	"vad":         {"silero", "energy"},
	"diarization": {"http"},
	"sentiment":   {"http"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with environment overrides and pipeline defaults applied. It is a
// convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	cfg.Pipeline.ApplyDefaults()
	if cfg.Search.URL != "" && cfg.Search.Index == "" {
		cfg.Search.Index = "transcripts"
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays secrets and endpoints from the environment so that
// credentials never need to live in the YAML file. Non-empty environment
// values win over file values.
func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Redis.Addr, "VOXSENTINEL_REDIS_ADDR")
	set(&cfg.Redis.Password, "VOXSENTINEL_REDIS_PASSWORD")
	set(&cfg.Postgres.DSN, "VOXSENTINEL_POSTGRES_DSN")
	set(&cfg.Search.URL, "VOXSENTINEL_SEARCH_URL")
	set(&cfg.API.BaseURL, "VOXSENTINEL_API_BASE_URL")
	set(&cfg.API.Token, "VOXSENTINEL_API_TOKEN")
	set(&cfg.Providers.ASRPrimary.APIKey, "VOXSENTINEL_ASR_PRIMARY_API_KEY")
	set(&cfg.Providers.ASRFallback.APIKey, "VOXSENTINEL_ASR_FALLBACK_API_KEY")
	set(&cfg.Providers.Sentiment.APIKey, "VOXSENTINEL_SENTIMENT_API_KEY")
	if v := os.Getenv("VOXSENTINEL_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Backbone connectivity
	if cfg.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if cfg.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("asr", cfg.Providers.ASRPrimary.Name)
	validateProviderName("asr", cfg.Providers.ASRFallback.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("diarization", cfg.Providers.Diarization.Name)
	validateProviderName("sentiment", cfg.Providers.Sentiment.Name)

	// Provider availability
	if cfg.Providers.ASRPrimary.Name == "" {
		errs = append(errs, errors.New("providers.asr_primary is required"))
	}
	if cfg.Providers.ASRFallback.Name == "" {
		slog.Warn("no ASR fallback configured; chunks will be abandoned while the primary circuit is open")
	}
	if cfg.Providers.VAD.Name == "" {
		errs = append(errs, errors.New("providers.vad is required"))
	}
	if cfg.Providers.Diarization.Name == "" {
		slog.Warn("providers.diarization is empty; all tokens will carry SPEAKER_UNKNOWN")
	}
	if cfg.Providers.Sentiment.Name == "" {
		slog.Warn("providers.sentiment is empty; sentiment events and escalations are disabled")
	}

	// Pipeline ranges
	if cfg.Pipeline.VADThreshold < 0 || cfg.Pipeline.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.vad_threshold %.2f is out of range [0, 1]", cfg.Pipeline.VADThreshold))
	}
	if cfg.Pipeline.SentimentScoreThreshold < 0 || cfg.Pipeline.SentimentScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.sentiment_score_threshold %.2f is out of range [0, 1]", cfg.Pipeline.SentimentScoreThreshold))
	}
	if cfg.Pipeline.FuzzyThreshold < 0 || cfg.Pipeline.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.fuzzy_threshold %.2f is out of range [0, 1]", cfg.Pipeline.FuzzyThreshold))
	}

	// Streams — duplicate ID detection and per-stream checks.
	streamIDsSeen := make(map[string]int, len(cfg.Streams))
	for i, s := range cfg.Streams {
		prefix := fmt.Sprintf("streams[%d]", i)
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := streamIDsSeen[s.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of streams[%d]", prefix, s.ID, prev))
			}
			streamIDsSeen[s.ID] = i
		}
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		}
		if s.Protocol != "" && !s.Protocol.IsValid() {
			errs = append(errs, fmt.Errorf("%s.protocol %q is invalid; valid values: rtsp, hls, file", prefix, s.Protocol))
		}
	}

	// Channels
	channelNamesSeen := make(map[string]int, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		prefix := fmt.Sprintf("channels[%d]", i)
		if ch.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := channelNamesSeen[ch.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of channels[%d]", prefix, ch.Name, prev))
			}
			channelNamesSeen[ch.Name] = i
		}
		switch ch.Type {
		case "webhook", "slack", "websocket":
		case "":
			errs = append(errs, fmt.Errorf("%s.type is required", prefix))
		default:
			errs = append(errs, fmt.Errorf("%s.type %q is invalid; valid values: webhook, slack, websocket", prefix, ch.Type))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
