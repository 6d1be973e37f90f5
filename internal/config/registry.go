package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Theesthan/VoxSentinel/pkg/provider/asr"
	"github.com/Theesthan/VoxSentinel/pkg/provider/diarize"
	"github.com/Theesthan/VoxSentinel/pkg/provider/sentiment"
	"github.com/Theesthan/VoxSentinel/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
//
// ASR factories are keyed by name but invoked once per stream (each stream
// owns its own engine instance), so the factory must return a fresh engine on
// every call.
type Registry struct {
	mu        sync.RWMutex
	asr       map[string]func(ProviderEntry) (asr.Engine, error)
	vad       map[string]func(ProviderEntry) (vad.Engine, error)
	diarize   map[string]func(ProviderEntry) (diarize.Engine, error)
	sentiment map[string]func(ProviderEntry) (sentiment.Analyzer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr:       make(map[string]func(ProviderEntry) (asr.Engine, error)),
		vad:       make(map[string]func(ProviderEntry) (vad.Engine, error)),
		diarize:   make(map[string]func(ProviderEntry) (diarize.Engine, error)),
		sentiment: make(map[string]func(ProviderEntry) (sentiment.Analyzer, error)),
	}
}

// RegisterASR registers an ASR engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory func(ProviderEntry) (asr.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterDiarize registers a diarization engine factory under name.
func (r *Registry) RegisterDiarize(name string, factory func(ProviderEntry) (diarize.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diarize[name] = factory
}

// RegisterSentiment registers a sentiment analyzer factory under name.
func (r *Registry) RegisterSentiment(name string, factory func(ProviderEntry) (sentiment.Analyzer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sentiment[name] = factory
}

// CreateASR instantiates a fresh ASR engine using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Engine, error) {
	r.mu.RLock()
	factory, ok := r.asr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateDiarize instantiates a diarization engine using the factory
// registered under entry.Name.
func (r *Registry) CreateDiarize(entry ProviderEntry) (diarize.Engine, error) {
	r.mu.RLock()
	factory, ok := r.diarize[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: diarization/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSentiment instantiates a sentiment analyzer using the factory
// registered under entry.Name.
func (r *Registry) CreateSentiment(entry ProviderEntry) (sentiment.Analyzer, error) {
	r.mu.RLock()
	factory, ok := r.sentiment[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sentiment/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
