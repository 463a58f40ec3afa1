package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/lastecho/pkg/provider/stt"
	"github.com/MrWong99/lastecho/pkg/provider/stt/relay"
)

// ErrProviderNotRegistered is returned by [Registry.CreateSTT] for an unknown
// provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// STTFactory builds the recogniser for one client connection. rl is that
// connection's relay, which receives transcripts the browser recognised; a
// factory may return it directly or keep it as a fallback.
type STTFactory func(cfg STTConfig, rl *relay.Provider) (stt.Provider, error)

// Registry maps stt.provider names to factories. It is safe for concurrent
// use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]STTFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{stt: make(map[string]STTFactory)}
}

// RegisterSTT registers factory under name, replacing any earlier one.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateSTT builds the recogniser named by cfg.Provider.
func (r *Registry) CreateSTT(cfg STTConfig, rl *relay.Provider) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	p, err := factory(cfg, rl)
	if err != nil {
		return nil, fmt.Errorf("config: create stt/%q: %w", cfg.Provider, err)
	}
	return p, nil
}

// STTNames lists the registered recogniser names in sorted order.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stt))
	for n := range r.stt {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
