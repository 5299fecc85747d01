package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/chinesetutor/pkg/audio"
	"github.com/MrWong99/chinesetutor/pkg/provider/convai"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	agent map[string]func(AgentConfig) (convai.Provider, error)
	audio map[string]func(AudioConfig) (audio.Platform, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		agent: make(map[string]func(AgentConfig) (convai.Provider, error)),
		audio: make(map[string]func(AudioConfig) (audio.Platform, error)),
	}
}

// RegisterAgent registers an agent transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAgent(name string, factory func(AgentConfig) (convai.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent[name] = factory
}

// RegisterAudio registers an audio platform factory under name.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (audio.Platform, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateAgent instantiates an agent transport using the factory registered
// under cfg.Provider. Returns [ErrProviderNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreateAgent(cfg AgentConfig) (convai.Provider, error) {
	r.mu.RLock()
	factory, ok := r.agent[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: agent/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateAudio instantiates an audio platform using the factory registered
// under cfg.Provider.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Platform, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}
