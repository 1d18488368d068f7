package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/vad"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps back-end names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]func(DeviceConfig) (audio.Device, error)
	vad     map[string]func(VADConfig) (vad.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]func(DeviceConfig) (audio.Device, error)),
		vad:     make(map[string]func(VADConfig) (vad.Engine, error)),
	}
}

// RegisterDevice registers an audio device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDevice(name string, factory func(DeviceConfig) (audio.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateDevice opens the device registered under cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDevice(cfg DeviceConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[cfg.Backend]
	known := sortedKeys(r.devices)
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: device/%q (known: %v)", ErrBackendNotRegistered, cfg.Backend, known)
	}
	return factory(cfg)
}

// CreateVAD instantiates the VAD engine registered under cfg.Engine.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Engine]
	known := sortedKeys(r.vad)
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q (known: %v)", ErrBackendNotRegistered, cfg.Engine, known)
	}
	return factory(cfg)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
