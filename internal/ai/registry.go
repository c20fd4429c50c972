package ai

import (
	"context"
	"strings"
	"sync"
)

// ProviderFactory builds a Provider bound to one model.
type ProviderFactory func(ctx context.Context, model string) (Provider, error)

// Registry maps model identifiers to provider factories. Models without
// an explicit registration fall back to the default factory, so the chat
// turn keeps working when the picker offers models this deployment has
// no dedicated provider for.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
	fallback  ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]ProviderFactory),
		fallback: func(ctx context.Context, model string) (Provider, error) {
			return NewStubProvider(model), nil
		},
	}
}

// Register binds a factory to one model identifier.
func (r *Registry) Register(model string, f ProviderFactory) {
	model = strings.ToLower(strings.TrimSpace(model))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[model] = f
}

// SetFallback replaces the factory used for unregistered models.
func (r *Registry) SetFallback(f ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = f
}

// ForModel returns a Provider for the given model identifier.
func (r *Registry) ForModel(ctx context.Context, model string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(model))
	r.mu.RLock()
	f, ok := r.factories[key]
	if !ok {
		f = r.fallback
	}
	r.mu.RUnlock()
	return f(ctx, model)
}
