package adapter

import (
	"fmt"
	"log/slog"
	"net/http"

	"NewsCollector/internal/domain"
)

// Env carries shared collaborators handed to every factory.
type Env struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Factory builds the provider-specific fetcher for a configured source.
type Factory func(source domain.Source, env Env) (Fetcher, error)

// Registry keeps a mapping from adapter kinds to their factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces the factory of a kind.
func (r *Registry) Register(kind string, factory Factory) {
	if r.factories == nil {
		r.factories = map[string]Factory{}
	}
	r.factories[kind] = factory
}

// Kinds lists registered kinds.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Build resolves the source kind and wraps the fetcher with pacing and retries.
func (r *Registry) Build(source domain.Source, env Env, opts ...Option) (Adapter, error) {
	factory, ok := r.factories[source.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: adapter kind %q is not registered (source %s)", domain.ErrInvalidQuery, source.Kind, source.Name)
	}

	fetcher, err := factory(source, env)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.Name, err)
	}

	if env.Logger != nil {
		opts = append([]Option{WithLogger(env.Logger.With("source", source.Name))}, opts...)
	}
	return New(source, fetcher, opts...), nil
}
