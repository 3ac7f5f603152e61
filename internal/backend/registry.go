package backend

import (
	"context"

	"github.com/cahq/orchestrator/internal/cherrors"
	"golang.org/x/time/rate"
)

// Registry holds every configured Adapter by name and knows the
// config-level default, implementing the selection order: task
// override -> task-level default -> config default.
type Registry struct {
	adapters map[string]Adapter
	fallback string
}

// NewRegistry builds an empty Registry. fallback names the adapter used
// when neither a task nor a node specifies one.
func NewRegistry(fallback string) *Registry {
	return &Registry{adapters: make(map[string]Adapter), fallback: fallback}
}

// Register binds name to an Adapter, wrapping it in rate limiting if
// limit is non-zero. A single runner driving a real AI CLI repeatedly
// must not exceed a configured QPS against that process.
func (r *Registry) Register(name string, a Adapter, limit rate.Limit, burst int) {
	if limit > 0 {
		a = &rateLimited{inner: a, limiter: rate.NewLimiter(limit, burst)}
	}
	r.adapters[name] = a
}

// Resolve picks the adapter for a node, preferring nodeOverride, then
// taskDefault, then the registry's config-level fallback.
func (r *Registry) Resolve(nodeOverride, taskDefault string) (Adapter, error) {
	for _, name := range []string{nodeOverride, taskDefault, r.fallback} {
		if name == "" {
			continue
		}
		if a, ok := r.adapters[name]; ok {
			return a, nil
		}
	}
	return nil, cherrors.Newf(cherrors.BackendConfig, "no backend adapter registered for %q/%q/%q", nodeOverride, taskDefault, r.fallback)
}

// rateLimited wraps an Adapter with a token-bucket limiter so bursts of
// ready nodes don't hammer a single external process pool.
type rateLimited struct {
	inner   Adapter
	limiter *rate.Limiter
}

func (r *rateLimited) Invoke(ctx context.Context, req Request) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Result{}, cherrors.Wrap(cherrors.BackendCancelled, "rate limiter wait cancelled", err)
	}
	return r.inner.Invoke(ctx, req)
}
