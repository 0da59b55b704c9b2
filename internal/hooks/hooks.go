// internal/hooks/hooks.go

// Package hooks holds the post-auth callback. The trigger fires synchronously
// once per persisted session; hook errors propagate to the caller, they are
// the integrator's responsibility.
package hooks

import (
	"context"
	"sync"

	"shopauth/internal/apiclient"
	"shopauth/internal/session"
)

// AfterAuth receives the freshly persisted record and an API client already
// bound to it.
type AfterAuth func(ctx context.Context, rec *session.Record, client *apiclient.Client) error

type Registry struct {
	mu sync.RWMutex
	fn AfterAuth
}

func NewRegistry() *Registry { return &Registry{} }

// Register replaces the current hook. Registering nil clears it.
func (r *Registry) Register(fn AfterAuth) {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
}

// Fire invokes the hook if one is registered.
func (r *Registry) Fire(ctx context.Context, rec *session.Record, client *apiclient.Client) error {
	r.mu.RLock()
	fn := r.fn
	r.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, rec, client)
}
