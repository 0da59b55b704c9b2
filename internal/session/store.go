// internal/session/store.go
package session

import "context"

// Store is the persistence contract for session records. Implementations must
// be safe for concurrent use from multiple request goroutines; last store
// wins. Load returns (nil, nil) for an absent record; transport failures are
// the only errors.
type Store interface {
	Load(ctx context.Context, id string) (*Record, error)
	Store(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, id string) error
}
