// Package cache is the persistent activity store: a schema-versioned
// document of per-profile activity sets, with merge-by-identity semantics
// and pluggable file or Redis persistence.
package cache

import "context"

// Store persists the cache document. Load degrades: a missing, corrupt, or
// version-mismatched document yields a fresh empty manager, never an error
// the caller has to handle as fatal.
type Store interface {
	Load(ctx context.Context) (*Manager, error)
	Save(ctx context.Context, m *Manager) error
}
