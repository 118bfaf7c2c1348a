package idmap

import "context"

// Repository stores the temporary→server identifier mapping produced by
// reconciliation. Entries are retained until nothing references the
// temporary id any more.
type Repository interface {
	// Put upserts a mapping.
	Put(ctx context.Context, localID, remoteID string) error

	// RemoteFor returns the mapped remote id, or "" when none exists.
	RemoteFor(ctx context.Context, localID string) (string, error)

	// LocalFor returns the local id mapped to a remote id, or "".
	LocalFor(ctx context.Context, remoteID string) (string, error)

	// Delete drops one mapping.
	Delete(ctx context.Context, localID string) error
}
