// Package repo defines the generic record-store interface the graph nodes
// write through, and its Neo4j implementation. Writes are idempotent
// upserts: re-running a script re-writes records instead of duplicating
// them.
package repo

import "context"

// Repository is a generic keyed record store.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Upsert(ctx context.Context, entity T) error
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination for List operations.
type ListOpts struct {
	Offset int
	Limit  int
}
