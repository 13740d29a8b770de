// Package repo defines the generic Repository interface, list options and
// the memory, Neo4j and Postgres implementations the marketplace can run on.
package repo

import (
	"context"
	"errors"
)

// Errors shared by every implementation.
var (
	ErrNotFound = errors.New("repo: not found")
	ErrConflict = errors.New("repo: id already exists")
)

// Repository is a generic CRUD interface.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination for List operations. Results are always
// ordered by id.
type ListOpts struct {
	Offset int
	Limit  int
}

// defaultLimit caps database-backed List calls when no limit is given.
const defaultLimit = 100

func (o ListOpts) limitOr(fallback int) int {
	if o.Limit <= 0 {
		return fallback
	}
	return o.Limit
}
