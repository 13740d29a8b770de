package repo

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryRepo is an in-process repository. Items are kept sorted by id.
type MemoryRepo[T any, ID cmp.Ordered] struct {
	mu    sync.RWMutex
	items []T
	idOf  func(T) ID
	clone func(T) T
}

// MemoryOption configures a MemoryRepo.
type MemoryOption[T any, ID cmp.Ordered] func(*MemoryRepo[T, ID])

// WithClone sets a deep-copy function applied on the way in and out, so
// callers never share slices or maps with the stored item.
func WithClone[T any, ID cmp.Ordered](clone func(T) T) MemoryOption[T, ID] {
	return func(r *MemoryRepo[T, ID]) { r.clone = clone }
}

// NewMemoryRepo creates a repository seeded with items.
func NewMemoryRepo[T any, ID cmp.Ordered](idOf func(T) ID, seed []T, opts ...MemoryOption[T, ID]) (*MemoryRepo[T, ID], error) {
	r := &MemoryRepo[T, ID]{idOf: idOf, clone: func(t T) T { return t }}
	for _, o := range opts {
		o(r)
	}
	for _, item := range seed {
		if _, err := r.Create(context.Background(), item); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Compile-time interface check.
var _ Repository[any, int] = (*MemoryRepo[any, int])(nil)

func (r *MemoryRepo[T, ID]) find(id ID) (int, bool) {
	return slices.BinarySearchFunc(r.items, id, func(item T, target ID) int {
		return cmp.Compare(r.idOf(item), target)
	})
}

func (r *MemoryRepo[T, ID]) Get(_ context.Context, id ID) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.find(id)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: id %v", ErrNotFound, id)
	}
	return r.clone(r.items[i]), nil
}

// List returns every item when opts.Limit is zero.
func (r *MemoryRepo[T, ID]) List(_ context.Context, opts ListOpts) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := min(max(opts.Offset, 0), len(r.items))
	end := len(r.items)
	if opts.Limit > 0 {
		end = min(start+opts.Limit, end)
	}
	out := make([]T, 0, end-start)
	for _, item := range r.items[start:end] {
		out = append(out, r.clone(item))
	}
	return out, nil
}

func (r *MemoryRepo[T, ID]) Create(_ context.Context, entity T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.idOf(entity)
	i, ok := r.find(id)
	if ok {
		var zero T
		return zero, fmt.Errorf("%w: id %v", ErrConflict, id)
	}
	r.items = slices.Insert(r.items, i, r.clone(entity))
	return r.clone(entity), nil
}

func (r *MemoryRepo[T, ID]) Update(_ context.Context, entity T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.idOf(entity)
	i, ok := r.find(id)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: id %v", ErrNotFound, id)
	}
	r.items[i] = r.clone(entity)
	return r.clone(entity), nil
}

func (r *MemoryRepo[T, ID]) Delete(_ context.Context, id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.find(id)
	if !ok {
		return fmt.Errorf("%w: id %v", ErrNotFound, id)
	}
	r.items = slices.Delete(r.items, i, i+1)
	return nil
}

// Len returns the number of stored items.
func (r *MemoryRepo[T, ID]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
