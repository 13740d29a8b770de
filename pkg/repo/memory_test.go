package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type shop struct {
	ID    int
	Name  string
	Modes []string
}

func cloneShop(s shop) shop {
	s.Modes = append([]string(nil), s.Modes...)
	return s
}

func newShopRepo(t *testing.T, seed ...shop) *MemoryRepo[shop, int] {
	t.Helper()
	r, err := NewMemoryRepo(func(s shop) int { return s.ID }, seed, WithClone[shop, int](cloneShop))
	if err != nil {
		t.Fatalf("NewMemoryRepo: %v", err)
	}
	return r
}

func TestMemoryRepo_SeedKeepsIDOrder(t *testing.T) {
	r := newShopRepo(t, shop{ID: 3, Name: "C"}, shop{ID: 1, Name: "A"}, shop{ID: 2, Name: "B"})
	items, err := r.List(context.Background(), ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 || items[0].ID != 1 || items[1].ID != 2 || items[2].ID != 3 {
		t.Fatalf("expected id order, got %+v", items)
	}
}

func TestMemoryRepo_DuplicateSeed(t *testing.T) {
	_, err := NewMemoryRepo(func(s shop) int { return s.ID }, []shop{{ID: 1}, {ID: 1}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryRepo_GetNotFound(t *testing.T) {
	r := newShopRepo(t)
	_, err := r.Get(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepo_CloneIsolation(t *testing.T) {
	r := newShopRepo(t, shop{ID: 1, Modes: []string{"UPI"}})
	got, _ := r.Get(context.Background(), 1)
	got.Modes[0] = "Card"

	again, _ := r.Get(context.Background(), 1)
	if again.Modes[0] != "UPI" {
		t.Fatalf("stored item was mutated through returned copy: %v", again.Modes)
	}
}

func TestMemoryRepo_ListPaging(t *testing.T) {
	r := newShopRepo(t, shop{ID: 1}, shop{ID: 2}, shop{ID: 3}, shop{ID: 4})
	ctx := context.Background()

	page, _ := r.List(ctx, ListOpts{Offset: 1, Limit: 2})
	if len(page) != 2 || page[0].ID != 2 || page[1].ID != 3 {
		t.Fatalf("unexpected page: %+v", page)
	}
	tail, _ := r.List(ctx, ListOpts{Offset: 10})
	if len(tail) != 0 {
		t.Fatalf("expected empty tail, got %+v", tail)
	}
	neg, _ := r.List(ctx, ListOpts{Offset: -5, Limit: 1})
	if len(neg) != 1 || neg[0].ID != 1 {
		t.Fatalf("negative offset should clamp to 0, got %+v", neg)
	}
}

func TestMemoryRepo_UpdateAndDelete(t *testing.T) {
	r := newShopRepo(t, shop{ID: 1, Name: "old"})
	ctx := context.Background()

	if _, err := r.Update(ctx, shop{ID: 1, Name: "new"}); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(ctx, 1)
	if got.Name != "new" {
		t.Fatalf("expected update, got %+v", got)
	}
	if _, err := r.Update(ctx, shop{ID: 9}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := r.Delete(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty repo, got %d", r.Len())
	}
	if err := r.Delete(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryRepo_ConcurrentCreate(t *testing.T) {
	r := newShopRepo(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.Create(ctx, shop{ID: id})
		}(i)
	}
	wg.Wait()

	items, _ := r.List(ctx, ListOpts{})
	if len(items) != 50 {
		t.Fatalf("expected 50 items, got %d", len(items))
	}
	for i, it := range items {
		if it.ID != i+1 {
			t.Fatalf("expected sorted ids, got %d at %d", it.ID, i)
		}
	}
}
