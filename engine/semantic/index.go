package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nashiklocalkart/localkart/engine/domain"
	"github.com/nashiklocalkart/localkart/pkg/fn"
)

// Action is what indexing does with a vendor.
type Action string

const (
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
	ActionSkip   Action = "skip"
)

// Decide maps a vendor's status to an index action: approved vendors are
// searchable, rejected ones are removed, pending ones wait.
func Decide(v domain.Vendor) Action {
	switch v.Status {
	case domain.StatusApproved:
		return ActionUpsert
	case domain.StatusRejected:
		return ActionDelete
	default:
		return ActionSkip
	}
}

// Store is the vector storage used by Index.
type Store interface {
	UpsertVendors(ctx context.Context, vectors []VendorVector) error
	DeleteVendor(ctx context.Context, vendorID int) error
	Search(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]Hit, error)
}

// VendorSource resolves search hits to current vendor records.
type VendorSource interface {
	GetVendor(ctx context.Context, id int) (domain.Vendor, error)
}

const (
	reindexBatch   = 32
	reindexWorkers = 4
)

// Index keeps approved vendors searchable by meaning.
type Index struct {
	emb     Embedder
	store   Store
	vendors VendorSource
	log     *slog.Logger
}

// NewIndex creates an Index. log defaults to slog.Default().
func NewIndex(emb Embedder, store Store, vendors VendorSource, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{emb: emb, store: store, vendors: vendors, log: log}
}

// Apply indexes or removes a single vendor according to Decide.
func (ix *Index) Apply(ctx context.Context, v domain.Vendor) (Action, error) {
	act := Decide(v)
	switch act {
	case ActionUpsert:
		return act, ix.upsert(ctx, []domain.Vendor{v})
	case ActionDelete:
		return act, ix.store.DeleteVendor(ctx, v.ID)
	}
	return act, nil
}

// Reindex upserts every approved vendor in batches, a few batches at a time,
// and returns how many were stored.
func (ix *Index) Reindex(ctx context.Context, vendors []domain.Vendor) (int, error) {
	approved := fn.Filter(vendors, func(v domain.Vendor) bool { return Decide(v) == ActionUpsert })
	results := fn.ParMapResult(fn.Chunk(approved, reindexBatch), reindexWorkers, func(batch []domain.Vendor) fn.Result[int] {
		return fn.FromPair(len(batch), ix.upsert(ctx, batch))
	})
	n := fn.Reduce(results, 0, func(acc int, r fn.Result[int]) int { return acc + r.UnwrapOr(0) })
	if _, err := fn.Collect(results).Unwrap(); err != nil {
		return n, err
	}
	ix.log.Info("semantic reindex complete", "vendors", n, "skipped", len(vendors)-n)
	return n, nil
}

func (ix *Index) upsert(ctx context.Context, vendors []domain.Vendor) error {
	vecs, err := ix.emb.EmbedDocuments(ctx, fn.Map(vendors, VendorDocument))
	if err != nil {
		return err
	}
	out := make([]VendorVector, len(vendors))
	for i, v := range vendors {
		out[i] = VendorVector{Vendor: v, Embedding: vecs[i]}
	}
	return ix.store.UpsertVendors(ctx, out)
}

// Search returns up to limit approved vendors closest to query, best first.
// Hits whose vendor is gone or no longer approved are dropped.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]domain.Vendor, error) {
	if limit <= 0 {
		return []domain.Vendor{}, nil
	}
	vec, err := ix.emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := ix.store.Search(ctx, vec, limit, map[string]string{"status": string(domain.StatusApproved)})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Vendor, 0, len(hits))
	for _, h := range hits {
		v, err := ix.vendors.GetVendor(ctx, h.VendorID)
		if errors.Is(err, domain.ErrNotFound) {
			ix.log.Warn("semantic hit for missing vendor", "vendor_id", h.VendorID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("semantic: resolve vendor %d: %w", h.VendorID, err)
		}
		if v.Status != domain.StatusApproved {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Lookup lets the chat assistant pull relevant vendors into its context.
func (ix *Index) Lookup(ctx context.Context, query string, limit int) ([]domain.Vendor, error) {
	return ix.Search(ctx, query, limit)
}
