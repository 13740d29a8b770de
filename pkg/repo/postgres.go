package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// rows is the minimal interface needed from pgx.Rows.
type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// querier is the minimal interface needed from a pgx pool.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

// PgRepo is a generic Postgres-backed repository. The first column is the
// primary key; toArgs must return values in column order and scan must read
// them in the same order.
type PgRepo[T any, ID comparable] struct {
	db      querier
	table   string
	columns []string
	toArgs  func(T) []any
	scan    func(pgx.Row) (T, error)
}

// NewPgRepo creates a new Postgres-backed repository.
func NewPgRepo[T any, ID comparable](
	pool *pgxpool.Pool,
	table string,
	columns []string,
	toArgs func(T) []any,
	scan func(pgx.Row) (T, error),
) *PgRepo[T, ID] {
	return &PgRepo[T, ID]{
		db:      &pgxPoolAdapter{pool: pool},
		table:   table,
		columns: columns,
		toArgs:  toArgs,
		scan:    scan,
	}
}

// Compile-time interface check.
var _ Repository[any, int] = (*PgRepo[any, int])(nil)

// pgxPoolAdapter adapts *pgxpool.Pool to the querier interface.
type pgxPoolAdapter struct {
	pool *pgxpool.Pool
}

func (a *pgxPoolAdapter) Query(ctx context.Context, sql string, args ...any) (rows, error) {
	return a.pool.Query(ctx, sql, args...)
}

func (a *pgxPoolAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return a.pool.QueryRow(ctx, sql, args...)
}

func (a *pgxPoolAdapter) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := a.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepo[T, ID]) idColumn() string { return r.columns[0] }

func (r *PgRepo[T, ID]) columnList() string { return strings.Join(r.columns, ", ") }

func placeholders(from, n int) []string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", from+i)
	}
	return ph
}

func (r *PgRepo[T, ID]) selectSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", r.columnList(), r.table, r.idColumn())
}

func (r *PgRepo[T, ID]) listSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s OFFSET $1 LIMIT $2", r.columnList(), r.table, r.idColumn())
}

func (r *PgRepo[T, ID]) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		r.table, r.columnList(), strings.Join(placeholders(1, len(r.columns)), ", "), r.columnList())
}

func (r *PgRepo[T, ID]) updateSQL() string {
	sets := make([]string, 0, len(r.columns)-1)
	for i, c := range r.columns[1:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+2))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1 RETURNING %s",
		r.table, strings.Join(sets, ", "), r.idColumn(), r.columnList())
}

func (r *PgRepo[T, ID]) deleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = $1", r.table, r.idColumn())
}

func (r *PgRepo[T, ID]) scanOne(row pgx.Row, id any) (T, error) {
	item, err := r.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var zero T
		return zero, fmt.Errorf("%w: %s %v", ErrNotFound, r.table, id)
	}
	return item, err
}

func (r *PgRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	return r.scanOne(r.db.QueryRow(ctx, r.selectSQL(), id), id)
}

func (r *PgRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	rs, err := r.db.Query(ctx, r.listSQL(), max(opts.Offset, 0), opts.limitOr(defaultLimit))
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	items := []T{}
	for rs.Next() {
		item, err := r.scan(rs)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rs.Err()
}

func (r *PgRepo[T, ID]) Create(ctx context.Context, entity T) (T, error) {
	args := r.toArgs(entity)
	item, err := r.scan(r.db.QueryRow(ctx, r.insertSQL(), args...))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s: %w", r.table, err)
	}
	return item, nil
}

func (r *PgRepo[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	args := r.toArgs(entity)
	return r.scanOne(r.db.QueryRow(ctx, r.updateSQL(), args...), args[0])
}

func (r *PgRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	n, err := r.db.Exec(ctx, r.deleteSQL(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %v", ErrNotFound, r.table, id)
	}
	return nil
}

// Exec runs a statement such as schema DDL against the repository's pool.
func (r *PgRepo[T, ID]) Exec(ctx context.Context, sql string) error {
	_, err := r.db.Exec(ctx, sql)
	return err
}
