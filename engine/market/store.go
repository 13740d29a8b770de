package market

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/nashiklocalkart/localkart/engine/domain"
	"github.com/nashiklocalkart/localkart/pkg/repo"
)

// Stores pairs the user and vendor repositories of one backend.
type Stores struct {
	Users   UserRepo
	Vendors VendorRepo
}

func cloneVendor(v domain.Vendor) domain.Vendor {
	v.PaymentMethods = slices.Clone(v.PaymentMethods)
	return v
}

// NewMemoryStores returns in-process repositories seeded from the catalog.
func NewMemoryStores(c domain.Catalog) (Stores, error) {
	users, err := repo.NewMemoryRepo(func(u domain.User) int { return u.ID }, c.Users)
	if err != nil {
		return Stores{}, fmt.Errorf("market: seed users: %w", err)
	}
	vendors, err := repo.NewMemoryRepo(func(v domain.Vendor) int { return v.ID }, c.Vendors,
		repo.WithClone[domain.Vendor, int](cloneVendor))
	if err != nil {
		return Stores{}, fmt.Errorf("market: seed vendors: %w", err)
	}
	return Stores{Users: users, Vendors: vendors}, nil
}

// Seed inserts catalog users and vendors that are not stored yet.
func Seed(ctx context.Context, s Stores, c domain.Catalog) (int, error) {
	n := 0
	for _, u := range c.Users {
		if _, err := s.Users.Get(ctx, u.ID); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return n, err
		}
		if _, err := s.Users.Create(ctx, u); err != nil {
			return n, fmt.Errorf("market: seed user %d: %w", u.ID, err)
		}
		n++
	}
	for _, v := range c.Vendors {
		if _, err := s.Vendors.Get(ctx, v.ID); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return n, err
		}
		if _, err := s.Vendors.Create(ctx, v); err != nil {
			return n, fmt.Errorf("market: seed vendor %d: %w", v.ID, err)
		}
		n++
	}
	return n, nil
}

// --- Neo4j ---

// NewNeo4jStores returns graph-backed repositories for :User and :Vendor
// nodes and ensures their id uniqueness constraints.
func NewNeo4jStores(ctx context.Context, driver neo4j.DriverWithContext) (Stores, error) {
	users := repo.NewNeo4jRepo[domain.User, int](driver, "User", userToMap, userFromRecord)
	vendors := repo.NewNeo4jRepo[domain.Vendor, int](driver, "Vendor", vendorToMap, vendorFromRecord)
	if err := users.EnsureConstraint(ctx); err != nil {
		return Stores{}, fmt.Errorf("market: user constraint: %w", err)
	}
	if err := vendors.EnsureConstraint(ctx); err != nil {
		return Stores{}, fmt.Errorf("market: vendor constraint: %w", err)
	}
	return Stores{Users: users, Vendors: vendors}, nil
}

func userToMap(u domain.User) map[string]any {
	return map[string]any{
		"id":      int64(u.ID),
		"name":    u.Name,
		"email":   u.Email,
		"phone":   u.Phone,
		"address": u.Address,
		"type":    string(u.Type),
	}
}

func userFromRecord(rec *neo4j.Record) (domain.User, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.User{}, err
	}
	return userFromProps(node.Props), nil
}

func userFromProps(p map[string]any) domain.User {
	return domain.User{
		ID:      intProp(p, "id"),
		Name:    strProp(p, "name"),
		Email:   strProp(p, "email"),
		Phone:   strProp(p, "phone"),
		Address: strProp(p, "address"),
		Type:    domain.UserType(strProp(p, "type")),
	}
}

func vendorToMap(v domain.Vendor) map[string]any {
	return map[string]any{
		"id":              int64(v.ID),
		"user_id":         int64(v.UserID),
		"shop_name":       v.ShopName,
		"owner_name":      v.OwnerName,
		"category":        v.Category,
		"address":         v.Address,
		"lat":             v.Location.Lat,
		"lng":             v.Location.Lng,
		"working_hours":   v.WorkingHours,
		"description":     v.Description,
		"payment_methods": slices.Clone(v.PaymentMethods),
		"status":          string(v.Status),
	}
}

func vendorFromRecord(rec *neo4j.Record) (domain.Vendor, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return domain.Vendor{}, err
	}
	return vendorFromProps(node.Props), nil
}

func vendorFromProps(p map[string]any) domain.Vendor {
	return domain.Vendor{
		ID:             intProp(p, "id"),
		UserID:         intProp(p, "user_id"),
		ShopName:       strProp(p, "shop_name"),
		OwnerName:      strProp(p, "owner_name"),
		Category:       strProp(p, "category"),
		Address:        strProp(p, "address"),
		Location:       domain.Location{Lat: floatProp(p, "lat"), Lng: floatProp(p, "lng")},
		WorkingHours:   strProp(p, "working_hours"),
		Description:    strProp(p, "description"),
		PaymentMethods: strListProp(p, "payment_methods"),
		Status:         domain.VendorStatus(strProp(p, "status")),
	}
}

func strProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func intProp(props map[string]any, key string) int {
	switch n := props[key].(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func floatProp(props map[string]any, key string) float64 {
	switch n := props[key].(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func strListProp(props map[string]any, key string) []string {
	out := []string{}
	switch l := props[key].(type) {
	case []any:
		for _, v := range l {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, l...)
	}
	return out
}

// --- Postgres ---

// Schema creates the tables used by the Postgres backend.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id      INTEGER PRIMARY KEY,
	name    TEXT NOT NULL,
	email   TEXT NOT NULL,
	phone   TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	type    TEXT NOT NULL CHECK (type IN ('customer', 'vendor', 'admin'))
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_type ON users (lower(email), type);
CREATE TABLE IF NOT EXISTS vendors (
	id              INTEGER PRIMARY KEY,
	user_id         INTEGER NOT NULL REFERENCES users (id),
	shop_name       TEXT NOT NULL,
	owner_name      TEXT NOT NULL,
	category        TEXT NOT NULL,
	address         TEXT NOT NULL DEFAULT '',
	lat             DOUBLE PRECISION NOT NULL,
	lng             DOUBLE PRECISION NOT NULL,
	working_hours   TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	payment_methods TEXT[] NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected'))
);
CREATE INDEX IF NOT EXISTS vendors_status ON vendors (status);
`

var (
	userColumns   = []string{"id", "name", "email", "phone", "address", "type"}
	vendorColumns = []string{"id", "user_id", "shop_name", "owner_name", "category", "address",
		"lat", "lng", "working_hours", "description", "payment_methods", "status"}
)

// NewPgStores returns Postgres-backed repositories and creates the schema.
func NewPgStores(ctx context.Context, pool *pgxpool.Pool) (Stores, error) {
	users := repo.NewPgRepo[domain.User, int](pool, "users", userColumns, userArgs, scanUser)
	vendors := repo.NewPgRepo[domain.Vendor, int](pool, "vendors", vendorColumns, vendorArgs, scanVendor)
	if err := users.Exec(ctx, Schema); err != nil {
		return Stores{}, fmt.Errorf("market: create schema: %w", err)
	}
	return Stores{Users: users, Vendors: vendors}, nil
}

func userArgs(u domain.User) []any {
	return []any{u.ID, u.Name, u.Email, u.Phone, u.Address, string(u.Type)}
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	var typ string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Address, &typ); err != nil {
		return domain.User{}, err
	}
	u.Type = domain.UserType(typ)
	return u, nil
}

func vendorArgs(v domain.Vendor) []any {
	pm := v.PaymentMethods
	if pm == nil {
		pm = []string{}
	}
	return []any{v.ID, v.UserID, v.ShopName, v.OwnerName, v.Category, v.Address,
		v.Location.Lat, v.Location.Lng, v.WorkingHours, v.Description, pm, string(v.Status)}
}

func scanVendor(row pgx.Row) (domain.Vendor, error) {
	var v domain.Vendor
	var status string
	err := row.Scan(&v.ID, &v.UserID, &v.ShopName, &v.OwnerName, &v.Category, &v.Address,
		&v.Location.Lat, &v.Location.Lng, &v.WorkingHours, &v.Description, &v.PaymentMethods, &status)
	if err != nil {
		return domain.Vendor{}, err
	}
	v.Status = domain.VendorStatus(status)
	return v, nil
}
