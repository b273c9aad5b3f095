package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Scope is what repositories run statements against: the pool itself or an
// open transaction. Both *pgxpool.Pool and pgx.Tx satisfy it.
type Scope interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type contextKey string

const scopeKey contextKey = "dbScope"

// GetScope retrieves the database scope from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeKey).(Scope)
	return scope, ok && scope != nil
}

// SetScope stores a database scope in context.
func SetScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// WithScope returns a context whose repository calls run directly on the pool,
// each statement in its own implicit transaction.
func (db *DB) WithScope(ctx context.Context) context.Context {
	return SetScope(ctx, db.Pool)
}
