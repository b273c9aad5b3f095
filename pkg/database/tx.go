package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNoScope is returned when a repository or transaction helper runs on a
// context that carries no database scope.
var ErrNoScope = errors.New("no database scope in context")

// TxRunner runs fn inside a transaction or a savepoint of one. Services
// depend on this rather than on *DB so they can be tested without a database.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	WithSavepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ TxRunner = (*DB)(nil)

// WithTx runs fn inside a transaction whose scope is carried on the context
// passed to fn. The transaction commits when fn returns nil and rolls back
// otherwise, including on panic.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	return finish(ctx, tx, fn)
}

// WithSavepoint is the method form of the package-level WithSavepoint.
func (db *DB) WithSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithSavepoint(ctx, fn)
}

// WithSavepoint runs fn in a nested transaction (SAVEPOINT) of the scope
// already on ctx. A failure of fn rolls back only to the savepoint; the
// enclosing transaction stays usable.
func WithSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	scope, ok := GetScope(ctx)
	if !ok {
		return ErrNoScope
	}
	sp, err := scope.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	return finish(ctx, sp, fn)
}

func finish(ctx context.Context, tx pgx.Tx, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err = fn(SetScope(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
