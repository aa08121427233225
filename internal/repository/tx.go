package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// WithTx returns a context carrying tx. Repository methods in this package
// run their statements against the carried transaction instead of the pool.
func WithTx(ctx context.Context, tx *sqlx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx, ok
}

// ext resolves the statement target for a repository call: the ambient
// transaction when the context carries one, the pool otherwise.
func ext(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return db
}

// TxManager begins database transactions and hands them to repository calls
// through the context, so a service can group an entity write and the weight
// recomputation it triggers into one atomic unit.
type TxManager struct {
	db *sqlx.DB
}

// NewTxManager creates a transaction manager over the given pool.
func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// RunInTx executes fn within a single transaction. Repository calls made with
// the context passed to fn share that transaction, and it commits only when
// fn returns nil. A context that already carries a transaction is joined, not
// nested.
func (m *TxManager) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(WithTx(ctx, tx)); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
