package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type txContextKey string

const (
	txKey       = txContextKey("tx")
	txStatusKey = txContextKey("tx-status")
	txOpen      = "open"
)

// Tx is a transaction that can be carried through a context. A nested
// GetTx call reuses the outer transaction and leaves commit and rollback to
// the caller that opened it.
type Tx interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction wraps sqlx.Tx
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
}

// nestedTx is handed to callers that join an outer transaction
type nestedTx struct {
	Tx
}

func (nestedTx) Commit(context.Context) error   { return nil }
func (nestedTx) Rollback(context.Context) error { return nil }

// GetTx returns the open transaction in ctx, or begins one on db and
// returns a context carrying it.
func GetTx(ctx context.Context, logger ectologger.Logger, db interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}, opts *sql.TxOptions) (context.Context, Tx, error) {
	if existing, ok := ctx.Value(txKey).(Tx); ok && existing != nil && existing.IsOpen() {
		if status, ok := ctx.Value(txStatusKey).(string); ok && status == txOpen {
			return ctx, nestedTx{existing}, nil
		}
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("Error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction: %w", err)
	}

	t := &Transaction{Tx: tx, logger: logger}
	ctx = context.WithValue(ctx, txKey, Tx(t))
	ctx = context.WithValue(ctx, txStatusKey, txOpen)
	return ctx, t, nil
}

// IsOpen reports whether the transaction has not been committed or rolled back
func (t *Transaction) IsOpen() bool {
	return !t.isClosed
}

// Rollback aborts the transaction. It is a no-op after commit, so it is safe to defer.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	if err := t.Tx.Rollback(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Error("Error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction: %w", err)
	}

	t.isClosed = true
	return nil
}

// Commit commits the transaction
func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Error("Error while committing transaction")
		return fmt.Errorf("error while committing transaction: %w", err)
	}

	t.isClosed = true
	return nil
}

// Conn returns the open transaction carried by ctx, or db when there is none
func Conn(ctx context.Context, db DB) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey).(Tx); ok && tx != nil && tx.IsOpen() {
		return tx
	}
	return db
}
