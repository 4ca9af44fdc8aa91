package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TxManager то, что нужно репозиториям от Postgres.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctxTx context.Context, tx pgx.Tx) error) error
	Conn() Transaction
	Close()
}

// Transaction общий набор методов пула и pgx.Tx.
type Transaction interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ TxManager   = (*PgTxManager)(nil)
	_ Transaction = (pgx.Tx)(nil)
)
