package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// NoTX is passed where a method runs outside any transaction.
var NoTX Tx

// TransactionManager executes a function inside a database transaction,
// passing the transaction handle via tx. Keeps use-case interfaces clean of
// driver types: repositories accept a Tx and resolve it implementation-side,
// gracefully falling back to the pool when tx is nil.
//
// A stage transition and the resulting job progress/status recomputation
// always share one transaction; they commit together or not at all.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
