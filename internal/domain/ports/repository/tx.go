package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle passed through repository calls. The
// concrete type is infra-defined (pgx.Tx for Postgres). Repositories MUST
// accept a nil handle and fall back to their non-transactional path.
type Tx interface{}

// NoTX marks call sites that intentionally run outside a transaction.
var NoTX Tx

// TransactionManager executes a function within a database transaction,
// passing the underlying handle via tx. It keeps use-case interfaces free of
// storage types while letting repositories share one transaction.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
