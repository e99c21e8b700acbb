// Package sqlxrepos provides the postgres repositories, built on jmoiron/sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/darasahq/darasa/core"
)

// DB adapts *sqlx.DB to core.DB so services can open transactions without
// depending on the SQL engine.
type DB struct {
	*sqlx.DB
}

var _ core.DB = (*DB)(nil)

func NewDB(db *sql.DB, driverName string) *DB {
	return &DB{DB: sqlx.NewDb(db, driverName)}
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.DBTransactor, error) {
	tx, err := db.DB.BeginTxx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx}, nil
}

type Tx struct {
	*sqlx.Tx
}

var _ core.DBTransactor = (*Tx)(nil)

// ext resolves the sqlx executor for a repository call: the transaction it
// rides, or the root handle.
func ext(db *DB, exec []core.DBExecutor) sqlx.ExtContext {
	if len(exec) > 0 {
		if tx, ok := exec[0].(*Tx); ok {
			return tx.Tx
		}
	}
	return db.DB
}
