package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/blnkfinance/courier/internal/apierror"
	"github.com/sirupsen/logrus"
)

type txKey struct{}

// executor is the subset of *sql.DB and *sql.Tx used by the repositories.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxFromContext returns the transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// HasTransaction reports whether ctx carries an open transaction.
func HasTransaction(ctx context.Context) bool {
	_, ok := TxFromContext(ctx)
	return ok
}

// exec returns the transaction carried by ctx or the connection pool.
func (d Datasource) exec(ctx context.Context) executor {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return d.Conn
}

// RunInTransaction runs fn inside the transaction carried by ctx. When ctx has
// none, a new transaction is started, committed when fn returns nil and rolled
// back otherwise.
func (d Datasource) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if HasTransaction(ctx) {
		return fn(ctx)
	}
	return d.runInNewTx(ctx, fn)
}

// RunInNewTransaction always runs fn in a fresh transaction, independent of
// any transaction carried by ctx. Its outcome does not depend on the outer one.
func (d Datasource) RunInNewTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return d.runInNewTx(ctx, fn)
}

func (d Datasource) runInNewTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logrus.Errorf("failed to roll back transaction: %v", rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", fmt.Errorf("commit: %w", err))
	}
	return nil
}
