package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
)

// newTxDB returns a *sql.DB whose transactions act on store: Begin takes a
// snapshot and Rollback restores it, so a failed unit of work leaves the
// fakes exactly as they were. No SQL can be executed through it.
func newTxDB(t *testing.T, store *fakeStore) (*sql.DB, *txCounts) {
	t.Helper()
	counts := &txCounts{}
	db := sql.OpenDB(&txConnector{store: store, counts: counts})
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db, counts
}

type txCounts struct {
	begins, commits, rollbacks int
}

type txConnector struct {
	store  *fakeStore
	counts *txCounts
}

func (c *txConnector) Connect(context.Context) (driver.Conn, error) {
	return &txConn{store: c.store, counts: c.counts}, nil
}

func (c *txConnector) Driver() driver.Driver { return txDriver{} }

type txDriver struct{}

func (txDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("txdb: open through the connector")
}

type txConn struct {
	store  *fakeStore
	counts *txCounts
}

func (c *txConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("txdb: statements are not supported")
}

func (c *txConn) Close() error { return nil }

func (c *txConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *txConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.counts.begins++
	return &txSnapshot{conn: c, saved: c.store.snapshot()}, nil
}

type txSnapshot struct {
	conn  *txConn
	saved *fakeStore
}

func (tx *txSnapshot) Commit() error {
	tx.conn.counts.commits++
	return nil
}

func (tx *txSnapshot) Rollback() error {
	tx.conn.counts.rollbacks++
	tx.conn.store.restore(tx.saved)
	return nil
}
