// Package inmemdb provides in-memory repositories for development and tests.
// A single mutex owned by DB serializes transactions; BeginTx snapshots all
// tables and Rollback restores them, so the finalizer's all-or-nothing unit
// holds here exactly as it does on postgres.
package inmemdb

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/invite"
	"github.com/darasahq/darasa/core/school"
	"github.com/darasahq/darasa/core/user"
)

var errNotSQL = errors.New("inmemdb: raw SQL is not supported")

type tables struct {
	invites  map[string]invite.Invite
	users    map[string]user.User // keyed by UID
	schools  map[string]school.School
	classes  map[string]school.Class
	students map[string]school.Student
}

func newTables() tables {
	return tables{
		invites:  make(map[string]invite.Invite),
		users:    make(map[string]user.User),
		schools:  make(map[string]school.School),
		classes:  make(map[string]school.Class),
		students: make(map[string]school.Student),
	}
}

func (t tables) clone() tables {
	c := newTables()
	for k, v := range t.invites {
		c.invites[k] = v
	}
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.schools {
		c.schools[k] = v
	}
	for k, v := range t.classes {
		c.classes[k] = v
	}
	for k, v := range t.students {
		c.students[k] = v
	}
	return c
}

type DB struct {
	stubExecutor

	mu   sync.Mutex
	data tables
}

var _ core.DB = (*DB)(nil)

func New() *DB {
	return &DB{data: newTables()}
}

// BeginTx acquires the database lock for the lifetime of the transaction and
// snapshots every table; Rollback restores the snapshot.
func (db *DB) BeginTx(_ context.Context, _ *sql.TxOptions) (core.DBTransactor, error) {
	db.mu.Lock()
	return &Tx{db: db, snapshot: db.data.clone()}, nil
}

// Reset wipes every table; tests use it to start from a clean slate.
func (db *DB) Reset() {
	db.mu.Lock()
	db.data = newTables()
	db.mu.Unlock()
}

// lock takes the database lock for a standalone repository call. Calls made
// with an executor run inside a transaction that already holds it.
func (db *DB) lock(exec []core.DBExecutor) func() {
	if len(exec) > 0 {
		return func() {}
	}
	db.mu.Lock()
	return db.mu.Unlock
}

type Tx struct {
	stubExecutor

	db       *DB
	snapshot tables
	done     bool
}

var _ core.DBTransactor = (*Tx)(nil)

func (tx *Tx) Commit() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	tx.db.mu.Unlock()
	return nil
}

func (tx *Tx) Rollback() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	tx.db.data = tx.snapshot
	tx.db.mu.Unlock()
	return nil
}

// stubExecutor satisfies core.DBExecutor for an engine that has no SQL surface.
type stubExecutor struct{}

func (stubExecutor) Exec(string, ...interface{}) (sql.Result, error) { return nil, errNotSQL }
func (stubExecutor) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errNotSQL
}
func (stubExecutor) Query(string, ...interface{}) (*sql.Rows, error) { return nil, errNotSQL }
func (stubExecutor) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errNotSQL
}
func (stubExecutor) QueryRow(string, ...interface{}) *sql.Row                       { return nil }
func (stubExecutor) QueryRowContext(context.Context, string, ...interface{}) *sql.Row { return nil }
