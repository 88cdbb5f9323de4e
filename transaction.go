package pgasync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// IsolationLevel is the BEGIN ISOLATION LEVEL clause.
type IsolationLevel int

const (
	IsolationDefault IsolationLevel = iota
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

func (l IsolationLevel) clause() string {
	switch l {
	case IsolationReadCommitted:
		return "READ COMMITTED"
	case IsolationRepeatableRead:
		return "REPEATABLE READ"
	case IsolationSerializable:
		return "SERIALIZABLE"
	default:
		return ""
	}
}

// ReadVariant is the READ ONLY / READ WRITE clause.
type ReadVariant int

const (
	ReadVariantDefault ReadVariant = iota
	ReadOnly
	ReadWrite
)

// TxOptions configures a Transaction's BEGIN statement.
type TxOptions struct {
	Isolation   IsolationLevel
	ReadVariant ReadVariant
	Deferrable  bool
}

// Transaction wraps BEGIN/COMMIT/ROLLBACK and nested savepoints over one
// Connection. begin() runs once, from Connection.Transaction; a second
// begin() on the same Transaction fails and does not create a savepoint.
// Savepoints are created with CreateSavepoint.
type Transaction struct {
	mu sync.Mutex

	conn    *Connection
	opts    TxOptions
	started bool
	closed  bool
	begunAt time.Time

	savepoints []string
	seq        int

	cursors []*Cursor
}

// Transaction issues BEGIN on c and returns the new top-level Transaction.
// Every call begins a top-level transaction; it never creates a savepoint
// (see CreateSavepoint for that).
func (c *Connection) Transaction(ctx context.Context, opts TxOptions) (*Transaction, error) {
	tx := &Transaction{conn: c, opts: opts}
	if err := tx.begin(ctx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (tx *Transaction) begin(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.started {
		return newTransactionClosedError("begin() called twice on the same Transaction")
	}

	stmt := "BEGIN"
	if clause := tx.opts.Isolation.clause(); clause != "" {
		stmt += " ISOLATION LEVEL " + clause
	}
	switch tx.opts.ReadVariant {
	case ReadOnly:
		stmt += " READ ONLY"
	case ReadWrite:
		stmt += " READ WRITE"
	}
	if tx.opts.Deferrable {
		stmt += " DEFERRABLE"
	}

	if _, err := tx.conn.Execute(ctx, stmt); err != nil {
		return newTransactionBeginError("BEGIN failed", err)
	}
	tx.started = true
	tx.begunAt = time.Now()
	return nil
}

// Execute runs sql against tx's Connection. Failing inside a transaction
// leaves the Connection InFailedTransaction; only ROLLBACK / ROLLBACK TO
// SAVEPOINT are accepted after that.
func (tx *Transaction) Execute(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	tx.mu.Lock()
	closed := tx.closed
	tx.mu.Unlock()
	if closed {
		return nil, newTransactionClosedError("transaction is closed")
	}
	return tx.conn.Execute(ctx, sql, args...)
}

// Fetch is Transaction.Execute asserting a row-returning statement.
func (tx *Transaction) Fetch(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	tx.mu.Lock()
	closed := tx.closed
	tx.mu.Unlock()
	if closed {
		return nil, newTransactionClosedError("transaction is closed")
	}
	return tx.conn.Fetch(ctx, sql, args...)
}

// Commit issues COMMIT and closes the Transaction (and any open Cursors).
func (tx *Transaction) Commit(ctx context.Context) error {
	return tx.terminate(ctx, "COMMIT", "commit() called before begin()")
}

// Rollback issues ROLLBACK and closes the Transaction (and any open Cursors).
func (tx *Transaction) Rollback(ctx context.Context) error {
	return tx.terminate(ctx, "ROLLBACK", "rollback() called before begin()")
}

// terminate marks the Transaction closed, invalidates its cursors, and
// issues the terminal statement. tx.mu is released before any cursor lock
// or server round trip is taken, so a concurrent cursor fetch can never
// deadlock against termination.
func (tx *Transaction) terminate(ctx context.Context, stmt, notStartedMsg string) error {
	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		return newTransactionClosedError("transaction already closed")
	}
	if !tx.started {
		tx.mu.Unlock()
		return newTransactionClosedError(notStartedMsg)
	}
	tx.closed = true
	cursors := tx.cursors
	tx.cursors = nil
	begunAt := tx.begunAt
	tx.mu.Unlock()

	for _, cur := range cursors {
		cur.invalidate()
	}
	if pool := tx.conn.pool; pool != nil && !begunAt.IsZero() {
		pool.mu.Lock()
		m := pool.metrics
		pool.mu.Unlock()
		if m != nil {
			m.ObserveTransaction(time.Since(begunAt))
		}
	}

	if _, err := tx.conn.Execute(ctx, stmt); err != nil {
		return newTransactionExecuteError(stmt+" failed", err)
	}
	return nil
}

func savepointIdent(name string) string {
	return strings.ReplaceAll(name, `"`, `""`)
}

// CreateSavepoint declares name as a savepoint. Re-issuing a name already
// on the stack implicitly releases and re-declares it rather than
// erroring, so a caller retrying after a partial failure doesn't need to
// track whether the savepoint already exists.
func (tx *Transaction) CreateSavepoint(ctx context.Context, name string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return newTransactionClosedError("transaction is closed")
	}

	for i, sp := range tx.savepoints {
		if sp == name {
			if _, err := tx.conn.Execute(ctx, fmt.Sprintf(`RELEASE SAVEPOINT "%s"`, savepointIdent(name))); err != nil {
				return newTransactionSavepointError(fmt.Sprintf("releasing existing savepoint %q before re-declaring", name))
			}
			tx.savepoints = append(tx.savepoints[:i], tx.savepoints[i+1:]...)
			break
		}
	}

	if _, err := tx.conn.Execute(ctx, fmt.Sprintf(`SAVEPOINT "%s"`, savepointIdent(name))); err != nil {
		return newTransactionSavepointError(fmt.Sprintf("creating savepoint %q", name))
	}
	tx.savepoints = append(tx.savepoints, name)
	return nil
}

// RollbackSavepoint rolls back to name, which must be on the stack.
func (tx *Transaction) RollbackSavepoint(ctx context.Context, name string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return newTransactionClosedError("transaction is closed")
	}
	if !tx.hasSavepoint(name) {
		return newTransactionSavepointError(fmt.Sprintf("no savepoint named %q", name))
	}
	if _, err := tx.conn.Execute(ctx, fmt.Sprintf(`ROLLBACK TO SAVEPOINT "%s"`, savepointIdent(name))); err != nil {
		return newTransactionSavepointError(fmt.Sprintf("rolling back to savepoint %q", name))
	}
	return nil
}

// ReleaseSavepoint pops name off the stack.
func (tx *Transaction) ReleaseSavepoint(ctx context.Context, name string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return newTransactionClosedError("transaction is closed")
	}
	for i, sp := range tx.savepoints {
		if sp == name {
			if _, err := tx.conn.Execute(ctx, fmt.Sprintf(`RELEASE SAVEPOINT "%s"`, savepointIdent(name))); err != nil {
				return newTransactionSavepointError(fmt.Sprintf("releasing savepoint %q", name))
			}
			tx.savepoints = append(tx.savepoints[:i], tx.savepoints[i+1:]...)
			return nil
		}
	}
	return newTransactionSavepointError(fmt.Sprintf("no savepoint named %q", name))
}

func (tx *Transaction) hasSavepoint(name string) bool {
	for _, sp := range tx.savepoints {
		if sp == name {
			return true
		}
	}
	return false
}

// Cursor declares a server-side cursor over sql, valid only while tx is
// active.
func (tx *Transaction) Cursor(ctx context.Context, sql string, fetchSize int, args ...any) (*Cursor, error) {
	tx.mu.Lock()
	if tx.closed {
		tx.mu.Unlock()
		return nil, newTransactionClosedError("transaction is closed")
	}
	tx.seq++
	name := fmt.Sprintf("pgasync_cursor_%d", tx.seq)
	tx.mu.Unlock()

	if fetchSize <= 0 {
		fetchSize = 100
	}
	cur := &Cursor{tx: tx, name: name, sql: sql, fetchSize: fetchSize, args: args, position: cursorBeforeFirst}

	tx.mu.Lock()
	tx.cursors = append(tx.cursors, cur)
	tx.mu.Unlock()
	return cur, nil
}
