package pgasync

import (
	"context"
	"fmt"
	"sync"
)

type cursorPosition int

const (
	cursorBeforeFirst cursorPosition = iota
	cursorAtRow
	cursorAfterLast
)

// Cursor navigates a server-side DECLARE CURSOR over its owning
// Transaction. Declared lazily on first navigation call; invalidated
// when the Transaction terminates.
type Cursor struct {
	mu sync.Mutex

	tx        *Transaction
	name      string
	sql       string
	fetchSize int
	args      []any

	declared bool
	invalid  bool
	position cursorPosition
	row      int64
}

func (cur *Cursor) invalidate() {
	cur.mu.Lock()
	cur.invalid = true
	cur.mu.Unlock()
}

func (cur *Cursor) ensureDeclared(ctx context.Context) error {
	if cur.invalid {
		return newCursorClosedError("cursor's transaction has terminated")
	}
	if cur.declared {
		return nil
	}
	stmt := fmt.Sprintf(`DECLARE "%s" SCROLL CURSOR FOR %s`, savepointIdent(cur.name), cur.sql)
	if _, err := cur.tx.Execute(ctx, stmt, cur.args...); err != nil {
		return newCursorError("declaring cursor", err)
	}
	cur.declared = true
	return nil
}

func (cur *Cursor) move(ctx context.Context, clause string) (*QueryResult, error) {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	if err := cur.ensureDeclared(ctx); err != nil {
		return nil, err
	}
	res, err := cur.tx.Fetch(ctx, fmt.Sprintf(`FETCH %s FROM "%s"`, clause, savepointIdent(cur.name)))
	if err != nil {
		return nil, newCursorError("fetching from cursor", err)
	}
	n := int64(len(res.Rows))
	switch {
	case n == 0:
		cur.position = cursorAfterLast
	default:
		cur.position = cursorAtRow
		cur.row += n
	}
	return res, nil
}

// Fetch fetches up to n rows forward from the current position.
func (cur *Cursor) Fetch(ctx context.Context, n int) (*QueryResult, error) {
	return cur.move(ctx, fmt.Sprintf("%d", n))
}

// FetchNext fetches the default fetch-size batch forward.
func (cur *Cursor) FetchNext(ctx context.Context) (*QueryResult, error) {
	return cur.Fetch(ctx, cur.fetchSize)
}

// FetchPrior fetches one row backward.
func (cur *Cursor) FetchPrior(ctx context.Context) (*QueryResult, error) {
	return cur.move(ctx, "PRIOR")
}

// FetchFirst fetches the first row.
func (cur *Cursor) FetchFirst(ctx context.Context) (*QueryResult, error) {
	return cur.move(ctx, "FIRST")
}

// FetchLast fetches the last row.
func (cur *Cursor) FetchLast(ctx context.Context) (*QueryResult, error) {
	return cur.move(ctx, "LAST")
}

// FetchAbsolute fetches the row at absolute position k; per PostgreSQL
// semantics a negative k counts from the end.
func (cur *Cursor) FetchAbsolute(ctx context.Context, k int64) (*QueryResult, error) {
	return cur.move(ctx, fmt.Sprintf("ABSOLUTE %d", k))
}

// FetchRelative fetches the row k positions from the current one.
func (cur *Cursor) FetchRelative(ctx context.Context, k int64) (*QueryResult, error) {
	return cur.move(ctx, fmt.Sprintf("RELATIVE %d", k))
}

// FetchForwardAll fetches every remaining row forward.
func (cur *Cursor) FetchForwardAll(ctx context.Context) (*QueryResult, error) {
	return cur.move(ctx, "FORWARD ALL")
}

// FetchBackward fetches up to n rows backward.
func (cur *Cursor) FetchBackward(ctx context.Context, n int) (*QueryResult, error) {
	return cur.move(ctx, fmt.Sprintf("BACKWARD %d", n))
}

// FetchBackwardAll fetches every remaining row backward.
func (cur *Cursor) FetchBackwardAll(ctx context.Context) (*QueryResult, error) {
	return cur.move(ctx, "BACKWARD ALL")
}

// Close issues CLOSE on the server-side portal. A no-op if the cursor was
// never declared or the owning Transaction already invalidated it.
func (cur *Cursor) Close(ctx context.Context) error {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	if cur.invalid || !cur.declared {
		return nil
	}
	_, err := cur.tx.Execute(ctx, fmt.Sprintf(`CLOSE "%s"`, savepointIdent(cur.name)))
	cur.invalid = true
	if err != nil {
		return newCursorError("closing cursor", err)
	}
	return nil
}

// Next implements the default async-iteration protocol: it returns the
// fixed-size batch for the current step, and ok=false once a fetch yields
// zero rows.
func (cur *Cursor) Next(ctx context.Context) (res *QueryResult, ok bool, err error) {
	res, err = cur.FetchNext(ctx)
	if err != nil {
		return nil, false, err
	}
	return res, len(res.Rows) > 0, nil
}
