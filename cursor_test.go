package pgasync

import (
	"context"
	"testing"
)

func newFakeCursor(t *testing.T, row *fakeExtendedRow) (*Transaction, *Cursor) {
	t.Helper()
	conn := newFakeExtendedConnection(t, row)
	tx, err := conn.Transaction(context.Background(), TxOptions{})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	cur, err := tx.Cursor(context.Background(), "SELECT * FROM t", 10)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	return tx, cur
}

func TestCursorFetchNextAdvancesPosition(t *testing.T) {
	_, cur := newFakeCursor(t, &fakeExtendedRow{column: "n", oid: 25, value: []byte("1")})

	res, err := cur.FetchNext(context.Background())
	if err != nil {
		t.Fatalf("FetchNext: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(res.Rows))
	}
	if cur.position != cursorAtRow {
		t.Errorf("position = %v, want cursorAtRow", cur.position)
	}
}

func TestCursorFetchNextEmptyMovesAfterLast(t *testing.T) {
	_, cur := newFakeCursor(t, &fakeExtendedRow{column: "n", oid: 25, noRows: true})

	res, err := cur.FetchNext(context.Background())
	if err != nil {
		t.Fatalf("FetchNext: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Fatalf("got %d rows, want 0", len(res.Rows))
	}
	if cur.position != cursorAfterLast {
		t.Errorf("position = %v, want cursorAfterLast", cur.position)
	}
}

func TestCursorNextReportsExhaustion(t *testing.T) {
	_, cur := newFakeCursor(t, &fakeExtendedRow{column: "n", oid: 25, noRows: true})

	_, ok, err := cur.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ok {
		t.Error("Next should report ok=false on an empty fetch")
	}
}

func TestCursorCloseBeforeDeclareIsNoOp(t *testing.T) {
	_, cur := newFakeCursor(t, nil)
	if err := cur.Close(context.Background()); err != nil {
		t.Fatalf("Close before any fetch: %v", err)
	}
}

func TestCursorInvalidatedRejectsFurtherFetch(t *testing.T) {
	tx, cur := newFakeCursor(t, &fakeExtendedRow{column: "n", oid: 25, value: []byte("1")})

	if _, err := cur.FetchNext(context.Background()); err != nil {
		t.Fatalf("FetchNext: %v", err)
	}
	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, err := cur.FetchNext(context.Background()); err == nil {
		t.Error("expected FetchNext to fail after the owning transaction rolled back")
	}
}
