package pgasync

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/augustdb/pgasync/internal/wire"
)

func TestRewriteNamedParamsBasic(t *testing.T) {
	sql, args, err := rewriteNamedParams(
		`SELECT * FROM t WHERE a = $(a)p AND b = $(b)p`,
		map[string]any{"a": 1, "b": "x"},
	)
	if err != nil {
		t.Fatalf("rewriteNamedParams: %v", err)
	}
	want := `SELECT * FROM t WHERE a = $1 AND b = $2`
	if sql != want {
		t.Errorf("sql = %q, want %q", sql, want)
	}
	if len(args) != 2 || args[0] != 1 || args[1] != "x" {
		t.Errorf("args = %v", args)
	}
}

func TestRewriteNamedParamsDeduplicatesRepeatedName(t *testing.T) {
	sql, args, err := rewriteNamedParams(
		`SELECT * FROM t WHERE a = $(a)p OR b = $(a)p`,
		map[string]any{"a": 1},
	)
	if err != nil {
		t.Fatalf("rewriteNamedParams: %v", err)
	}
	want := `SELECT * FROM t WHERE a = $1 OR b = $1`
	if sql != want {
		t.Errorf("sql = %q, want %q", sql, want)
	}
	if len(args) != 1 {
		t.Errorf("args = %v, want one deduplicated value", args)
	}
}

func TestRewriteNamedParamsMissingKeyFails(t *testing.T) {
	_, _, err := rewriteNamedParams(`SELECT $(missing)p`, map[string]any{})
	if _, ok := err.(*ValueEncodeError); !ok {
		t.Fatalf("err = %v (%T), want *ValueEncodeError", err, err)
	}
}

func buildBinaryCopyStream(tuples [][2]int32) []byte {
	buf := append([]byte(nil), binaryCopySignature...)
	buf = append(buf, 0, 0, 0, 0) // flags
	buf = append(buf, 0, 0, 0, 0) // header extension length
	for _, tup := range tuples {
		buf = append(buf, 0, 2) // field count = 2
		for _, v := range tup {
			buf = append(buf, 0, 0, 0, 4) // length 4
			buf = append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
		}
	}
	buf = append(buf, 0xFF, 0xFF) // trailer: -1 field count
	return buf
}

func TestSplitBinaryCopyTuples(t *testing.T) {
	stream := buildBinaryCopyStream([][2]int32{{1, 2}, {3, 4}, {5, 6}})
	tuples, err := splitBinaryCopyTuples(stream)
	if err != nil {
		t.Fatalf("splitBinaryCopyTuples: %v", err)
	}
	if len(tuples) != 3 {
		t.Fatalf("got %d tuples, want 3", len(tuples))
	}
	// Each tuple is 2 (field count) + 2*(4 length + 4 value) = 18 bytes.
	for i, tup := range tuples {
		if len(tup) != 18 {
			t.Errorf("tuple %d length = %d, want 18", i, len(tup))
		}
	}
}

func TestSplitBinaryCopyTuplesRejectsMissingSignature(t *testing.T) {
	_, err := splitBinaryCopyTuples(make([]byte, 30))
	if err == nil {
		t.Error("expected an error for a stream missing the PGCOPY signature")
	}
}

func TestSplitBinaryCopyTuplesHandlesNullField(t *testing.T) {
	buf := append([]byte(nil), binaryCopySignature...)
	buf = append(buf, 0, 0, 0, 0, 0, 0, 0, 0)
	buf = append(buf, 0, 1)             // field count = 1
	buf = append(buf, 0xFF, 0xFF, 0xFF, 0xFF) // length -1: NULL
	buf = append(buf, 0xFF, 0xFF)       // trailer

	tuples, err := splitBinaryCopyTuples(buf)
	if err != nil {
		t.Fatalf("splitBinaryCopyTuples: %v", err)
	}
	if len(tuples) != 1 || len(tuples[0]) != 6 {
		t.Errorf("tuples = %v", tuples)
	}
}

func TestFetchRejectsNonRowStatement(t *testing.T) {
	conn := newFakeExtendedConnection(t, nil)
	_, err := conn.Fetch(context.Background(), "INSERT INTO t VALUES (1)")
	if _, ok := err.(*InterfaceError); !ok {
		t.Fatalf("err = %v (%T), want *InterfaceError", err, err)
	}
}

func TestConcurrentExecuteFailsWithInterfaceError(t *testing.T) {
	conn := newFakeExtendedConnection(t, nil)

	conn.mu.Lock()
	defer conn.mu.Unlock()

	_, err := conn.Execute(context.Background(), "SELECT 1")
	if _, ok := err.(*InterfaceError); !ok {
		t.Fatalf("err = %v (%T), want *InterfaceError", err, err)
	}
}

func TestCancelSendsRequestOnSideChannel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	gotCode := make(chan uint32, 1)
	go func() {
		server, err := ln.Accept()
		if err != nil {
			return
		}
		defer server.Close()
		buf := make([]byte, 16)
		if _, err := io.ReadFull(server, buf); err != nil {
			return
		}
		gotCode <- binary.BigEndian.Uint32(buf[4:8])
	}()

	conn := newFakeExtendedConnection(t, nil)
	conn.cfg = &ConnectConfig{ConnectTimeout: 2 * time.Second}
	conn.addr = ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case code := <-gotCode:
		if code != 80877102 {
			t.Errorf("request code = %d, want the CancelRequest code", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the cancel side-channel request")
	}
}

func TestWrapExecuteErrorClassifiesBusy(t *testing.T) {
	if _, ok := wrapExecuteError(wire.ErrBusy).(*InterfaceError); !ok {
		t.Error("expected wire.ErrBusy to surface as *InterfaceError")
	}
	if _, ok := wrapExecuteError(&wire.PgError{Code: "42601"}).(*ConnectionExecuteError); !ok {
		t.Error("expected a PgError to surface as *ConnectionExecuteError")
	}
	if _, ok := wrapExecuteError(io.ErrUnexpectedEOF).(*ConnectionError); !ok {
		t.Error("expected an I/O error to surface as *ConnectionError")
	}
}
