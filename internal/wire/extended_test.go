package wire

import (
	"encoding/binary"
	"testing"
)

func TestStatementCacheStoreAndLookup(t *testing.T) {
	c := NewStatementCache()
	if _, ok := c.lookup("SELECT $1", []uint32{23}); ok {
		t.Fatal("expected cache miss before any store")
	}

	name := c.nextStatementName("SELECT $1")
	c.store("SELECT $1", []uint32{23}, &preparedStatement{name: name, paramOIDs: []uint32{23}})

	ps, ok := c.lookup("SELECT $1", []uint32{23})
	if !ok {
		t.Fatal("expected cache hit after store")
	}
	if ps.name != name {
		t.Errorf("name = %q, want %q", ps.name, name)
	}
}

func TestStatementCacheDistinguishesParamOIDs(t *testing.T) {
	c := NewStatementCache()
	c.store("SELECT $1", []uint32{23}, &preparedStatement{name: "s1"})
	if _, ok := c.lookup("SELECT $1", []uint32{25}); ok {
		t.Error("expected cache miss for a different parameter OID set")
	}
}

func TestStatementCacheNamesAreUnique(t *testing.T) {
	c := NewStatementCache()
	n1 := c.nextStatementName("SELECT 1")
	n2 := c.nextStatementName("SELECT 1")
	if n1 == n2 {
		t.Errorf("expected distinct names, got %q twice", n1)
	}
}

func TestBuildParseFraming(t *testing.T) {
	msg := buildParse("stmt1", "SELECT $1", []uint32{23})
	if msg[0] != MsgParse {
		t.Fatalf("msg type = %q, want %q", msg[0], MsgParse)
	}
	length := binary.BigEndian.Uint32(msg[1:5])
	if int(length) != len(msg)-1 {
		t.Errorf("length field = %d, want %d", length, len(msg)-1)
	}

	name, rest, ok := splitCString(msg[5:])
	if !ok || name != "stmt1" {
		t.Fatalf("statement name = %q, ok = %v", name, ok)
	}
	sql, rest, ok := splitCString(rest)
	if !ok || sql != "SELECT $1" {
		t.Fatalf("sql = %q, ok = %v", sql, ok)
	}
	if n := beUint16(rest[0:2]); n != 1 {
		t.Errorf("param count = %d, want 1", n)
	}
	if oid := beUint32(rest[2:6]); oid != 23 {
		t.Errorf("param OID = %d, want 23", oid)
	}
}

func TestBuildBindEncodesNullParam(t *testing.T) {
	msg := buildBind("", "stmt1", []int16{1}, [][]byte{nil}, []int16{1})
	if msg[0] != MsgBind {
		t.Fatalf("msg type = %q, want %q", msg[0], MsgBind)
	}
	body := msg[5:]
	_, rest, ok := splitCString(body) // portal
	if !ok {
		t.Fatal("expected portal cstring")
	}
	_, rest, ok = splitCString(rest) // statement
	if !ok {
		t.Fatal("expected statement cstring")
	}
	// param format count (1) + one format code
	if n := beUint16(rest[0:2]); n != 1 {
		t.Fatalf("param format count = %d, want 1", n)
	}
	rest = rest[4:] // skip format count + one format code
	if n := beUint16(rest[0:2]); n != 1 {
		t.Fatalf("param value count = %d, want 1", n)
	}
	length := int32(beUint32(rest[2:6]))
	if length != -1 {
		t.Errorf("null param length = %d, want -1", length)
	}
}

func TestBuildExecuteAndClose(t *testing.T) {
	exec := buildExecute("myportal", 100)
	if exec[0] != MsgExecute {
		t.Fatalf("msg type = %q, want %q", exec[0], MsgExecute)
	}
	name, rest, ok := splitCString(exec[5:])
	if !ok || name != "myportal" {
		t.Fatalf("portal = %q, ok = %v", name, ok)
	}
	if maxRows := beUint32(rest[0:4]); maxRows != 100 {
		t.Errorf("maxRows = %d, want 100", maxRows)
	}

	closeMsg := buildClose('S', "stmt1")
	if closeMsg[0] != MsgClose {
		t.Fatalf("msg type = %q, want %q", closeMsg[0], MsgClose)
	}
	if closeMsg[5] != 'S' {
		t.Errorf("close target = %q, want 'S'", closeMsg[5])
	}
}

func TestBuildSyncHasNoPayload(t *testing.T) {
	msg := buildSync()
	if len(msg) != 5 {
		t.Fatalf("len(msg) = %d, want 5", len(msg))
	}
	if msg[0] != MsgSync {
		t.Errorf("msg type = %q, want %q", msg[0], MsgSync)
	}
}

func TestResolveStatementUnprepared(t *testing.T) {
	e := &Engine{}
	name, needsParse, err := e.resolveStatement(nil, ExtendedQueryRequest{SQL: "SELECT 1", Prepared: false})
	if err != nil {
		t.Fatalf("resolveStatement: %v", err)
	}
	if name != "" || !needsParse {
		t.Errorf("name = %q, needsParse = %v, want \"\", true", name, needsParse)
	}
}

func TestResolveStatementPreparedRequiresCache(t *testing.T) {
	e := &Engine{}
	_, _, err := e.resolveStatement(nil, ExtendedQueryRequest{SQL: "SELECT 1", Prepared: true})
	if err == nil {
		t.Error("expected error when Prepared=true with a nil cache")
	}
}

func TestResolveStatementPreparedCacheHit(t *testing.T) {
	e := &Engine{}
	cache := NewStatementCache()
	cache.store("SELECT 1", nil, &preparedStatement{name: "cached_stmt"})

	name, needsParse, err := e.resolveStatement(cache, ExtendedQueryRequest{SQL: "SELECT 1", Prepared: true})
	if err != nil {
		t.Fatalf("resolveStatement: %v", err)
	}
	if needsParse {
		t.Error("expected needsParse=false on a cache hit")
	}
	if name != "cached_stmt" {
		t.Errorf("name = %q, want cached_stmt", name)
	}
}
