package wire

import (
	"bytes"
	"testing"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, MsgQuery, []byte("SELECT 1")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	msgType, payload, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != MsgQuery {
		t.Errorf("msgType = %q, want %q", msgType, MsgQuery)
	}
	if string(payload) != "SELECT 1" {
		t.Errorf("payload = %q, want %q", payload, "SELECT 1")
	}
}

func TestReadMessageEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, MsgSync, nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	msgType, payload, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != MsgSync {
		t.Errorf("msgType = %q, want %q", msgType, MsgSync)
	}
	if len(payload) != 0 {
		t.Errorf("payload = %v, want empty", payload)
	}
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte('E')
	lenBuf := []byte{0x7F, 0xFF, 0xFF, 0xFF} // absurd length
	buf.Write(lenBuf)

	if _, _, err := ReadMessage(&buf); err == nil {
		t.Error("expected error for oversized message length, got nil")
	}
}

func TestWriteUntypedMessage(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0x00, 0x03, 0x00, 0x00}
	if err := WriteUntypedMessage(&buf, payload); err != nil {
		t.Fatalf("WriteUntypedMessage: %v", err)
	}
	if buf.Len() != 4+len(payload) {
		t.Errorf("buf.Len() = %d, want %d", buf.Len(), 4+len(payload))
	}
}

func TestCStringRoundTrip(t *testing.T) {
	buf := cstring(nil, "hello")
	s, rest, ok := splitCString(buf)
	if !ok {
		t.Fatal("splitCString returned ok=false")
	}
	if s != "hello" {
		t.Errorf("s = %q, want %q", s, "hello")
	}
	if len(rest) != 0 {
		t.Errorf("rest = %v, want empty", rest)
	}
}

func TestSplitCStringMultiple(t *testing.T) {
	var buf []byte
	buf = cstring(buf, "user")
	buf = cstring(buf, "alice")

	first, rest, ok := splitCString(buf)
	if !ok || first != "user" {
		t.Fatalf("first = %q, ok = %v", first, ok)
	}
	second, rest, ok := splitCString(rest)
	if !ok || second != "alice" {
		t.Fatalf("second = %q, ok = %v", second, ok)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %v, want empty", rest)
	}
}

func TestSplitCStringNoTerminator(t *testing.T) {
	_, _, ok := splitCString([]byte("no terminator"))
	if ok {
		t.Error("expected ok=false for data with no NUL terminator")
	}
}
