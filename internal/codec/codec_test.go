package codec

import "testing"

func TestScalarRoundTrips(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		oid OID
		in  any
	}{
		{OIDBool, true},
		{OIDBool, false},
		{OIDInt2, int16(-1234)},
		{OIDInt4, 42},
		{OIDInt8, int64(9007199254740993)},
		{OIDFloat4, float32(3.5)},
		{OIDFloat8, 2.71828},
		{OIDText, "hello, world"},
		{OIDBytea, []byte{0x00, 0xFF, 0x10}},
		{OIDMoney, Money(12345)},
	}

	for _, c := range cases {
		enc, err := r.Encode(c.oid, c.in)
		if err != nil {
			t.Fatalf("Encode(%v): %v", c.in, err)
		}
		dec, err := r.Decode(c.oid, enc, nil)
		if err != nil {
			t.Fatalf("Decode(%v): %v", c.in, err)
		}

		switch want := c.in.(type) {
		case []byte:
			got, ok := dec.([]byte)
			if !ok || string(got) != string(want) {
				t.Errorf("got %v, want %v", dec, want)
			}
		case int:
			if got, ok := dec.(int32); !ok || int(got) != want {
				t.Errorf("got %v, want %v", dec, want)
			}
		default:
			if dec != c.in {
				t.Errorf("got %v (%T), want %v (%T)", dec, dec, c.in, c.in)
			}
		}
	}
}

func TestEncodeUnknownOID(t *testing.T) {
	r := NewRegistry()
	_, err := r.Encode(999999, "x")
	if _, ok := err.(*UnknownOidError); !ok {
		t.Fatalf("err = %v (%T), want *UnknownOidError", err, err)
	}
}

func TestEncodeWrongGoType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Encode(OIDBool, "not a bool")
	if _, ok := err.(*ValueEncodeError); !ok {
		t.Fatalf("err = %v (%T), want *ValueEncodeError", err, err)
	}
}

func TestDecodeWithCustomOverride(t *testing.T) {
	r := NewRegistry()
	enc, err := r.Encode(OIDInt4, 7)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	override := func(raw []byte) (any, error) { return "overridden", nil }
	dec, err := r.Decode(OIDInt4, enc, override)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec != "overridden" {
		t.Errorf("dec = %v, want overridden", dec)
	}
}

func TestInt2RangeValidation(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Encode(OIDInt2, 70000); err == nil {
		t.Error("expected a range error for an out-of-range int16")
	}
}

func TestUUIDDecodesToCanonicalLowercaseString(t *testing.T) {
	r := NewRegistry()
	enc, err := r.Encode(OIDUUID, "A0EEBC99-9C0B-4EF8-BB6D-6BB9BD380A11")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := r.Decode(OIDUUID, enc, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec != "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11" {
		t.Errorf("dec = %v, want the lowercase canonical form", dec)
	}
}

func TestJSONBForcesObjectEncoding(t *testing.T) {
	r := NewRegistry()
	enc, err := r.Encode(OIDJSONB, JSONB{Value: []any{1, 2, 3}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if enc[0] != jsonbVersion {
		t.Errorf("missing JSONB version byte")
	}
	dec, err := r.Decode(OIDJSONB, enc, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	arr, ok := dec.([]any)
	if !ok || len(arr) != 3 {
		t.Errorf("dec = %v, want a 3-element array", dec)
	}
}
