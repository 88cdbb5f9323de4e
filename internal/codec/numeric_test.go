package codec

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNumericRoundTrip(t *testing.T) {
	cases := []string{
		"0",
		"1",
		"-1",
		"123.456",
		"-123.456",
		"100000",
		"0.0001",
		"99999999999999.99999999",
		"-0.5",
	}

	for _, s := range cases {
		d, err := decimal.NewFromString(s)
		if err != nil {
			t.Fatalf("decimal.NewFromString(%q): %v", s, err)
		}

		raw := encodeNumeric(d)
		got, err := numericCodec{}.Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%q): %v", s, err)
		}
		gotDec, ok := got.(decimal.Decimal)
		if !ok {
			t.Fatalf("Decode(%q) returned %T, want decimal.Decimal", s, got)
		}
		if !gotDec.Equal(d) {
			t.Errorf("round trip %q: got %s, want %s", s, gotDec.String(), d.String())
		}
	}
}

func TestNumericZero(t *testing.T) {
	d := decimal.NewFromInt(0)
	raw := encodeNumeric(d)
	got, err := numericCodec{}.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.(decimal.Decimal).IsZero() {
		t.Errorf("got %v, want zero", got)
	}
}

func TestNumericNaNRejectedOnDecode(t *testing.T) {
	raw := packNumeric(nil, 0, numericNaNSign, 0)
	if _, err := (numericCodec{}).Decode(raw); err == nil {
		t.Error("expected an error decoding a NaN numeric")
	}
}
