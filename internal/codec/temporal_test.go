package codec

import (
	"testing"
	"time"
)

func TestDateRoundTrip(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	enc, err := (dateCodec{}).Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := (dateCodec{}).Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	gotTime := got.(time.Time)
	if !gotTime.Equal(want) {
		t.Errorf("got %v, want %v", gotTime, want)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	want := time.Date(2024, 3, 15, 13, 45, 30, 123000000, time.UTC)
	enc, err := (timestampCodec{}).Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := (timestampCodec{}).Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	gotTime := got.(time.Time)
	if !gotTime.Equal(want) {
		t.Errorf("got %v, want %v", gotTime, want)
	}
}

func TestTimestampTZPreservesInstantAcrossOffsets(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	want := time.Date(2024, 1, 1, 8, 0, 0, 0, loc) // 13:00 UTC

	enc, err := (timestampCodec{}).Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := (timestampCodec{}).Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	gotTime := got.(time.Time)
	if !gotTime.Equal(want) {
		t.Errorf("instant not preserved: got %v, want %v", gotTime, want)
	}
	if gotTime.Location() != time.UTC {
		t.Errorf("expected decode to normalize to UTC, got %v", gotTime.Location())
	}
}

func TestIntervalRoundTrip(t *testing.T) {
	want := Interval{Microseconds: 1_500_000, Days: 3, Months: 14}
	enc, err := (intervalCodec{}).Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := (intervalCodec{}).Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.(Interval) != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestTimeOfDayRoundTrip(t *testing.T) {
	want := time.Date(2000, 1, 1, 23, 59, 1, 0, time.UTC)
	enc, err := (timeCodec{}).Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := (timeCodec{}).Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	gotTime := got.(time.Time)
	if !gotTime.Equal(want) {
		t.Errorf("got %v, want %v", gotTime, want)
	}
}
