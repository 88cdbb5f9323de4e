package codec

import (
	"encoding/binary"
	"time"
)

// pgEpoch is the zero point of every PostgreSQL binary date/time format:
// 2000-01-01, in contrast to the Unix epoch.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

const microsPerDay = int64(24 * 60 * 60 * 1_000_000)

// Interval is PostgreSQL's INTERVAL type: months and days are kept apart
// from microseconds because calendar arithmetic (a month, a day) is not a
// fixed duration.
type Interval struct {
	Microseconds int64
	Days         int32
	Months       int32
}

type dateCodec struct{}

func (dateCodec) Encode(v any) ([]byte, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDDate, Value: v, Msg: "want time.Time"}
	}
	days := int32(t.UTC().Sub(pgEpoch).Hours() / 24)
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(days))
	return buf, nil
}

func (dateCodec) Decode(raw []byte) (any, error) {
	if len(raw) != 4 {
		return nil, &ValueDecodeError{OID: OIDDate, Msg: "expected 4 bytes"}
	}
	days := int32(binary.BigEndian.Uint32(raw))
	return pgEpoch.AddDate(0, 0, int(days)), nil
}

type timeCodec struct{}

func (timeCodec) Encode(v any) ([]byte, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDTime, Value: v, Msg: "want time.Time"}
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	micros := t.Sub(midnight).Microseconds()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(micros))
	return buf, nil
}

func (timeCodec) Decode(raw []byte) (any, error) {
	if len(raw) != 8 {
		return nil, &ValueDecodeError{OID: OIDTime, Msg: "expected 8 bytes"}
	}
	micros := int64(binary.BigEndian.Uint64(raw))
	return pgEpoch.Add(time.Duration(micros) * time.Microsecond), nil
}

// timestampCodec handles both TIMESTAMP and TIMESTAMPTZ: the wire format is
// identical (microseconds since 2000-01-01 UTC); only the OID registered
// against differs, and TIMESTAMPTZ always decodes in UTC, preserving the
// offset carried on the wire.
type timestampCodec struct{}

func (timestampCodec) Encode(v any) ([]byte, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDTimestamp, Value: v, Msg: "want time.Time"}
	}
	micros := t.UTC().Sub(pgEpoch).Microseconds()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(micros))
	return buf, nil
}

func (timestampCodec) Decode(raw []byte) (any, error) {
	if len(raw) != 8 {
		return nil, &ValueDecodeError{OID: OIDTimestamp, Msg: "expected 8 bytes"}
	}
	micros := int64(binary.BigEndian.Uint64(raw))
	return pgEpoch.Add(time.Duration(micros) * time.Microsecond), nil
}

type intervalCodec struct{}

func (intervalCodec) Encode(v any) ([]byte, error) {
	iv, ok := v.(Interval)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDInterval, Value: v, Msg: "want codec.Interval"}
	}
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(iv.Microseconds))
	binary.BigEndian.PutUint32(buf[8:12], uint32(iv.Days))
	binary.BigEndian.PutUint32(buf[12:16], uint32(iv.Months))
	return buf, nil
}

func (intervalCodec) Decode(raw []byte) (any, error) {
	if len(raw) != 16 {
		return nil, &ValueDecodeError{OID: OIDInterval, Msg: "expected 16 bytes"}
	}
	return Interval{
		Microseconds: int64(binary.BigEndian.Uint64(raw[0:8])),
		Days:         int32(binary.BigEndian.Uint32(raw[8:12])),
		Months:       int32(binary.BigEndian.Uint32(raw[12:16])),
	}, nil
}

func registerTemporalCodecs(r *Registry) {
	r.Register(OIDDate, dateCodec{})
	r.Register(OIDTime, timeCodec{})
	r.Register(OIDTimestamp, timestampCodec{})
	r.Register(OIDTimestampTZ, timestampCodec{})
	r.Register(OIDInterval, intervalCodec{})
}
