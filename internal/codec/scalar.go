package codec

import (
	"encoding/binary"
	"math"
)

type boolCodec struct{}

func (boolCodec) Encode(v any) ([]byte, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDBool, Value: v, Msg: "want bool"}
	}
	if b {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (boolCodec) Decode(raw []byte) (any, error) {
	if len(raw) != 1 {
		return nil, &ValueDecodeError{OID: OIDBool, Msg: "expected 1 byte"}
	}
	return raw[0] != 0, nil
}

type byteaCodec struct{}

func (byteaCodec) Encode(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDBytea, Value: v, Msg: "want []byte"}
	}
	return b, nil
}

func (byteaCodec) Decode(raw []byte) (any, error) {
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// asInt64 covers every wrapper type that unambiguously disambiguates the
// target width (explicit int8/int16/int32/int64/uint variants alongside
// the plain `int`).
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

type int2Codec struct{}

func (int2Codec) Encode(v any) ([]byte, error) {
	n, ok := asInt64(v)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDInt2, Value: v, Msg: "want an integer"}
	}
	if n < math.MinInt16 || n > math.MaxInt16 {
		return nil, &ValueEncodeError{OID: OIDInt2, Value: v, Msg: "out of int16 range"}
	}
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(int16(n)))
	return buf, nil
}

func (int2Codec) Decode(raw []byte) (any, error) {
	if len(raw) != 2 {
		return nil, &ValueDecodeError{OID: OIDInt2, Msg: "expected 2 bytes"}
	}
	return int16(binary.BigEndian.Uint16(raw)), nil
}

type int4Codec struct{}

func (int4Codec) Encode(v any) ([]byte, error) {
	n, ok := asInt64(v)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDInt4, Value: v, Msg: "want an integer"}
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, &ValueEncodeError{OID: OIDInt4, Value: v, Msg: "out of int32 range"}
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(int32(n)))
	return buf, nil
}

func (int4Codec) Decode(raw []byte) (any, error) {
	if len(raw) != 4 {
		return nil, &ValueDecodeError{OID: OIDInt4, Msg: "expected 4 bytes"}
	}
	return int32(binary.BigEndian.Uint32(raw)), nil
}

type int8Codec struct{}

func (int8Codec) Encode(v any) ([]byte, error) {
	n, ok := asInt64(v)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDInt8, Value: v, Msg: "want an integer"}
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf, nil
}

func (int8Codec) Decode(raw []byte) (any, error) {
	if len(raw) != 8 {
		return nil, &ValueDecodeError{OID: OIDInt8, Msg: "expected 8 bytes"}
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

type float4Codec struct{}

func (float4Codec) Encode(v any) ([]byte, error) {
	var f float32
	switch n := v.(type) {
	case float32:
		f = n
	case float64:
		f = float32(n)
	default:
		return nil, &ValueEncodeError{OID: OIDFloat4, Value: v, Msg: "want float32 or float64"}
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, math.Float32bits(f))
	return buf, nil
}

func (float4Codec) Decode(raw []byte) (any, error) {
	if len(raw) != 4 {
		return nil, &ValueDecodeError{OID: OIDFloat4, Msg: "expected 4 bytes"}
	}
	return math.Float32frombits(binary.BigEndian.Uint32(raw)), nil
}

type float8Codec struct{}

func (float8Codec) Encode(v any) ([]byte, error) {
	var f float64
	switch n := v.(type) {
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		return nil, &ValueEncodeError{OID: OIDFloat8, Value: v, Msg: "want float32 or float64"}
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(f))
	return buf, nil
}

func (float8Codec) Decode(raw []byte) (any, error) {
	if len(raw) != 8 {
		return nil, &ValueDecodeError{OID: OIDFloat8, Msg: "expected 8 bytes"}
	}
	return math.Float64frombits(binary.BigEndian.Uint64(raw)), nil
}

// textCodec handles CHAR/VARCHAR/TEXT/XML/NAME/BPCHAR alike: all of them
// are length-prefixed UTF-8 bytes on the wire with no further structure.
type textCodec struct{ oid OID }

func (c textCodec) Encode(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, &ValueEncodeError{OID: c.oid, Value: v, Msg: "want string"}
	}
	return []byte(s), nil
}

func (textCodec) Decode(raw []byte) (any, error) {
	return string(raw), nil
}

// Money is PostgreSQL's MONEY type: a signed 64-bit integer counting the
// smallest currency unit (e.g. cents).
type Money int64

type moneyCodec struct{}

func (moneyCodec) Encode(v any) ([]byte, error) {
	var cents int64
	switch n := v.(type) {
	case Money:
		cents = int64(n)
	default:
		asInt, ok := asInt64(v)
		if !ok {
			return nil, &ValueEncodeError{OID: OIDMoney, Value: v, Msg: "want codec.Money or an integer"}
		}
		cents = asInt
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(cents))
	return buf, nil
}

func (moneyCodec) Decode(raw []byte) (any, error) {
	if len(raw) != 8 {
		return nil, &ValueDecodeError{OID: OIDMoney, Msg: "expected 8 bytes"}
	}
	return Money(int64(binary.BigEndian.Uint64(raw))), nil
}

func registerScalarCodecs(r *Registry) {
	r.Register(OIDBool, boolCodec{})
	r.Register(OIDBytea, byteaCodec{})
	r.Register(OIDInt2, int2Codec{})
	r.Register(OIDInt4, int4Codec{})
	r.Register(OIDInt8, int8Codec{})
	r.Register(OIDOID, int4Codec{})
	r.Register(OIDFloat4, float4Codec{})
	r.Register(OIDFloat8, float8Codec{})
	r.Register(OIDMoney, moneyCodec{})
	r.Register(OIDChar, textCodec{oid: OIDChar})
	r.Register(OIDName, textCodec{oid: OIDName})
	r.Register(OIDText, textCodec{oid: OIDText})
	r.Register(OIDBpchar, textCodec{oid: OIDBpchar})
	r.Register(OIDVarchar, textCodec{oid: OIDVarchar})
	r.Register(OIDXML, textCodec{oid: OIDXML})
}
