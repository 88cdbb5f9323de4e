package pgasync

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/augustdb/pgasync/internal/codec"
)

// ParamValue is a tagged sum type disambiguating the OID a bound query
// parameter should take when the Go static type alone is ambiguous (a
// literal 42 could be INT2, INT4, or INT8). Auto is the common case: its
// OID is inferred from the Go value's runtime type the same way a bare
// value argument is.
type ParamValue struct {
	oid     codec.OID
	value   any
	isNull  bool
	inferOK bool
}

// Auto wraps v for OID inference from its Go runtime type.
func Auto(v any) ParamValue { return ParamValue{value: v, inferOK: true} }

// SmallInt pins v to INT2.
func SmallInt(v int16) ParamValue { return ParamValue{oid: codec.OIDInt2, value: v} }

// Integer pins v to INT4.
func Integer(v int32) ParamValue { return ParamValue{oid: codec.OIDInt4, value: v} }

// BigInt pins v to INT8.
func BigInt(v int64) ParamValue { return ParamValue{oid: codec.OIDInt8, value: v} }

// Float32Value pins v to FLOAT4.
func Float32Value(v float32) ParamValue { return ParamValue{oid: codec.OIDFloat4, value: v} }

// Float64Value pins v to FLOAT8.
func Float64Value(v float64) ParamValue { return ParamValue{oid: codec.OIDFloat8, value: v} }

// MoneyValue pins v (in cents) to MONEY.
func MoneyValue(cents int64) ParamValue { return ParamValue{oid: codec.OIDMoney, value: codec.Money(cents)} }

// CustomOID binds raw pre-encoded wire bytes against an explicit OID,
// bypassing the codec registry entirely. Used for types the registry does
// not know about.
func CustomOID(oid uint32, raw []byte) ParamValue {
	return ParamValue{oid: codec.OID(oid), value: raw, isNull: raw == nil}
}

// JSONBValue forces v to be encoded as JSONB even when v is a list, which
// would otherwise be ambiguous with an array column.
func JSONBValue(v any) ParamValue {
	return ParamValue{oid: codec.OIDJSONB, value: codec.JSONB{Value: v}}
}

// Null binds an explicit SQL NULL against the given OID.
func Null(oid uint32) ParamValue { return ParamValue{oid: codec.OID(oid), isNull: true} }

// resolveParam turns any accepted parameter shape (a bare Go value or an
// explicit ParamValue) into a ParamValue, defaulting bare values to Auto.
func resolveParam(v any) ParamValue {
	if pv, ok := v.(ParamValue); ok {
		return pv
	}
	if pv, ok := v.(*ParamValue); ok && pv != nil {
		return *pv
	}
	return Auto(v)
}

// encode resolves this ParamValue's OID (inferring one from the Go value
// when tagged Auto) and its wire bytes, returning the OID and the bytes
// (nil bytes for SQL NULL).
func (p ParamValue) encode(reg *codec.Registry) (codec.OID, []byte, error) {
	if p.isNull {
		return p.oid, nil, nil
	}
	if raw, ok := p.value.([]byte); ok && p.oid != 0 && p.oid != codec.OIDBytea {
		// CustomOID: bytes are already wire-ready.
		return p.oid, raw, nil
	}
	oid := p.oid
	if p.inferOK {
		inferred, err := inferOID(p.value)
		if err != nil {
			return 0, nil, err
		}
		oid = inferred
	}
	raw, err := reg.Encode(oid, p.value)
	if err != nil {
		return 0, nil, err
	}
	return oid, raw, nil
}

// inferOID maps a bare Go value's runtime type to its canonical OID for
// the Auto parameter tag.
func inferOID(v any) (codec.OID, error) {
	switch v.(type) {
	case bool:
		return codec.OIDBool, nil
	case int16:
		return codec.OIDInt2, nil
	case int32, int:
		return codec.OIDInt4, nil
	case int64:
		return codec.OIDInt8, nil
	case float32:
		return codec.OIDFloat4, nil
	case float64:
		return codec.OIDFloat8, nil
	case string:
		return codec.OIDText, nil
	case []byte:
		return codec.OIDBytea, nil
	case time.Time:
		return codec.OIDTimestampTZ, nil
	case decimal.Decimal, *decimal.Decimal:
		return codec.OIDNumeric, nil
	case uuid.UUID:
		return codec.OIDUUID, nil
	default:
		return 0, newValueEncodeError("cannot infer an OID for this Go type; use an explicit ParamValue", nil)
	}
}
