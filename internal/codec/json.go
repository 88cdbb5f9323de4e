package codec

import "encoding/json"

// jsonCodec handles plain JSON; jsonbCodec additionally carries the
// one-byte version prefix PostgreSQL puts on JSONB's wire format.
type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &ValueEncodeError{OID: OIDJSON, Value: v, Msg: "json.Marshal: " + err.Error()}
	}
	return b, nil
}

func (jsonCodec) Decode(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &ValueDecodeError{OID: OIDJSON, Msg: "json.Unmarshal: " + err.Error()}
	}
	return v, nil
}

const jsonbVersion = 1

type jsonbCodec struct{}

// JSONB forces JSONB encoding even when v is a Go slice, disambiguating it
// from the array codec: the wrapper forces encoding even when the
// top-level value is a list.
type JSONB struct{ Value any }

func (jsonbCodec) Encode(v any) ([]byte, error) {
	if wrapped, ok := v.(JSONB); ok {
		v = wrapped.Value
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &ValueEncodeError{OID: OIDJSONB, Value: v, Msg: "json.Marshal: " + err.Error()}
	}
	out := make([]byte, 1+len(b))
	out[0] = jsonbVersion
	copy(out[1:], b)
	return out, nil
}

func (jsonbCodec) Decode(raw []byte) (any, error) {
	if len(raw) < 1 {
		return nil, &ValueDecodeError{OID: OIDJSONB, Msg: "missing version byte"}
	}
	if raw[0] != jsonbVersion {
		return nil, &ValueDecodeError{OID: OIDJSONB, Msg: "unsupported JSONB version byte"}
	}
	var v any
	if err := json.Unmarshal(raw[1:], &v); err != nil {
		return nil, &ValueDecodeError{OID: OIDJSONB, Msg: "json.Unmarshal: " + err.Error()}
	}
	return v, nil
}

func registerJSONCodecs(r *Registry) {
	r.Register(OIDJSON, jsonCodec{})
	r.Register(OIDJSONB, jsonbCodec{})
}
