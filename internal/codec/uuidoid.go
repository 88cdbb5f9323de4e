package codec

import "github.com/google/uuid"

type uuidCodec struct{}

func (uuidCodec) Encode(v any) ([]byte, error) {
	switch u := v.(type) {
	case uuid.UUID:
		b := u
		return b[:], nil
	case string:
		parsed, err := uuid.Parse(u)
		if err != nil {
			return nil, &ValueEncodeError{OID: OIDUUID, Value: v, Msg: "invalid UUID string: " + err.Error()}
		}
		return parsed[:], nil
	case [16]byte:
		return u[:], nil
	default:
		return nil, &ValueEncodeError{OID: OIDUUID, Value: v, Msg: "want uuid.UUID, string, or [16]byte"}
	}
}

// Decode returns the canonical lowercase string form, so a round-tripped
// uppercase UUID string comes back normalized.
func (uuidCodec) Decode(raw []byte) (any, error) {
	if len(raw) != 16 {
		return nil, &ValueDecodeError{OID: OIDUUID, Msg: "expected 16 bytes"}
	}
	var u uuid.UUID
	copy(u[:], raw)
	return u.String(), nil
}

func registerUUIDCodec(r *Registry) {
	r.Register(OIDUUID, uuidCodec{})
}
