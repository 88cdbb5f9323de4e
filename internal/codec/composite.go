package codec

import "encoding/binary"

// compositeCodec decodes a composite (row) type into an ordered name->value
// map, recursively resolving each field's own codec through registry —
// including, transitively, other composites, enums, and arrays of either.
type compositeCodec struct {
	info     *TypeInfo
	registry *Registry
}

func (c *compositeCodec) Encode(v any) ([]byte, error) {
	fields, ok := v.(map[string]any)
	if !ok {
		return nil, &ValueEncodeError{OID: c.info.OID, Value: v, Msg: "want map[string]any"}
	}

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(c.info.Fields)))

	for _, f := range c.info.Fields {
		val, present := fields[f.Name]
		oidBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(oidBuf, f.OID)
		buf = append(buf, oidBuf...)

		if !present || val == nil {
			lenBuf := make([]byte, 4)
			binary.BigEndian.PutUint32(lenBuf, 0xFFFFFFFF)
			buf = append(buf, lenBuf...)
			continue
		}

		enc, err := c.registry.Encode(f.OID, val)
		if err != nil {
			return nil, err
		}
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(enc)))
		buf = append(buf, lenBuf...)
		buf = append(buf, enc...)
	}
	return buf, nil
}

func (c *compositeCodec) Decode(raw []byte) (any, error) {
	if len(raw) < 4 {
		return nil, &ValueDecodeError{OID: c.info.OID, Msg: "composite header too short"}
	}
	n := int(binary.BigEndian.Uint32(raw[0:4]))
	if n != len(c.info.Fields) {
		return nil, &ValueDecodeError{OID: c.info.OID, Msg: "field count does not match catalog definition"}
	}

	out := make(map[string]any, n)
	data := raw[4:]
	for _, f := range c.info.Fields {
		if len(data) < 8 {
			return nil, &ValueDecodeError{OID: c.info.OID, Msg: "composite fields truncated"}
		}
		// The wire format repeats each field's OID; it is validated against
		// the catalog definition's recorded OID rather than trusted blindly.
		wireOID := binary.BigEndian.Uint32(data[0:4])
		length := int32(binary.BigEndian.Uint32(data[4:8]))
		data = data[8:]
		if wireOID != f.OID {
			return nil, &ValueDecodeError{OID: c.info.OID, Msg: "field OID does not match catalog definition"}
		}
		if length < 0 {
			out[f.Name] = nil
			continue
		}
		if int(length) > len(data) {
			return nil, &ValueDecodeError{OID: c.info.OID, Msg: "field length exceeds payload"}
		}
		val, err := c.registry.Decode(f.OID, data[:length], nil)
		if err != nil {
			return nil, err
		}
		out[f.Name] = val
		data = data[length:]
	}
	return out, nil
}
