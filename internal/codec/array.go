package codec

import "encoding/binary"

const arrayHasNullsFlag = 1

// arrayCodec is a generic N-dimensional array codec over any element
// codec, synthesized by Registry.Lookup for every array OID registered via
// RegisterArray (built-ins) or discovered through typeinfo.go (composite/
// enum element arrays).
type arrayCodec struct {
	elemOID OID
	elem    TypeCodec
}

// Encode accepts a (possibly nested) []any. All sibling sub-slices at a
// given depth must share the same length; otherwise it is a ragged array
// and fails with ValueEncodeError.
func (c *arrayCodec) Encode(v any) ([]byte, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, &ValueEncodeError{OID: c.elemOID, Value: v, Msg: "want []any for an array value"}
	}

	if len(items) == 0 {
		// ndim=0, has-nulls flag=0, elemtype, no dimension headers, no elements.
		buf := make([]byte, 12)
		binary.BigEndian.PutUint32(buf[8:12], c.elemOID)
		return buf, nil
	}

	dims, err := arrayDimensions(items)
	if err != nil {
		return nil, err
	}

	var leaves []any
	hasNull := false
	if err := flattenArray(items, dims, 0, &leaves, &hasNull); err != nil {
		return nil, err
	}

	header := make([]byte, 12+8*len(dims))
	binary.BigEndian.PutUint32(header[0:4], uint32(len(dims)))
	if hasNull {
		binary.BigEndian.PutUint32(header[4:8], arrayHasNullsFlag)
	}
	binary.BigEndian.PutUint32(header[8:12], c.elemOID)
	for i, d := range dims {
		binary.BigEndian.PutUint32(header[12+8*i:16+8*i], uint32(d))
		binary.BigEndian.PutUint32(header[16+8*i:20+8*i], 1) // lower bound always 1
	}

	buf := header
	for _, leaf := range leaves {
		if leaf == nil {
			lenBuf := make([]byte, 4)
			binary.BigEndian.PutUint32(lenBuf, 0xFFFFFFFF)
			buf = append(buf, lenBuf...)
			continue
		}
		enc, err := c.elem.Encode(leaf)
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

// arrayDimensions walks the first element at each depth to determine the
// declared shape, then flattenArray separately verifies every sibling
// matches it.
func arrayDimensions(items []any) ([]int, error) {
	dims := []int{len(items)}
	cur := items
	for {
		if len(cur) == 0 {
			break
		}
		next, ok := cur[0].([]any)
		if !ok {
			break
		}
		dims = append(dims, len(next))
		cur = next
	}
	return dims, nil
}

func flattenArray(items []any, dims []int, depth int, out *[]any, hasNull *bool) error {
	if len(items) != dims[depth] {
		return &ValueEncodeError{Msg: "ragged array: dimension length mismatch"}
	}
	if depth == len(dims)-1 {
		for _, it := range items {
			if it == nil {
				*hasNull = true
			}
			*out = append(*out, it)
		}
		return nil
	}
	for _, it := range items {
		sub, ok := it.([]any)
		if !ok {
			return &ValueEncodeError{Msg: "ragged array: expected a nested []any"}
		}
		if err := flattenArray(sub, dims, depth+1, out, hasNull); err != nil {
			return err
		}
	}
	return nil
}

// Decode returns a nested []any matching the array's declared dimensions.
// An empty array (ndim=0) always decodes to an empty []any, regardless of
// its declared element type.
func (c *arrayCodec) Decode(raw []byte) (any, error) {
	if len(raw) < 12 {
		return nil, &ValueDecodeError{OID: c.elemOID, Msg: "array header too short"}
	}
	ndim := int(binary.BigEndian.Uint32(raw[0:4]))
	if ndim == 0 {
		return []any{}, nil
	}
	if len(raw) < 12+8*ndim {
		return nil, &ValueDecodeError{OID: c.elemOID, Msg: "dimension headers truncated"}
	}

	dims := make([]int, ndim)
	for i := 0; i < ndim; i++ {
		dims[i] = int(binary.BigEndian.Uint32(raw[12+8*i : 16+8*i]))
	}

	data := raw[12+8*ndim:]
	values, _, err := decodeArrayElements(data, dims, 0, c.elem)
	if err != nil {
		return nil, err
	}
	return values, nil
}

func decodeArrayElements(data []byte, dims []int, depth int, elem TypeCodec) ([]any, []byte, error) {
	n := dims[depth]
	out := make([]any, n)
	if depth == len(dims)-1 {
		for i := 0; i < n; i++ {
			if len(data) < 4 {
				return nil, nil, &ValueDecodeError{Msg: "array elements truncated"}
			}
			length := int32(binary.BigEndian.Uint32(data[0:4]))
			data = data[4:]
			if length < 0 {
				out[i] = nil
				continue
			}
			if int(length) > len(data) {
				return nil, nil, &ValueDecodeError{Msg: "array element length exceeds payload"}
			}
			v, err := elem.Decode(data[:length])
			if err != nil {
				return nil, nil, err
			}
			out[i] = v
			data = data[length:]
		}
		return out, data, nil
	}
	for i := 0; i < n; i++ {
		var sub []any
		var err error
		sub, data, err = decodeArrayElements(data, dims, depth+1, elem)
		if err != nil {
			return nil, nil, err
		}
		out[i] = sub
	}
	return out, data, nil
}
