package pgasync

import (
	"encoding/binary"
	"fmt"
)

var binaryCopySignature = []byte("PGCOPY\n\377\r\n\000")

// splitBinaryCopyTuples validates a caller-supplied binary COPY stream's
// 19-byte signature/flags/header-extension prefix and splits the
// remaining tuples into per-row byte spans suitable for
// wire.Engine.CopyInBinary, which writes its own framing and only needs
// each tuple's "field count + fields" payload.
func splitBinaryCopyTuples(stream []byte) ([][]byte, error) {
	if len(stream) < 19 {
		return nil, fmt.Errorf("binary COPY stream shorter than the 19-byte header")
	}
	if string(stream[:11]) != string(binaryCopySignature) {
		return nil, fmt.Errorf("missing PGCOPY signature")
	}
	extLen := binary.BigEndian.Uint32(stream[15:19])
	pos := 19 + int(extLen)

	var tuples [][]byte
	for {
		if pos+2 > len(stream) {
			return nil, fmt.Errorf("truncated stream: missing trailer")
		}
		fieldCount := int16(binary.BigEndian.Uint16(stream[pos : pos+2]))
		if fieldCount == -1 {
			return tuples, nil
		}
		start := pos
		pos += 2
		for f := int16(0); f < fieldCount; f++ {
			if pos+4 > len(stream) {
				return nil, fmt.Errorf("truncated tuple: missing field length")
			}
			length := int32(binary.BigEndian.Uint32(stream[pos : pos+4]))
			pos += 4
			if length < 0 {
				continue // SQL NULL field, no value bytes follow
			}
			if pos+int(length) > len(stream) {
				return nil, fmt.Errorf("truncated tuple: field value runs past end of stream")
			}
			pos += int(length)
		}
		tuples = append(tuples, stream[start:pos])
	}
}
