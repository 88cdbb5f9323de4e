package codec

import (
	"encoding/binary"
	"math"
)

// Point, Line, LSeg, Box, Path, Polygon, and Circle mirror PostgreSQL's
// geometric types, all fixed-width pairs/tuples of float8 on the wire
// except Path/Polygon which are variable-length point lists.
type Point struct{ X, Y float64 }
type Line struct{ A, B, C float64 }
type LSeg struct{ P1, P2 Point }
type Box struct{ High, Low Point }
type Path struct {
	Closed bool
	Points []Point
}
type Polygon struct{ Points []Point }
type Circle struct {
	Center Point
	Radius float64
}

func putFloat8(buf []byte, f float64) {
	binary.BigEndian.PutUint64(buf, math.Float64bits(f))
}

func getFloat8(raw []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(raw))
}

func encodePoint(p Point) []byte {
	buf := make([]byte, 16)
	putFloat8(buf[0:8], p.X)
	putFloat8(buf[8:16], p.Y)
	return buf
}

func decodePoint(raw []byte) Point {
	return Point{X: getFloat8(raw[0:8]), Y: getFloat8(raw[8:16])}
}

type pointCodec struct{}

func (pointCodec) Encode(v any) ([]byte, error) {
	p, ok := v.(Point)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDPoint, Value: v, Msg: "want codec.Point"}
	}
	return encodePoint(p), nil
}

func (pointCodec) Decode(raw []byte) (any, error) {
	if len(raw) != 16 {
		return nil, &ValueDecodeError{OID: OIDPoint, Msg: "expected 16 bytes"}
	}
	return decodePoint(raw), nil
}

type lineCodec struct{}

func (lineCodec) Encode(v any) ([]byte, error) {
	l, ok := v.(Line)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDLine, Value: v, Msg: "want codec.Line"}
	}
	buf := make([]byte, 24)
	putFloat8(buf[0:8], l.A)
	putFloat8(buf[8:16], l.B)
	putFloat8(buf[16:24], l.C)
	return buf, nil
}

func (lineCodec) Decode(raw []byte) (any, error) {
	if len(raw) != 24 {
		return nil, &ValueDecodeError{OID: OIDLine, Msg: "expected 24 bytes"}
	}
	return Line{A: getFloat8(raw[0:8]), B: getFloat8(raw[8:16]), C: getFloat8(raw[16:24])}, nil
}

type lsegCodec struct{}

func (lsegCodec) Encode(v any) ([]byte, error) {
	s, ok := v.(LSeg)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDLseg, Value: v, Msg: "want codec.LSeg"}
	}
	return append(encodePoint(s.P1), encodePoint(s.P2)...), nil
}

func (lsegCodec) Decode(raw []byte) (any, error) {
	if len(raw) != 32 {
		return nil, &ValueDecodeError{OID: OIDLseg, Msg: "expected 32 bytes"}
	}
	return LSeg{P1: decodePoint(raw[0:16]), P2: decodePoint(raw[16:32])}, nil
}

type boxCodec struct{}

func (boxCodec) Encode(v any) ([]byte, error) {
	b, ok := v.(Box)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDBox, Value: v, Msg: "want codec.Box"}
	}
	return append(encodePoint(b.High), encodePoint(b.Low)...), nil
}

func (boxCodec) Decode(raw []byte) (any, error) {
	if len(raw) != 32 {
		return nil, &ValueDecodeError{OID: OIDBox, Msg: "expected 32 bytes"}
	}
	return Box{High: decodePoint(raw[0:16]), Low: decodePoint(raw[16:32])}, nil
}

type circleCodec struct{}

func (circleCodec) Encode(v any) ([]byte, error) {
	c, ok := v.(Circle)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDCircle, Value: v, Msg: "want codec.Circle"}
	}
	buf := append(encodePoint(c.Center), make([]byte, 8)...)
	putFloat8(buf[16:24], c.Radius)
	return buf, nil
}

func (circleCodec) Decode(raw []byte) (any, error) {
	if len(raw) != 24 {
		return nil, &ValueDecodeError{OID: OIDCircle, Msg: "expected 24 bytes"}
	}
	return Circle{Center: decodePoint(raw[0:16]), Radius: getFloat8(raw[16:24])}, nil
}

type pathCodec struct{}

func (pathCodec) Encode(v any) ([]byte, error) {
	p, ok := v.(Path)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDPath, Value: v, Msg: "want codec.Path"}
	}
	buf := make([]byte, 5)
	if p.Closed {
		buf[0] = 1
	}
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(p.Points)))
	for _, pt := range p.Points {
		buf = append(buf, encodePoint(pt)...)
	}
	return buf, nil
}

func (pathCodec) Decode(raw []byte) (any, error) {
	if len(raw) < 5 {
		return nil, &ValueDecodeError{OID: OIDPath, Msg: "header too short"}
	}
	closed := raw[0] != 0
	n := int(binary.BigEndian.Uint32(raw[1:5]))
	if len(raw) != 5+16*n {
		return nil, &ValueDecodeError{OID: OIDPath, Msg: "point count mismatch"}
	}
	points := make([]Point, n)
	for i := 0; i < n; i++ {
		points[i] = decodePoint(raw[5+16*i : 5+16*i+16])
	}
	return Path{Closed: closed, Points: points}, nil
}

type polygonCodec struct{}

func (polygonCodec) Encode(v any) ([]byte, error) {
	p, ok := v.(Polygon)
	if !ok {
		return nil, &ValueEncodeError{OID: OIDPolygon, Value: v, Msg: "want codec.Polygon"}
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(p.Points)))
	for _, pt := range p.Points {
		buf = append(buf, encodePoint(pt)...)
	}
	return buf, nil
}

func (polygonCodec) Decode(raw []byte) (any, error) {
	if len(raw) < 4 {
		return nil, &ValueDecodeError{OID: OIDPolygon, Msg: "header too short"}
	}
	n := int(binary.BigEndian.Uint32(raw[0:4]))
	if len(raw) != 4+16*n {
		return nil, &ValueDecodeError{OID: OIDPolygon, Msg: "point count mismatch"}
	}
	points := make([]Point, n)
	for i := 0; i < n; i++ {
		points[i] = decodePoint(raw[4+16*i : 4+16*i+16])
	}
	return Polygon{Points: points}, nil
}

func registerGeometricCodecs(r *Registry) {
	r.Register(OIDPoint, pointCodec{})
	r.Register(OIDLine, lineCodec{})
	r.Register(OIDLseg, lsegCodec{})
	r.Register(OIDBox, boxCodec{})
	r.Register(OIDCircle, circleCodec{})
	r.Register(OIDPath, pathCodec{})
	r.Register(OIDPolygon, polygonCodec{})
}
