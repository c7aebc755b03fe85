// Package ewkb encodes and decodes geometries as extended well-known binary:
// little-endian WKB with the SRID flag bit set and the SRID inserted after
// the type word. The COPY pipeline ships geometries as the ASCII hex of this
// encoding.
package ewkb

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// WKB geometry type codes.
const (
	typePoint              = 1
	typeLineString         = 2
	typePolygon            = 3
	typeMultiPoint         = 4
	typeMultiLineString    = 5
	typeMultiPolygon       = 6
	typeGeometryCollection = 7

	sridFlag = 0x20000000

	littleEndian = 1
)

var ErrUnsupportedGeometry = errors.New("unsupported geometry type")

type encoder struct {
	buf []byte
}

func (e *encoder) byte(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) uint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *encoder) float64(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}

func (e *encoder) point(p orb.Point) {
	e.float64(p[0])
	e.float64(p[1])
}

func (e *encoder) pointList(pts []orb.Point) {
	e.uint32(uint32(len(pts)))
	for _, p := range pts {
		e.point(p)
	}
}

func (e *encoder) header(geomType uint32, srid int) {
	e.byte(littleEndian)
	if srid != 0 {
		e.uint32(geomType | sridFlag)
		e.uint32(uint32(srid))
	} else {
		e.uint32(geomType)
	}
}

func (e *encoder) geometry(g orb.Geometry, srid int) error {
	switch v := g.(type) {
	case orb.Point:
		e.header(typePoint, srid)
		e.point(v)
	case orb.LineString:
		e.header(typeLineString, srid)
		e.pointList(v)
	case orb.Ring:
		return e.geometry(orb.Polygon{v}, srid)
	case orb.Polygon:
		e.header(typePolygon, srid)
		e.uint32(uint32(len(v)))
		for _, ring := range v {
			e.pointList(ring)
		}
	case orb.MultiPoint:
		e.header(typeMultiPoint, srid)
		e.uint32(uint32(len(v)))
		for _, p := range v {
			if err := e.geometry(p, 0); err != nil {
				return err
			}
		}
	case orb.MultiLineString:
		e.header(typeMultiLineString, srid)
		e.uint32(uint32(len(v)))
		for _, l := range v {
			if err := e.geometry(l, 0); err != nil {
				return err
			}
		}
	case orb.MultiPolygon:
		e.header(typeMultiPolygon, srid)
		e.uint32(uint32(len(v)))
		for _, p := range v {
			if err := e.geometry(p, 0); err != nil {
				return err
			}
		}
	case orb.Collection:
		e.header(typeGeometryCollection, srid)
		e.uint32(uint32(len(v)))
		for _, sub := range v {
			if err := e.geometry(sub, 0); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedGeometry, g)
	}
	return nil
}

// Marshal encodes a geometry with an embedded SRID. srid 0 omits the SRID
// extension, producing plain WKB.
func Marshal(g orb.Geometry, srid int) ([]byte, error) {
	e := &encoder{}
	if err := e.geometry(g, srid); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// MarshalHex encodes a geometry as the ASCII hex of its EWKB bytes, the form
// shipped over COPY.
func MarshalHex(g orb.Geometry, srid int) (string, error) {
	raw, err := Marshal(g, srid)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

type decoder struct {
	buf []byte
	pos int
	bo  binary.ByteOrder
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) byte() (byte, error) {
	if d.remaining() < 1 {
		return 0, errors.New("ewkb: short read")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) uint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, errors.New("ewkb: short read")
	}
	v := d.bo.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) float64() (float64, error) {
	if d.remaining() < 8 {
		return 0, errors.New("ewkb: short read")
	}
	v := math.Float64frombits(d.bo.Uint64(d.buf[d.pos:]))
	d.pos += 8
	return v, nil
}

func (d *decoder) point() (orb.Point, error) {
	x, err := d.float64()
	if err != nil {
		return orb.Point{}, err
	}
	y, err := d.float64()
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{x, y}, nil
}

func (d *decoder) pointList() ([]orb.Point, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	if int(n) > d.remaining()/16 {
		return nil, errors.New("ewkb: point count exceeds buffer")
	}
	pts := make([]orb.Point, n)
	for i := range pts {
		if pts[i], err = d.point(); err != nil {
			return nil, err
		}
	}
	return pts, nil
}

func (d *decoder) geometry() (orb.Geometry, int, error) {
	order, err := d.byte()
	if err != nil {
		return nil, 0, err
	}
	switch order {
	case 0:
		d.bo = binary.BigEndian
	case littleEndian:
		d.bo = binary.LittleEndian
	default:
		return nil, 0, fmt.Errorf("ewkb: invalid byte order %d", order)
	}

	geomType, err := d.uint32()
	if err != nil {
		return nil, 0, err
	}

	srid := 0
	if geomType&sridFlag != 0 {
		geomType &^= sridFlag
		s, err := d.uint32()
		if err != nil {
			return nil, 0, err
		}
		srid = int(s)
	}

	switch geomType {
	case typePoint:
		p, err := d.point()
		return p, srid, err

	case typeLineString:
		pts, err := d.pointList()
		return orb.LineString(pts), srid, err

	case typePolygon:
		n, err := d.uint32()
		if err != nil {
			return nil, 0, err
		}
		poly := make(orb.Polygon, 0, n)
		for i := uint32(0); i < n; i++ {
			pts, err := d.pointList()
			if err != nil {
				return nil, 0, err
			}
			poly = append(poly, orb.Ring(pts))
		}
		return poly, srid, nil

	case typeMultiPoint, typeMultiLineString, typeMultiPolygon, typeGeometryCollection:
		n, err := d.uint32()
		if err != nil {
			return nil, 0, err
		}
		subs := make([]orb.Geometry, 0, n)
		for i := uint32(0); i < n; i++ {
			sub, _, err := d.geometry()
			if err != nil {
				return nil, 0, err
			}
			subs = append(subs, sub)
		}
		g, err := assembleMulti(geomType, subs)
		return g, srid, err

	default:
		return nil, 0, fmt.Errorf("ewkb: unknown geometry type %d", geomType)
	}
}

func assembleMulti(geomType uint32, subs []orb.Geometry) (orb.Geometry, error) {
	switch geomType {
	case typeMultiPoint:
		out := make(orb.MultiPoint, 0, len(subs))
		for _, s := range subs {
			p, ok := s.(orb.Point)
			if !ok {
				return nil, errors.New("ewkb: multipoint member is not a point")
			}
			out = append(out, p)
		}
		return out, nil
	case typeMultiLineString:
		out := make(orb.MultiLineString, 0, len(subs))
		for _, s := range subs {
			l, ok := s.(orb.LineString)
			if !ok {
				return nil, errors.New("ewkb: multilinestring member is not a linestring")
			}
			out = append(out, l)
		}
		return out, nil
	case typeMultiPolygon:
		out := make(orb.MultiPolygon, 0, len(subs))
		for _, s := range subs {
			p, ok := s.(orb.Polygon)
			if !ok {
				return nil, errors.New("ewkb: multipolygon member is not a polygon")
			}
			out = append(out, p)
		}
		return out, nil
	}
	return orb.Collection(subs), nil
}

// Unmarshal decodes EWKB bytes into a geometry and its SRID (0 when none is
// embedded).
func Unmarshal(data []byte) (orb.Geometry, int, error) {
	d := &decoder{buf: data}
	g, srid, err := d.geometry()
	if err != nil {
		return nil, 0, err
	}
	if d.remaining() != 0 {
		return nil, 0, fmt.Errorf("ewkb: %d trailing bytes", d.remaining())
	}
	return g, srid, nil
}

// UnmarshalHex decodes the hex form produced by MarshalHex.
func UnmarshalHex(s string) (orb.Geometry, int, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, 0, fmt.Errorf("ewkb: %w", err)
	}
	return Unmarshal(raw)
}
