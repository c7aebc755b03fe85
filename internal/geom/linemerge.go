package geom

import (
	"sort"

	"github.com/paulmach/orb"
)

// LineMerge joins the members of a multilinestring end to end. A point used
// by exactly two lines is a junction and the lines are concatenated there; a
// point used once stays an open end; a point used more than twice is
// ambiguous and forces a split. Result ordering is deterministic for a given
// input ordering. A plain linestring passes through unchanged.
func LineMerge(g Geometry) Geometry {
	if g.IsNull() {
		return g
	}
	if _, ok := g.G.(orb.LineString); ok {
		return g
	}
	input, ok := g.G.(orb.MultiLineString)
	if !ok {
		return Null()
	}

	const noConn = -1

	type endpoint struct {
		pt      orb.Point
		n       int
		isFront bool
	}
	type connection struct {
		left  int
		line  orb.LineString // nil once consumed
		right int
	}

	endpoints := make([]endpoint, 0, len(input)*2)
	conns := make([]connection, 0, len(input))
	for _, line := range input {
		if len(line) < 2 {
			continue
		}
		endpoints = append(endpoints,
			endpoint{pt: line[0], n: len(conns), isFront: true},
			endpoint{pt: line[len(line)-1], n: len(conns), isFront: false})
		conns = append(conns, connection{left: noConn, line: line, right: noConn})
	}

	sort.Slice(endpoints, func(i, j int) bool {
		a, b := endpoints[i], endpoints[j]
		if a.pt[0] != b.pt[0] {
			return a.pt[0] < b.pt[0]
		}
		if a.pt[1] != b.pt[1] {
			return a.pt[1] < b.pt[1]
		}
		if a.n != b.n {
			return a.n < b.n
		}
		return !a.isFront && b.isFront
	})

	// Link pairs of equal adjacent endpoints. Points shared by more than two
	// lines pair up the first two and leave the rest unlinked, forcing the
	// split there.
	for i := 0; i+1 < len(endpoints); {
		if endpoints[i].pt != endpoints[i+1].pt {
			i++
			continue
		}
		a, b := endpoints[i], endpoints[i+1]
		if a.isFront {
			conns[a.n].left = b.n
		} else {
			conns[a.n].right = b.n
		}
		if b.isFront {
			conns[b.n].left = a.n
		} else {
			conns[b.n].right = a.n
		}
		i += 2
	}

	appendLine := func(dst orb.LineString, pts []orb.Point) orb.LineString {
		if len(dst) > 0 {
			pts = pts[1:]
		}
		return append(dst, pts...)
	}
	reversed := func(line orb.LineString) []orb.Point {
		out := make([]orb.Point, len(line))
		for i, p := range line {
			out[len(line)-1-i] = p
		}
		return out
	}

	var merged orb.MultiLineString
	done := 0
	todo := len(conns)

	// Walk from every open end first.
	for i := 0; i < todo; i++ {
		if conns[i].line == nil || (conns[i].left != noConn && conns[i].right != noConn) {
			continue
		}

		var line orb.LineString
		prev := noConn
		cur := i
		for cur != noConn {
			conn := &conns[cur]
			forward := conn.left == prev
			prev = cur
			if forward {
				line = appendLine(line, conn.line)
				cur = conn.right
			} else {
				line = appendLine(line, reversed(conn.line))
				cur = conn.left
			}
			conns[prev].line = nil
			done++
		}
		merged = append(merged, line)
	}

	// Anything left is part of a closed loop; walk each loop once.
	if done < todo {
		for i := 0; i < todo; i++ {
			if conns[i].line == nil {
				continue
			}

			var line orb.LineString
			prev := conns[i].left
			cur := i
			for {
				conn := &conns[cur]
				forward := conn.left == prev &&
					(conns[conn.left].line == nil ||
						conns[conn.left].line[len(conns[conn.left].line)-1] == conn.line[0])
				prev = cur
				if forward {
					line = appendLine(line, conn.line)
					cur = conn.right
				} else {
					line = appendLine(line, reversed(conn.line))
					cur = conn.left
				}
				conns[prev].line = nil
				if cur == i {
					break
				}
			}
			merged = append(merged, line)
		}
	}

	if len(merged) == 0 {
		return Null()
	}
	return Geometry{G: merged, SRID: g.SRID}
}
