package physics

import "math"

func finite(v Vec2) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// SignedArea uses the shoelace formula. The sign depends on winding and on the
// y-down convention, so callers compare magnitudes.
func SignedArea(poly []Vec2) float64 {
	var a float64
	for i := range poly {
		j := (i + 1) % len(poly)
		a += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	return a / 2
}

// Centre is the area centroid; it falls back to the vertex mean for
// degenerate input.
func Centre(poly []Vec2) Vec2 {
	a := SignedArea(poly)
	if a == 0 {
		var c Vec2
		for _, p := range poly {
			c.X += p.X
			c.Y += p.Y
		}
		n := float64(len(poly))
		if n == 0 {
			return c
		}
		return Vec2{X: c.X / n, Y: c.Y / n}
	}
	var cx, cy float64
	for i := range poly {
		j := (i + 1) % len(poly)
		cross := poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
		cx += (poly[i].X + poly[j].X) * cross
		cy += (poly[i].Y + poly[j].Y) * cross
	}
	return Vec2{X: cx / (6 * a), Y: cy / (6 * a)}
}

func orient(a, b, c Vec2) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

func segmentsCross(p1, p2, q1, q2 Vec2) bool {
	d1 := orient(q1, q2, p1)
	d2 := orient(q1, q2, p2)
	d3 := orient(p1, p2, q1)
	d4 := orient(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// Simple reports whether poly is a closed, non-self-intersecting polygon with
// finite vertices and non-zero area.
func Simple(poly []Vec2) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	for _, p := range poly {
		if !finite(p) {
			return false
		}
	}
	if SignedArea(poly) == 0 {
		return false
	}
	for i := 0; i < n; i++ {
		a1, a2 := poly[i], poly[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// Adjacent edges share a vertex.
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsCross(a1, a2, poly[j], poly[(j+1)%n]) {
				return false
			}
		}
	}
	return true
}

// Bounds returns the axis-aligned extent of poly.
func Bounds(poly []Vec2) (min, max Vec2) {
	if len(poly) == 0 {
		return
	}
	min, max = poly[0], poly[0]
	for _, p := range poly[1:] {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
	}
	return
}

// TopAt returns the smallest y of poly's boundary at vertical line x, i.e. the
// first surface hit by a ray cast straight down.
func TopAt(poly []Vec2, x float64) (float64, bool) {
	best := math.Inf(1)
	hit := false
	n := len(poly)
	for i := 0; i < n; i++ {
		a, b := poly[i], poly[(i+1)%n]
		lo, hi := a.X, b.X
		if lo > hi {
			lo, hi = hi, lo
		}
		if x < lo || x > hi {
			continue
		}
		var y float64
		if a.X == b.X {
			y = math.Min(a.Y, b.Y)
		} else {
			t := (x - a.X) / (b.X - a.X)
			y = a.Y + t*(b.Y-a.Y)
		}
		if y < best {
			best = y
			hit = true
		}
	}
	return best, hit
}
