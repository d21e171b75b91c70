package geo

import "math"

// Simplify reduces a polyline with Ramer-Douglas-Peucker. The first and
// last points are always retained and the result never has more points
// than the input. epsilonMeters is the perpendicular-distance tolerance.
func Simplify(pts []LatLon, epsilonMeters float64) []LatLon {
	keep := SimplifyMask(pts, epsilonMeters)
	if keep == nil {
		return pts
	}
	out := make([]LatLon, 0, len(pts))
	for i, k := range keep {
		if k {
			out = append(out, pts[i])
		}
	}
	return out
}

// SimplifyMask returns the RDP keep-mask for pts, or nil when the input
// is too short to simplify. Callers with richer point types filter their
// own slices by the mask.
func SimplifyMask(pts []LatLon, epsilonMeters float64) []bool {
	if len(pts) < 3 {
		return nil
	}

	// Projection is anchored at the first point's latitude for the whole
	// run; long north-south tracks lose some accuracy.
	lat0 := pts[0].Lat

	keep := make([]bool, len(pts))
	keep[0] = true
	keep[len(pts)-1] = true

	rdp(pts, 0, len(pts)-1, epsilonMeters, keep, lat0)
	return keep
}

func rdp(pts []LatLon, start, end int, eps float64, keep []bool, lat0 float64) {
	if end <= start+1 {
		return
	}

	maxDist := -1.0
	index := -1

	a := Project(pts[start].Lat, pts[start].Lon, lat0)
	b := Project(pts[end].Lat, pts[end].Lon, lat0)

	for i := start + 1; i < end; i++ {
		p := Project(pts[i].Lat, pts[i].Lon, lat0)
		d := perpendicularDistance(p, a, b)
		if d > maxDist {
			maxDist = d
			index = i
		}
	}

	if maxDist > eps && index != -1 {
		keep[index] = true
		rdp(pts, start, index, eps, keep, lat0)
		rdp(pts, index, end, eps, keep, lat0)
	}
}

// perpendicularDistance is the distance from p to the segment a-b,
// clamped to the segment endpoints.
func perpendicularDistance(p, a, b XY) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	if dx == 0 && dy == 0 {
		return distance(p, a)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / (dx*dx + dy*dy)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return distance(p, XY{X: a.X + t*dx, Y: a.Y + t*dy})
}

func distance(a, b XY) float64 {
	ex := a.X - b.X
	ey := a.Y - b.Y
	return math.Sqrt(ex*ex + ey*ey)
}
