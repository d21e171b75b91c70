package geo

import (
	"math"
	"strings"
)

// EncodePolyline delta-encodes points at 1e-5 degree precision using the
// standard signed-varint polyline format.
func EncodePolyline(pts []LatLon) string {
	var lastLat, lastLon int64
	var sb strings.Builder
	sb.Grow(len(pts) * 8)

	for _, p := range pts {
		lat := int64(math.Round(p.Lat * 1e5))
		lon := int64(math.Round(p.Lon * 1e5))

		encodeSigned(lat-lastLat, &sb)
		encodeSigned(lon-lastLon, &sb)

		lastLat = lat
		lastLon = lon
	}
	return sb.String()
}

func encodeSigned(value int64, sb *strings.Builder) {
	s := value << 1
	if value < 0 {
		s = ^s
	}
	encodeUnsigned(s, sb)
}

func encodeUnsigned(value int64, sb *strings.Builder) {
	for value >= 0x20 {
		sb.WriteByte(byte((0x20 | (value & 0x1f)) + 63))
		value >>= 5
	}
	sb.WriteByte(byte(value + 63))
}

// Downsample reduces pts to at most max entries with uniform stride
// sampling. The final point is always retained.
func Downsample(pts []LatLon, max int) []LatLon {
	idx := DownsampleIndices(len(pts), max)
	if idx == nil {
		return pts
	}
	out := make([]LatLon, 0, len(idx))
	for _, i := range idx {
		out = append(out, pts[i])
	}
	return out
}

// DownsampleIndices returns the indices a uniform-stride downsample of n
// elements to at most max keeps, or nil when no reduction is needed. The
// last index is always included.
func DownsampleIndices(n, max int) []int {
	if max <= 0 || n <= max {
		return nil
	}
	step := (n + max - 1) / max
	out := make([]int, 0, max+1)
	for i := 0; i < n; i += step {
		out = append(out, i)
	}
	if out[len(out)-1] != n-1 {
		out = append(out, n-1)
	}
	return out
}
