// Package geo holds the planar and spherical geometry used by trip
// summaries and history downsampling: haversine distance, an
// equirectangular projection for RDP, polyline simplification and the
// fixed-point delta polyline codec.
package geo

import "math"

// earthRadiusM is the mean Earth radius in meters.
const earthRadiusM = 6371000.0

// LatLon is a bare coordinate pair in degrees.
type LatLon struct {
	Lat float64
	Lon float64
}

// XY is a projected planar coordinate in meters.
type XY struct {
	X float64
	Y float64
}

// HaversineMeters returns the great-circle distance between two
// coordinates in meters.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := toRadians(lat1)
	p2 := toRadians(lat2)
	dp := toRadians(lat2 - lat1)
	dl := toRadians(lon2 - lon1)

	a := math.Sin(dp/2)*math.Sin(dp/2) +
		math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// Project maps a coordinate onto a plane with an equirectangular
// projection anchored at the reference latitude lat0. Accurate enough
// for the short chords RDP measures.
func Project(lat, lon, lat0 float64) XY {
	return XY{
		X: toRadians(lon) * math.Cos(toRadians(lat0)) * earthRadiusM,
		Y: toRadians(lat) * earthRadiusM,
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
