package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMeters_ZeroDistance(t *testing.T) {
	assert.Equal(t, 0.0, HaversineMeters(41.3111, 69.2797, 41.3111, 69.2797))
}

func TestHaversineMeters_OneDegreeLatitude(t *testing.T) {
	// One degree of latitude is ~111.19 km on a 6371 km sphere.
	d := HaversineMeters(0, 0, 1, 0)
	assert.InDelta(t, 111195, d, 5)
}

func TestHaversineMeters_LondonParis(t *testing.T) {
	d := HaversineMeters(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, 343500, d, 1000)
}

func TestHaversineMeters_Symmetric(t *testing.T) {
	a := HaversineMeters(40.7128, -74.0060, 34.0522, -118.2437)
	b := HaversineMeters(34.0522, -118.2437, 40.7128, -74.0060)
	assert.InDelta(t, a, b, 1e-9)
}

func TestProject_ReferenceLatitudeScalesLongitude(t *testing.T) {
	// At the equator a degree of longitude projects to the same length as
	// a degree of latitude; at 60N it is half.
	eq := Project(0, 1, 0)
	north := Project(0, 1, 60)
	assert.InDelta(t, eq.X/2, north.X, 1)
}
