package models

// Location represents a geographical location with latitude and longitude coordinates.
type Location struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lon float64 `bson:"lon" json:"lon"`
}

// BoundingBox is the min/max envelope of a set of locations.
type BoundingBox struct {
	MinLat float64 `bson:"min_lat" json:"min_lat"`
	MinLon float64 `bson:"min_lon" json:"min_lon"`
	MaxLat float64 `bson:"max_lat" json:"max_lat"`
	MaxLon float64 `bson:"max_lon" json:"max_lon"`
}

// NewBoundingBox returns a box primed so that the first Extend sets all bounds.
func NewBoundingBox() BoundingBox {
	return BoundingBox{MinLat: 90, MinLon: 180, MaxLat: -90, MaxLon: -180}
}

// Extend grows the box to include the given location.
func (b *BoundingBox) Extend(loc Location) {
	if loc.Lat < b.MinLat {
		b.MinLat = loc.Lat
	}
	if loc.Lon < b.MinLon {
		b.MinLon = loc.Lon
	}
	if loc.Lat > b.MaxLat {
		b.MaxLat = loc.Lat
	}
	if loc.Lon > b.MaxLon {
		b.MaxLon = loc.Lon
	}
}
