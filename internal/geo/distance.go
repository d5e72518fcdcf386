// Package geo holds coordinates and great-circle distance helpers.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

type Coordinate struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Validate reports whether the coordinate lies within [-90,90] x [-180,180].
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Lat)
	}
	if math.IsNaN(c.Lng) || c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Lng)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// DistanceKm returns the haversine distance between a and b in kilometers.
func DistanceKm(a, b Coordinate) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*sinLng*sinLng
	// rounding can push h a hair above 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// DistanceBetween is DistanceKm for optional coordinates; ok is false when either is unresolved.
func DistanceBetween(a, b *Coordinate) (km float64, ok bool) {
	if a == nil || b == nil {
		return 0, false
	}
	return DistanceKm(*a, *b), true
}

// FormatDistance renders distances below 1 km as whole meters and the rest as km with one decimal.
func FormatDistance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%d m", int64(math.Round(km*1000)))
	}
	return fmt.Sprintf("%.1f km", km)
}
