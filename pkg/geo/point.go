// Package geo holds the GeoJSON point type shared by every service and
// the spherical-distance math used to reason about dispatch radii.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusKm is Earth's mean radius. Dividing a planar radius in km
// by it yields the radian threshold for a spherical-cap containment
// test, which is also what Mongo's $centerSphere expects.
const EarthRadiusKm = 6378.1

// ErrInvalidLocation is wrapped by every validation failure so callers
// can map the whole family to a single client error.
var ErrInvalidLocation = errors.New("invalid location")

// Point is a GeoJSON point: coordinates are [longitude, latitude].
type Point struct {
	Type        string    `bson:"type" json:"type"`
	Coordinates []float64 `bson:"coordinates" json:"coordinates"`
}

func NewPoint(longitude, latitude float64) Point {
	return Point{Type: "Point", Coordinates: []float64{longitude, latitude}}
}

// Validate enforces the invariants the store does not: exactly two
// finite coordinates, longitude in [-180,180], latitude in [-90,90].
func (p Point) Validate() error {
	if p.Type != "" && p.Type != "Point" {
		return fmt.Errorf("%w: type must be \"Point\"", ErrInvalidLocation)
	}
	if len(p.Coordinates) != 2 {
		return fmt.Errorf("%w: coordinates must be [longitude, latitude]", ErrInvalidLocation)
	}
	lon, lat := p.Coordinates[0], p.Coordinates[1]
	if math.IsNaN(lon) || math.IsInf(lon, 0) || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return fmt.Errorf("%w: coordinates must be finite numbers", ErrInvalidLocation)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180,180]", ErrInvalidLocation, lon)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90,90]", ErrInvalidLocation, lat)
	}
	return nil
}

// Normalize returns the point with the GeoJSON type filled in, so
// documents persisted from partial client input still satisfy the
// 2dsphere index.
func (p Point) Normalize() Point {
	p.Type = "Point"
	return p
}

func (p Point) Longitude() float64 {
	if len(p.Coordinates) != 2 {
		return 0
	}
	return p.Coordinates[0]
}

func (p Point) Latitude() float64 {
	if len(p.Coordinates) != 2 {
		return 0
	}
	return p.Coordinates[1]
}

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b Point) float64 {
	return centralAngle(a, b) * EarthRadiusKm
}

// WithinRadius reports whether p lies inside the spherical cap of
// radiusKm around center, using the radiusKm/EarthRadiusKm radian
// threshold.
func WithinRadius(center, p Point, radiusKm float64) bool {
	return centralAngle(center, p) <= radiusKm/EarthRadiusKm
}

// centralAngle computes the angle between two points in radians via the
// haversine formula.
func centralAngle(a, b Point) float64 {
	lat1 := a.Latitude() * math.Pi / 180
	lat2 := b.Latitude() * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude() - a.Longitude()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
