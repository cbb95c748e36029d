package geo

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		point   Point
		wantErr bool
	}{
		{"valid point", NewPoint(12.34, 56.78), false},
		{"valid without type", Point{Coordinates: []float64{0, 0}}, false},
		{"boundary coordinates", NewPoint(180, -90), false},
		{"longitude out of range", NewPoint(200, 45), true},
		{"latitude out of range", NewPoint(12.3, 95), true},
		{"both out of range", NewPoint(200, 95), true},
		{"single coordinate", Point{Type: "Point", Coordinates: []float64{12.3}}, true},
		{"three coordinates", Point{Type: "Point", Coordinates: []float64{1, 2, 3}}, true},
		{"missing coordinates", Point{Type: "Point"}, true},
		{"zero value", Point{}, true},
		{"NaN longitude", NewPoint(math.NaN(), 10), true},
		{"infinite latitude", NewPoint(10, math.Inf(1)), true},
		{"wrong geometry type", Point{Type: "Polygon", Coordinates: []float64{1, 2}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.point.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidLocation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRejectsNonNumericJSON(t *testing.T) {
	var p Point
	err := json.Unmarshal([]byte(`{"type":"Point","coordinates":["a","b"]}`), &p)
	require.Error(t, err, "non-numeric coordinates must fail at decode time")
}

func TestDistanceKm(t *testing.T) {
	// One degree of latitude at the equator is pi/180 * EarthRadiusKm.
	d := DistanceKm(NewPoint(0, 0), NewPoint(0, 1))
	assert.InDelta(t, math.Pi/180*EarthRadiusKm, d, 1e-9)

	assert.Zero(t, DistanceKm(NewPoint(12.34, 56.78), NewPoint(12.34, 56.78)))

	// Symmetry.
	a, b := NewPoint(106.8, -6.2), NewPoint(106.9, -6.3)
	assert.InDelta(t, DistanceKm(a, b), DistanceKm(b, a), 1e-9)
}

func TestWithinRadius(t *testing.T) {
	center := NewPoint(12.34, 56.78)

	// Latitude offsets convert to km independent of longitude.
	degPerKm := 180 / (math.Pi * EarthRadiusKm)
	inside := NewPoint(12.34, 56.78+4.9*degPerKm)
	outside := NewPoint(12.34, 56.78+5.1*degPerKm)

	assert.True(t, WithinRadius(center, inside, 5))
	assert.False(t, WithinRadius(center, outside, 5))
	assert.True(t, WithinRadius(center, center, 5))
}
