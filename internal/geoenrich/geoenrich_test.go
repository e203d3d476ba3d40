package geoenrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/recovery-atlas/facility-etl/internal/model"
)

func f64(v float64) *float64 { return &v }

func TestBucket(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     string
	}{
		{39.52, -119.81, "39.5:-119.9"}, // floor, not round, on negatives
		{39.58, -119.80, "39.5:-119.8"},
		{0.0, 0.0, "0.0:0.0"},
		{-0.05, 0.05, "-0.1:0.0"},
		{90.0, 180.0, "90.0:180.0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bucket(tt.lat, tt.lon), "Bucket(%v, %v)", tt.lat, tt.lon)
	}
}

func TestEnrich_ValidCoordinates(t *testing.T) {
	rec := model.FacilityRecord{Latitude: f64(39.52), Longitude: f64(-119.81)}
	Enrich(&rec)

	assert.True(t, rec.HasCoordinates())
	assert.Equal(t, "39.5:-119.9", rec.GeoBucket)
	assert.False(t, rec.Flagged(model.FlagGeoInvalid))
}

func TestEnrich_OutOfRange(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"latitude too high", 95, -119.81},
		{"latitude too low", -95, -119.81},
		{"longitude too high", 39.5, 185},
		{"longitude too low", 39.5, -185},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := model.FacilityRecord{Latitude: f64(tt.lat), Longitude: f64(tt.lon)}
			Enrich(&rec)

			assert.Nil(t, rec.Latitude)
			assert.Nil(t, rec.Longitude)
			assert.Empty(t, rec.GeoBucket)
			assert.True(t, rec.Flagged(model.FlagGeoInvalid))
		})
	}
}

func TestEnrich_OneSidedCoordinates(t *testing.T) {
	rec := model.FacilityRecord{Latitude: f64(39.5)}
	Enrich(&rec)

	assert.Nil(t, rec.Latitude)
	assert.True(t, rec.Flagged(model.FlagGeoInvalid))
}

func TestEnrich_NoCoordinates(t *testing.T) {
	rec := model.FacilityRecord{Name: "X"}
	Enrich(&rec)

	assert.Nil(t, rec.Latitude)
	assert.Empty(t, rec.GeoBucket)
	assert.False(t, rec.Flagged(model.FlagGeoInvalid))
}
