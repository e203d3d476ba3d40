// Package quality computes the deterministic completeness score for
// facility records.
package quality

import "github.com/recovery-atlas/facility-etl/internal/model"

// Fixed weights. The score measures field completeness, not factual
// accuracy.
const (
	weightRequired = 0.4 // name/city/state/phone, scaled by count present
	weightGeo      = 0.2 // in-range coordinates
	weightContact  = 0.2 // at least one of phone/website
	weightServices = 0.2 // at least one parsed service
)

// Score returns the completeness score for a record, clamped to [0,1].
// It is pure: no randomness, no external calls, and it is recomputed in
// full on every run rather than adjusted incrementally.
func Score(rec *model.FacilityRecord) float64 {
	var required int
	if rec.Name != "" {
		required++
	}
	if rec.City != "" {
		required++
	}
	if rec.State != "" {
		required++
	}
	if rec.Phone != "" {
		required++
	}

	score := weightRequired * float64(required) / 4

	if rec.HasCoordinates() && inRange(*rec.Latitude, *rec.Longitude) {
		score += weightGeo
	}

	if rec.Phone != "" || rec.Website != "" {
		score += weightContact
	}

	if len(rec.Services) > 0 {
		score += weightServices
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Rescore recomputes and stores the quality score on the record.
func Rescore(rec *model.FacilityRecord) {
	rec.QualityScore = Score(rec)
}

func inRange(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
