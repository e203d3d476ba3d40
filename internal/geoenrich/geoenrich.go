// Package geoenrich validates coordinates and derives the coarse spatial
// bucket used for clustering.
package geoenrich

import (
	"fmt"
	"math"

	"github.com/recovery-atlas/facility-etl/internal/model"
)

// bucketCell is the bucket edge length in degrees.
const bucketCell = 0.1

// Enrich validates a record's coordinates in place. In-range coordinates
// get a GeoBucket; out-of-range coordinates are nulled (both of them, plus
// the bucket) and the record is flagged geo_invalid rather than silently
// passed through or discarded. Records without coordinates are left alone:
// this stage never geocodes addresses.
func Enrich(rec *model.FacilityRecord) {
	if !rec.HasCoordinates() {
		// One-sided coordinates are as unusable as out-of-range ones.
		if rec.Latitude != nil || rec.Longitude != nil {
			clearCoordinates(rec)
		}
		return
	}

	lat, lon := *rec.Latitude, *rec.Longitude
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		clearCoordinates(rec)
		return
	}

	rec.GeoBucket = Bucket(lat, lon)
}

// Bucket truncates coordinates to 0.1-degree cells, e.g. (39.52, -119.81)
// -> "39.5:-119.9". Used only for coarse clustering, never for exact
// distance queries.
func Bucket(lat, lon float64) string {
	return fmt.Sprintf("%.1f:%.1f", truncate(lat), truncate(lon))
}

func truncate(v float64) float64 {
	return math.Floor(v/bucketCell) * bucketCell
}

func clearCoordinates(rec *model.FacilityRecord) {
	rec.Latitude = nil
	rec.Longitude = nil
	rec.GeoBucket = ""
	rec.Flag(model.FlagGeoInvalid)
}
