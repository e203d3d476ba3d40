package model

import (
	"reflect"
	"strings"
)

// Merge combines two versions of the same facility under the "most
// complete wins" rule: a populated field beats an empty one, and when both
// sides are populated but differ, the record with the higher quality score
// wins (existing wins ties). Exceptions: verified is sticky-true and
// CreatedAt is preserved from the original insert. Services are unioned.
//
// Merge is pure; callers must recompute the quality score on the result
// rather than trusting either input's stale value.
func Merge(existing, incoming FacilityRecord) FacilityRecord {
	out := existing
	incomingWinsConflicts := incoming.QualityScore > existing.QualityScore

	out.Street = pickString(existing.Street, incoming.Street, incomingWinsConflicts)
	out.Zip = pickString(existing.Zip, incoming.Zip, incomingWinsConflicts)
	out.Phone = pickString(existing.Phone, incoming.Phone, incomingWinsConflicts)
	out.Website = pickString(existing.Website, incoming.Website, incomingWinsConflicts)

	// Coordinates move as a pair so a mixed lat/lon never appears.
	switch {
	case existing.HasCoordinates() && incoming.HasCoordinates():
		if incomingWinsConflicts {
			out.Latitude, out.Longitude, out.GeoBucket = incoming.Latitude, incoming.Longitude, incoming.GeoBucket
		}
	case incoming.HasCoordinates():
		out.Latitude, out.Longitude, out.GeoBucket = incoming.Latitude, incoming.Longitude, incoming.GeoBucket
	}

	out.Services, out.ServicesDisplay = unionServices(existing, incoming)
	out.IsResidential = residential(out.Services)

	out.Metadata = mergeMetadata(existing.Metadata, incoming.Metadata)

	// Sticky-true: once verified, a pipeline run never reverts it.
	out.Verified = existing.Verified || incoming.Verified

	if out.CreatedAt.IsZero() || (!incoming.CreatedAt.IsZero() && incoming.CreatedAt.Before(out.CreatedAt)) {
		out.CreatedAt = incoming.CreatedAt
	}

	if incomingWinsConflicts {
		out.SourceData = incoming.SourceData
	}

	return out
}

// Equal reports whether two records carry the same persisted field values,
// ignoring timestamps and quality score. The loader uses it to tell no-op
// merges from real changes so the updated counter stays meaningful.
// Metadata participates: a quality flag appearing on re-import is a real
// change and must be persisted.
func Equal(a, b FacilityRecord) bool {
	if a.ID != b.ID || a.Name != b.Name ||
		a.Street != b.Street || a.City != b.City || a.State != b.State || a.Zip != b.Zip ||
		a.Phone != b.Phone || a.Website != b.Website ||
		a.GeoBucket != b.GeoBucket ||
		a.IsResidential != b.IsResidential || a.Verified != b.Verified {
		return false
	}
	if !floatPtrEq(a.Latitude, b.Latitude) || !floatPtrEq(a.Longitude, b.Longitude) {
		return false
	}
	if !stringSliceEq(a.Services, b.Services) || !stringSliceEq(a.ServicesDisplay, b.ServicesDisplay) {
		return false
	}
	return metadataEq(a.Metadata, b.Metadata)
}

func pickString(existing, incoming string, incomingWins bool) string {
	if existing == "" {
		return incoming
	}
	if incoming == "" {
		return existing
	}
	if incomingWins {
		return incoming
	}
	return existing
}

// unionServices merges the matching sets and display lists, keyed by the
// lower-cased token, preserving first-seen order (existing first).
func unionServices(existing, incoming FacilityRecord) ([]string, []string) {
	seen := make(map[string]bool, len(existing.Services)+len(incoming.Services))
	var matched, display []string

	add := func(rec FacilityRecord) {
		for i, svc := range rec.Services {
			if svc == "" || seen[svc] {
				continue
			}
			seen[svc] = true
			matched = append(matched, svc)
			if i < len(rec.ServicesDisplay) {
				display = append(display, rec.ServicesDisplay[i])
			} else {
				display = append(display, svc)
			}
		}
	}
	add(existing)
	add(incoming)
	return matched, display
}

func residential(services []string) bool {
	for _, svc := range services {
		if strings.Contains(svc, "residential") {
			return true
		}
	}
	return false
}

func mergeMetadata(existing, incoming map[string]any) map[string]any {
	if existing == nil && incoming == nil {
		return nil
	}
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range incoming {
		out[k] = v
	}
	for k, v := range existing {
		out[k] = v
	}
	return out
}

// metadataEq compares metadata maps, treating nil and empty as equal so a
// record that never grew metadata does not flap between states. Values are
// flags (bool) and source markers (string), both stable across a JSON
// round trip.
func metadataEq(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}

func floatPtrEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func stringSliceEq(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
