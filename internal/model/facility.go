// Package model defines the canonical entities shared across pipeline stages.
package model

import (
	"strings"
	"time"
)

// RawRecord is an unvalidated source record prior to normalization. Keys are
// source-specific column/field names; values are whatever the extractor
// produced (strings for CSV/XLSX, arbitrary JSON values for JSON/API).
// RawRecords are ephemeral and never cross past the Normalizer stage.
type RawRecord map[string]any

// String returns the trimmed string value for the first key that is present,
// coercing non-string scalars. Missing keys yield "".
func (r RawRecord) String(keys ...string) string {
	for _, k := range keys {
		v, ok := r.lookup(k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			return strings.TrimSpace(t)
		case float64:
			return trimFloat(t)
		case int:
			return trimInt(t)
		case bool:
			if t {
				return "true"
			}
			return "false"
		}
	}
	return ""
}

// Float returns the float value for the first matching key, if parseable.
func (r RawRecord) Float(keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := r.lookup(k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t, true
		case int:
			return float64(t), true
		case string:
			s := strings.TrimSpace(t)
			if s == "" {
				continue
			}
			if f, err := parseFloat(s); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// lookup is case-insensitive on the key so that CSV headers like "NAME1"
// and API fields like "name1" resolve the same way.
func (r RawRecord) lookup(key string) (any, bool) {
	if v, ok := r[key]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// FacilityRecord is the canonical, validated entity persisted by the
// pipeline. ID is a pure function of (normalized name, city, state).
type FacilityRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Street    string   `json:"street,omitempty"`
	City      string   `json:"city"`
	State     string   `json:"state"`
	Zip       string   `json:"zip,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	GeoBucket string   `json:"geo_bucket,omitempty"`

	Phone   string `json:"phone,omitempty"`
	Website string `json:"website,omitempty"`

	// Services holds lower-cased tokens used for matching; ServicesDisplay
	// preserves the original casing for presentation.
	Services        []string `json:"services,omitempty"`
	ServicesDisplay []string `json:"services_display,omitempty"`
	IsResidential   bool     `json:"is_residential"`

	SourceData RawRecord      `json:"source_data,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	QualityScore float64 `json:"quality_score"`
	Verified     bool    `json:"verified"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Flag records a data-quality marker (phone_malformed, state_malformed,
// geo_invalid) without discarding the record.
func (f *FacilityRecord) Flag(name string) {
	if f.Metadata == nil {
		f.Metadata = make(map[string]any, 2)
	}
	f.Metadata[name] = true
}

// Flagged reports whether a quality marker has been set.
func (f *FacilityRecord) Flagged(name string) bool {
	v, ok := f.Metadata[name]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// HasCoordinates reports whether both latitude and longitude are present.
func (f *FacilityRecord) HasCoordinates() bool {
	return f.Latitude != nil && f.Longitude != nil
}

// Metadata flag names set by the pipeline stages.
const (
	FlagPhoneMalformed = "phone_malformed"
	FlagStateMalformed = "state_malformed"
	FlagGeoInvalid     = "geo_invalid"
)
