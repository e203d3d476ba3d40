// Package normalize maps heterogeneous source records into the canonical
// facility schema.
package normalize

import (
	"fmt"
	"strings"

	"github.com/recovery-atlas/facility-etl/internal/dedupe"
	"github.com/recovery-atlas/facility-etl/internal/model"
)

// SourceFormat identifies where a raw record came from. Field aliases are
// shared across formats; the format is recorded in metadata for
// provenance.
type SourceFormat string

const (
	FormatCSV  SourceFormat = "csv"
	FormatJSON SourceFormat = "json"
	FormatXLSX SourceFormat = "xlsx"
	FormatAPI  SourceFormat = "api"
)

// ParseFormat converts a CLI/config string into a SourceFormat.
func ParseFormat(s string) (SourceFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "xlsx":
		return FormatXLSX, nil
	case "api":
		return FormatAPI, nil
	default:
		return "", fmt.Errorf("unknown source format: %q (valid: csv, json, xlsx, api)", s)
	}
}

// Field aliases accepted per canonical field. Upstream exports disagree on
// header names; lookup is case-insensitive.
var (
	nameKeys     = []string{"name", "name1", "facility_name", "facilityname"}
	streetKeys   = []string{"street", "street1", "address", "address1"}
	cityKeys     = []string{"city", "town"}
	stateKeys    = []string{"state", "state_code", "st"}
	zipKeys      = []string{"zip", "zipcode", "zip_code", "postal_code"}
	phoneKeys    = []string{"phone", "phone_number", "telephone"}
	websiteKeys  = []string{"website", "url", "web", "website_url"}
	servicesKeys = []string{"all_services", "allservices", "services", "service_codes"}
	residKeys    = []string{"residential_services", "residentialservices"}
	latKeys      = []string{"latitude", "lat"}
	lonKeys      = []string{"longitude", "lon", "lng"}
	verifiedKeys = []string{"verified", "is_verified"}
)

// Record maps a raw source record into a canonical FacilityRecord. It is a
// pure function: malformed optional fields are flagged in metadata rather
// than failing the record, and only missing required fields produce an
// error.
func Record(raw model.RawRecord, format SourceFormat) (model.FacilityRecord, error) {
	name := raw.String(nameKeys...)
	city := raw.String(cityKeys...)
	state := raw.String(stateKeys...)

	// Checked in a fixed order so the reported field is deterministic.
	switch {
	case name == "":
		return model.FacilityRecord{}, &Error{Code: MissingRequiredField, Field: "name"}
	case city == "":
		return model.FacilityRecord{}, &Error{Code: MissingRequiredField, Field: "city"}
	case state == "":
		return model.FacilityRecord{}, &Error{Code: MissingRequiredField, Field: "state"}
	}

	rec := model.FacilityRecord{
		Name:       name,
		Street:     raw.String(streetKeys...),
		City:       city,
		Zip:        raw.String(zipKeys...),
		SourceData: raw,
		Metadata:   map[string]any{"source_format": string(format)},
	}

	rec.State = normalizeState(state, &rec)
	rec.ID = dedupe.DeriveID(rec.Name, rec.City, rec.State)

	rec.Phone = normalizePhone(raw.String(phoneKeys...), &rec)
	rec.Website = normalizeWebsite(raw.String(websiteKeys...))

	all := splitServices(raw.String(servicesKeys...))
	resid := splitServices(raw.String(residKeys...))
	rec.Services, rec.ServicesDisplay = mergeServiceTokens(all, resid)
	rec.IsResidential = isResidential(rec.Services)

	if lat, ok := raw.Float(latKeys...); ok {
		rec.Latitude = &lat
	}
	if lon, ok := raw.Float(lonKeys...); ok {
		rec.Longitude = &lon
	}

	rec.Verified = parseBool(raw.String(verifiedKeys...))

	return rec, nil
}

// normalizePhone strips non-digits and canonicalizes 10-digit numbers to
// "(XXX) XXX-XXXX". Anything else keeps the original string and is flagged,
// never discarded.
func normalizePhone(phone string, rec *model.FacilityRecord) string {
	if phone == "" {
		return ""
	}

	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	d := digits.String()
	if len(d) == 10 {
		return fmt.Sprintf("(%s) %s-%s", d[0:3], d[3:6], d[6:10])
	}

	rec.Flag(model.FlagPhoneMalformed)
	return phone
}

// normalizeWebsite prefixes https:// when the scheme is missing.
func normalizeWebsite(site string) string {
	if site == "" {
		return ""
	}
	if !strings.Contains(site, "://") {
		return "https://" + site
	}
	return site
}

// normalizeState upper-cases and flags values that are not exactly two
// letters, keeping the raw value.
func normalizeState(state string, rec *model.FacilityRecord) string {
	up := strings.ToUpper(strings.TrimSpace(state))
	if len(up) != 2 || !isAlpha(up) {
		rec.Flag(model.FlagStateMalformed)
		return state
	}
	return up
}

// splitServices splits a semicolon-delimited service list, trimming tokens
// and dropping empties.
func splitServices(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mergeServiceTokens unions the service lists, keyed by lower-cased token
// for matching while preserving original casing for display.
func mergeServiceTokens(lists ...[]string) (matched, display []string) {
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, tok := range list {
			key := strings.ToLower(tok)
			if seen[key] {
				continue
			}
			seen[key] = true
			matched = append(matched, key)
			display = append(display, tok)
		}
	}
	return matched, display
}

func isResidential(services []string) bool {
	for _, svc := range services {
		if strings.Contains(svc, "residential") {
			return true
		}
	}
	return false
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "1", "yes", "y", "verified":
		return true
	}
	return false
}
