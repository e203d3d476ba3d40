// Package dedupe derives stable facility identities and collapses
// duplicate records within a single pipeline run.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/recovery-atlas/facility-etl/internal/model"
)

// keyDelimiter joins the name/city/state triple. '|' is not expected in
// any source field.
const keyDelimiter = "|"

// stripMarks removes diacritical marks so "Café" and "Cafe" fold to the
// same key.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Key returns the dedupe key for a facility: lower-cased,
// whitespace-collapsed, diacritic-stripped name|city|state.
func Key(name, city, state string) string {
	return fold(name) + keyDelimiter + fold(city) + keyDelimiter + fold(state)
}

// RecordKey returns the dedupe key for a normalized record.
func RecordKey(rec *model.FacilityRecord) string {
	return Key(rec.Name, rec.City, rec.State)
}

// DeriveID returns the stable record identity for a name/city/state triple.
// It is a pure function: two records that fold to the same triple always
// collide to the same ID.
func DeriveID(name, city, state string) string {
	sum := sha256.Sum256([]byte(Key(name, city, state)))
	return hex.EncodeToString(sum[:16])
}

// fold lower-cases, trims, collapses internal whitespace, and strips
// diacritics.
func fold(s string) string {
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Resolve collapses a set of records sharing one dedupe key down to one.
// The winner is picked by: highest quality score, then verified=true, then
// latest-seen in input order (last wins) — the order is fixed so output
// stays deterministic. The remaining duplicates are then folded into the
// winner under the most-complete-wins merge, so data present only on a
// loser (extra services, a missing phone) is not thrown away.
func Resolve(group []model.FacilityRecord) model.FacilityRecord {
	if len(group) == 1 {
		return group[0]
	}

	winner := group[0]
	for _, cand := range group[1:] {
		if better(cand, winner) {
			winner = cand
		}
	}

	for _, rec := range group {
		winner = model.Merge(winner, rec)
	}
	return winner
}

// better reports whether cand should replace the current winner. cand is
// later in input order, so ties fall through to true.
func better(cand, cur model.FacilityRecord) bool {
	if cand.QualityScore != cur.QualityScore {
		return cand.QualityScore > cur.QualityScore
	}
	if cand.Verified != cur.Verified {
		return cand.Verified
	}
	return true // last seen wins
}

// Collapse groups records by dedupe key, resolving each group to one
// record, and returns the winners in first-seen key order.
func Collapse(records []model.FacilityRecord) []model.FacilityRecord {
	groups := make(map[string][]model.FacilityRecord, len(records))
	var order []string
	for _, rec := range records {
		k := RecordKey(&rec)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rec)
	}

	out := make([]model.FacilityRecord, 0, len(order))
	for _, k := range order {
		out = append(out, Resolve(groups[k]))
	}
	return out
}
