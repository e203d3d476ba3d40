package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recovery-atlas/facility-etl/internal/model"
)

func TestKey_Folding(t *testing.T) {
	tests := []struct {
		name    string
		a, b    [3]string
		sameKey bool
	}{
		{"case insensitive", [3]string{"Hope House", "Reno", "NV"}, [3]string{"HOPE HOUSE", "reno", "nv"}, true},
		{"whitespace collapsed", [3]string{"Hope  House ", "Reno", "NV"}, [3]string{"Hope House", "Reno", "NV"}, true},
		{"diacritics stripped", [3]string{"Café Serenity", "Reno", "NV"}, [3]string{"Cafe Serenity", "Reno", "NV"}, true},
		{"different city differs", [3]string{"Hope House", "Reno", "NV"}, [3]string{"Hope House", "Sparks", "NV"}, false},
		{"different state differs", [3]string{"Hope House", "Reno", "NV"}, [3]string{"Hope House", "Reno", "CA"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka := Key(tt.a[0], tt.a[1], tt.a[2])
			kb := Key(tt.b[0], tt.b[1], tt.b[2])
			if tt.sameKey {
				assert.Equal(t, ka, kb)
			} else {
				assert.NotEqual(t, ka, kb)
			}
		})
	}
}

func TestDeriveID_Deterministic(t *testing.T) {
	a := DeriveID("Hope House", "Reno", "NV")
	b := DeriveID("hope  house", "RENO", "nv")
	c := DeriveID("Hope House", "Sparks", "NV")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32) // 16 bytes hex-encoded
}

func TestResolve_TieBreaks(t *testing.T) {
	t.Run("higher score wins", func(t *testing.T) {
		low := model.FacilityRecord{Name: "A", Phone: "555", QualityScore: 0.4}
		high := model.FacilityRecord{Name: "B", QualityScore: 0.8}
		got := Resolve([]model.FacilityRecord{low, high})
		assert.Equal(t, "B", got.Name)
		// Loser's populated phone survives the fold.
		assert.Equal(t, "555", got.Phone)
	})

	t.Run("verified breaks score ties", func(t *testing.T) {
		unverified := model.FacilityRecord{Name: "A", QualityScore: 0.5}
		verified := model.FacilityRecord{Name: "B", QualityScore: 0.5, Verified: true}
		got := Resolve([]model.FacilityRecord{verified, unverified})
		assert.Equal(t, "B", got.Name)
		assert.True(t, got.Verified)
	})

	t.Run("last seen wins full ties", func(t *testing.T) {
		first := model.FacilityRecord{Name: "A", QualityScore: 0.5}
		second := model.FacilityRecord{Name: "B", QualityScore: 0.5}
		got := Resolve([]model.FacilityRecord{first, second})
		assert.Equal(t, "B", got.Name)
	})
}

func TestCollapse_CaseVariants(t *testing.T) {
	records := []model.FacilityRecord{
		{
			Name: "Hope House", City: "Reno", State: "NV",
			Services: []string{"residential"}, ServicesDisplay: []string{"Residential"},
			QualityScore: 0.5,
		},
		{
			Name: "HOPE HOUSE", City: "Reno", State: "NV",
			Services: []string{"detox"}, ServicesDisplay: []string{"Detox"},
			QualityScore: 0.5,
		},
		{
			Name: "Other Place", City: "Reno", State: "NV",
			QualityScore: 0.3,
		},
	}

	got := Collapse(records)
	require.Len(t, got, 2)

	// First-seen key order is preserved; the case variants collapse to one
	// record carrying the union of both service lists.
	assert.ElementsMatch(t, []string{"residential", "detox"}, got[0].Services)
	assert.True(t, got[0].IsResidential)
	assert.Equal(t, "Other Place", got[1].Name)
}

func TestCollapse_SingletonUnchanged(t *testing.T) {
	rec := model.FacilityRecord{Name: "Solo", City: "Reno", State: "NV", Phone: "555"}
	got := Collapse([]model.FacilityRecord{rec})
	require.Len(t, got, 1)
	assert.Equal(t, rec.Phone, got[0].Phone)
}
