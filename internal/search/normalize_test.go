package search

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Min-max normalization
// =============================================================================

func TestNormalize_ScalesIntoUnitRange(t *testing.T) {
	// Given: scores spanning 2..10
	list := RankedList{{"a", 10}, {"b", 6}, {"c", 2}}

	// When: normalizing
	got := Normalize(list)

	// Then: max maps to 1, min to 0, others linearly between
	want := map[string]float64{"a": 1, "b": 0.5, "c": 0}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Normalize mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_DegenerateScoresMapToOne(t *testing.T) {
	// Given: every score equal
	list := RankedList{{"a", 5}, {"b", 5}, {"c", 5}}

	// When: normalizing
	got := Normalize(list)

	// Then: all documents get 1.0 rather than 0
	assert.Equal(t, map[string]float64{"a": 1, "b": 1, "c": 1}, got)
}

func TestNormalize_SpanBelowThresholdIsDegenerate(t *testing.T) {
	got := Normalize(RankedList{{"a", 1.0}, {"b", 1.0 + 1e-13}})
	assert.Equal(t, 1.0, got["a"])
	assert.Equal(t, 1.0, got["b"])
}

func TestNormalize_SingleDocument(t *testing.T) {
	got := Normalize(RankedList{{"only", -3.2}})
	assert.Equal(t, map[string]float64{"only": 1}, got)
}

func TestNormalize_EmptyInput(t *testing.T) {
	got := Normalize(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	assert.Empty(t, NormalizeScores(map[string]float64{}))
}

func TestNormalize_NegativeScores(t *testing.T) {
	got := Normalize(RankedList{{"a", -1}, {"b", -3}})
	assert.InDelta(t, 1.0, got["a"], 1e-12)
	assert.InDelta(t, 0.0, got["b"], 1e-12)
}

func TestNormalize_RepeatedIDKeepsFirstScore(t *testing.T) {
	got := Normalize(RankedList{{"a", 4}, {"b", 2}, {"a", 0}})
	assert.Len(t, got, 2)
	assert.InDelta(t, 1.0, got["a"], 1e-12)
	assert.InDelta(t, 0.0, got["b"], 1e-12)
}
