package review

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionInputNormalize(t *testing.T) {
	in := DecisionInput{Decision: " Include ", ExclusionReason: "language", Notes: " ok "}
	require.NoError(t, in.Normalize())
	assert.Equal(t, DecisionInclude, in.Decision)
	assert.Empty(t, in.ExclusionReason, "reason dropped when not excluding")
	assert.Equal(t, "ok", in.Notes)
}

func TestExcludeRequiresReason(t *testing.T) {
	in := DecisionInput{Decision: DecisionExclude}
	err := in.Normalize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDecision))
	assert.Contains(t, err.Error(), "exclusion_reason")

	in = DecisionInput{Decision: DecisionExclude, ExclusionReason: "boring"}
	assert.Error(t, in.Normalize())

	in = DecisionInput{Decision: DecisionExclude, ExclusionReason: ReasonWrongContext}
	assert.NoError(t, in.Normalize())
}

func TestExcludeOtherRequiresNotes(t *testing.T) {
	in := DecisionInput{Decision: DecisionExclude, ExclusionReason: ReasonOther}
	err := in.Normalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notes")

	in.Notes = "conference abstract only"
	assert.NoError(t, in.Normalize())
}

func TestUnknownDecision(t *testing.T) {
	in := DecisionInput{Decision: "accept"}
	assert.Error(t, in.Normalize())
}

func TestDecisionForTag(t *testing.T) {
	d, ok := DecisionForTag("Include")
	assert.True(t, ok)
	assert.Equal(t, DecisionInclude, d)
	d, ok = DecisionForTag("maybe")
	assert.True(t, ok)
	assert.Equal(t, DecisionMaybe, d)
	_, ok = DecisionForTag("Important")
	assert.False(t, ok)
}

func TestBuildProgress(t *testing.T) {
	p := BuildProgress(Counts{
		Total: 3, Include: 1, Exclude: 1, Pending: 1,
		Reasons: map[ExclusionReason]int{ReasonLanguage: 1, ReasonNoAccess: 0},
	})
	assert.Equal(t, 2, p.Reviewed)
	assert.Equal(t, 66.7, p.PercentReviewed)
	require.Len(t, p.ExclusionReasons, 1)
	assert.Equal(t, ReasonLanguage, p.ExclusionReasons[0].Reason)
	assert.Equal(t, "Language", p.ExclusionReasons[0].Label)

	assert.Equal(t, 0.0, BuildProgress(Counts{}).PercentReviewed)
}

func TestSortedReasons(t *testing.T) {
	out := SortedReasons(map[ExclusionReason]int{ReasonOther: 2, ReasonNotRelevant: 2, ReasonLanguage: 5})
	require.Len(t, out, 3)
	assert.Equal(t, ReasonLanguage, out[0].Reason)
	assert.Equal(t, ReasonNotRelevant, out[1].Reason)
	assert.Equal(t, ReasonOther, out[2].Reason)
}

func TestCheckCompletion(t *testing.T) {
	issues, _ := CheckCompletion(Counts{})
	assert.Len(t, issues, 1)

	issues, warnings := CheckCompletion(Counts{Total: 4, Include: 1, Maybe: 1, Pending: 2})
	assert.Equal(t, []string{"2 results still pending review"}, issues)
	assert.Equal(t, []string{"1 results are marked maybe"}, warnings)

	issues, warnings = CheckCompletion(Counts{Total: 2, Include: 1, Exclude: 1})
	assert.Empty(t, issues)
	assert.Empty(t, warnings)
}
