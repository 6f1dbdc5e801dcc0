package challenge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator() *Validator {
	return NewValidator(Window{Start: 3, End: 4})
}

func TestValidateCountsDistinctMarkers(t *testing.T) {
	v := newTestValidator()

	res := v.Validate("However, there is a real risk this fails to scale.", 2)
	assert.True(t, res.PassesThreshold)
	assert.Equal(t, 2, res.MarkerCount)
	assert.ElementsMatch(t, []string{"however", "risk"}, res.DetectedMarkers)
	assert.NotContains(t, res.MissingCategories, CategoryCounterargument)
	assert.Contains(t, res.MissingCategories, CategoryDisagreement)
}

func TestValidateFailsBelowThreshold(t *testing.T) {
	v := newTestValidator()

	res := v.Validate("However, this looks broadly reasonable to me.", 2)
	assert.False(t, res.PassesThreshold)
	assert.Equal(t, 1, res.MarkerCount)
}

func TestValidateWordBoundaries(t *testing.T) {
	v := newTestValidator()

	// "shower" must not match "however", "brisket" must not match "risk".
	res := v.Validate("After a shower I ate brisket and felt fine.", 1)
	assert.Zero(t, res.MarkerCount)
	assert.False(t, res.PassesThreshold)
}

func TestValidateCaseAndSpacingInsensitive(t *testing.T) {
	v := newTestValidator()

	res := v.Validate("ON THE  OTHER HAND, the DOWNSIDE is clear.", 2)
	assert.True(t, res.PassesThreshold)
	assert.ElementsMatch(t, []string{"on the other hand", "downside"}, res.DetectedMarkers)
}

func TestValidateRoundOutsideWindowPassesTrivially(t *testing.T) {
	v := newTestValidator()

	for _, round := range []int{0, 1, 2, 5} {
		res := v.ValidateRound("plain agreement with no markers", round, 2)
		assert.True(t, res.PassesThreshold, "round %d", round)
		assert.Zero(t, res.MarkerCount, "round %d", round)
	}

	res := v.ValidateRound("plain agreement with no markers", 3, 2)
	assert.False(t, res.PassesThreshold)
}

func TestWindowContains(t *testing.T) {
	w := Window{Start: 3, End: 4}
	assert.False(t, w.Contains(2))
	assert.True(t, w.Contains(3))
	assert.True(t, w.Contains(4))
	assert.False(t, w.Contains(5))
}

func TestRePromptTruncatesExcerpt(t *testing.T) {
	v := newTestValidator()
	original := strings.Repeat("x", 500)

	res := v.Validate(original, 2)
	prompt := v.RePrompt(original, res)

	assert.Contains(t, prompt, strings.Repeat("x", 200)+"...")
	assert.NotContains(t, prompt, strings.Repeat("x", 201))
	assert.Contains(t, prompt, "found 0 of 2")
}

func TestDisagreementDensity(t *testing.T) {
	v := newTestValidator()

	texts := []string{
		"I disagree with this framing.",
		"The main risk is vendor lock-in.",
		"Sounds great, full support from me.",
		"Completely on board with the plan.",
	}
	require.InDelta(t, 0.5, v.DisagreementDensity(texts), 1e-9)
	assert.Zero(t, v.DisagreementDensity(nil))
}
