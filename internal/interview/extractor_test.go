package interview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-build/nexus/internal/core"
)

func TestExtractRequirementsParsesWellFormedBlock(t *testing.T) {
	reply := `Sure, here's what I captured:
<requirement>
<text>Users must be able to reset their password via email</text>
<category>functional</category>
<priority>must</priority>
<confidence>0.9</confidence>
<area>authentication</area>
</requirement>
Let's keep going.`

	result := ExtractRequirements(reply, DefaultConfidenceThreshold)
	require.Equal(t, 1, result.RawCount)
	require.Equal(t, 1, result.FilteredCount)
	require.Len(t, result.Requirements, 1)

	req := result.Requirements[0]
	assert.Equal(t, core.CategoryFunctional, req.Category)
	assert.Equal(t, core.PriorityMust, req.Priority)
	assert.InDelta(t, 0.9, req.Confidence, 0.0001)
	assert.Equal(t, "authentication", req.Area)
	assert.Contains(t, req.Text, "reset their password")
}

func TestExtractRequirementsSkipsUnknownCategory(t *testing.T) {
	reply := `<requirement>
<text>Something vague</text>
<category>wishlist</category>
</requirement>`

	result := ExtractRequirements(reply, DefaultConfidenceThreshold)
	assert.Equal(t, 0, result.RawCount)
	assert.Empty(t, result.Requirements)
}

func TestExtractRequirementsMapsCategorySynonyms(t *testing.T) {
	reply := `<requirement>
<text>Must respond within 200ms</text>
<category>non-functional</category>
<confidence>0.8</confidence>
</requirement>`

	result := ExtractRequirements(reply, DefaultConfidenceThreshold)
	require.Len(t, result.Requirements, 1)
	assert.Equal(t, core.CategoryNonFunctional, result.Requirements[0].Category)
}

func TestExtractRequirementsDefaultsPriorityAndConfidence(t *testing.T) {
	reply := `<requirement>
<text>Should support dark mode</text>
<category>functional</category>
</requirement>`

	result := ExtractRequirements(reply, 0.4)
	require.Len(t, result.Requirements, 1)
	req := result.Requirements[0]
	assert.Equal(t, core.PriorityShould, req.Priority)
	assert.InDelta(t, 0.5, req.Confidence, 0.0001)
}

func TestExtractRequirementsFiltersBelowThreshold(t *testing.T) {
	reply := `<requirement>
<text>Maybe add a dashboard</text>
<category>functional</category>
<confidence>0.3</confidence>
</requirement>`

	result := ExtractRequirements(reply, DefaultConfidenceThreshold)
	assert.Equal(t, 1, result.RawCount)
	assert.Equal(t, 0, result.FilteredCount)
	assert.Empty(t, result.Requirements)
}

func TestExtractRequirementsHandlesMultipleBlocks(t *testing.T) {
	reply := `<requirement>
<text>First requirement</text>
<category>functional</category>
<confidence>0.9</confidence>
</requirement>
<requirement>
<text>Second requirement</text>
<category>technical</category>
<confidence>0.95</confidence>
</requirement>`

	result := ExtractRequirements(reply, DefaultConfidenceThreshold)
	assert.Equal(t, 2, result.RawCount)
	assert.Equal(t, 2, result.FilteredCount)
}
