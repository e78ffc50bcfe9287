// Package interview implements spec.md §4.17's RequirementExtractor and
// InterviewEngine: turning a free-form requirements conversation into
// structured, categorized Requirement rows the decomposer can consume.
//
// The extractor below is a hand-rolled <requirement> tag scanner, not a
// goldmark consumer: the target isn't a markdown document tree but a flat
// list of XML-ish blocks. goldmark itself is used in transcript.go, for
// rendering a completed session as HTML (internal/parser/markdown.go's
// library, repurposed from plan-parsing to transcript export). Chat-call
// plumbing here is grounded on internal/claude/service.go's
// InvokeAndParse.
package interview

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nexus-build/nexus/internal/core"
)

// DefaultConfidenceThreshold is the minimum confidence a requirement must
// carry to be kept by ExtractRequirements.
const DefaultConfidenceThreshold = 0.7

var requirementBlockPattern = regexp.MustCompile(`(?s)<requirement>(.*?)</requirement>`)

var tagPatterns = map[string]*regexp.Regexp{
	"text":       regexp.MustCompile(`(?s)<text>(.*?)</text>`),
	"category":   regexp.MustCompile(`(?s)<category>(.*?)</category>`),
	"priority":   regexp.MustCompile(`(?s)<priority>(.*?)</priority>`),
	"confidence": regexp.MustCompile(`(?s)<confidence>(.*?)</confidence>`),
	"area":       regexp.MustCompile(`(?s)<area>(.*?)</area>`),
}

// categorySynonyms maps alternate spellings a model might emit onto the
// canonical core.RequirementCategory values.
var categorySynonyms = map[string]core.RequirementCategory{
	"functional":      core.CategoryFunctional,
	"non_functional":  core.CategoryNonFunctional,
	"non-functional":  core.CategoryNonFunctional,
	"nonfunctional":   core.CategoryNonFunctional,
	"technical":       core.CategoryTechnical,
	"constraint":      core.CategoryConstraint,
	"constraints":     core.CategoryConstraint,
	"assumption":      core.CategoryAssumption,
	"assumptions":     core.CategoryAssumption,
}

var prioritySynonyms = map[string]core.Priority{
	"must":   core.PriorityMust,
	"should": core.PriorityShould,
	"could":  core.PriorityCould,
	"wont":   core.PriorityWont,
	"won't":  core.PriorityWont,
}

// ExtractionResult is ExtractRequirements's return value.
type ExtractionResult struct {
	Requirements   []core.Requirement
	RawCount       int
	FilteredCount  int
}

// ExtractRequirements scans reply for <requirement> blocks, maps each to a
// core.Requirement, and keeps only those at or above threshold confidence.
// Blocks with an unknown or missing category are skipped entirely — they
// never count toward RawCount.
func ExtractRequirements(reply string, threshold float64) ExtractionResult {
	var result ExtractionResult

	for _, m := range requirementBlockPattern.FindAllStringSubmatch(reply, -1) {
		block := m[1]

		categoryRaw := strings.ToLower(strings.TrimSpace(firstMatch(tagPatterns["category"], block)))
		category, ok := categorySynonyms[categoryRaw]
		if !ok {
			continue
		}

		result.RawCount++

		text := strings.TrimSpace(firstMatch(tagPatterns["text"], block))

		priority := core.PriorityShould
		if p, ok := prioritySynonyms[strings.ToLower(strings.TrimSpace(firstMatch(tagPatterns["priority"], block)))]; ok {
			priority = p
		}

		confidence := 0.5
		if raw := strings.TrimSpace(firstMatch(tagPatterns["confidence"], block)); raw != "" {
			if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
				confidence = parsed
			}
		}

		if confidence < threshold {
			continue
		}

		req := core.Requirement{
			ID:         core.NewID(),
			Category:   category,
			Text:       text,
			Priority:   priority,
			Confidence: confidence,
			Area:       strings.TrimSpace(firstMatch(tagPatterns["area"], block)),
		}
		result.Requirements = append(result.Requirements, req)
		result.FilteredCount++
	}

	return result
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
