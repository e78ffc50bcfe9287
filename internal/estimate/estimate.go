// Package estimate implements spec.md §4.8's TimeEstimator: a pure-Go
// heuristic estimate blended with historical calibration, plus an
// LLM-backed estimate for callers that want a model's opinion instead of
// (or as a prior for) the heuristic.
//
// Grounded on internal/estimation/estimator.go's prompt-building and
// InvokeAndParse pattern for the LLM half; the heuristic and calibration
// half has no teacher equivalent (the teacher only estimates human time
// via Claude haiku) and is built directly from spec.md §4.8's formula.
package estimate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/llm"
)

// Defaults for the heuristic formula and its clamp range (spec.md §4.8).
const (
	DefaultBaseMinutes          = 10
	DefaultFileWeight           = 2
	DefaultTestWeight           = 3
	DefaultComplexityMultiplier = 5
	DefaultMinMinutes           = 5
	DefaultMaxMinutes           = 30

	// MinCalibrationSamples is the smallest per-category sample count
	// before historical data is blended into the estimate.
	MinCalibrationSamples = 5
	// MaxCalibrationSamples bounds the rolling window kept per category.
	MaxCalibrationSamples = 100
)

// Category buckets a task for historical calibration purposes.
type Category string

const (
	CategoryTest           Category = "test"
	CategoryUI             Category = "ui"
	CategoryBackend        Category = "backend"
	CategoryInfrastructure Category = "infrastructure"
	CategoryGeneral        Category = "general"
)

var highComplexityKeywords = []string{
	"algorithm", "concurrency", "concurrent", "security", "migration",
	"encryption", "distributed", "race condition", "performance",
}

var lowComplexityKeywords = []string{
	"rename", "comment", "config", "typo", "formatting", "whitespace",
}

var testKeywords = []string{"test", "spec", "coverage"}
var uiKeywords = []string{"ui", "component", "frontend", "css", "style", "layout", "render"}
var infraKeywords = []string{"docker", "ci", "deploy", "pipeline", "infrastructure", "terraform", "k8s", "kubernetes"}
var backendKeywords = []string{"api", "endpoint", "database", "query", "service", "handler", "server"}

// InferCategory classifies a task by keyword match over its name and
// description, defaulting to CategoryGeneral.
func InferCategory(t core.Task) Category {
	text := strings.ToLower(t.Name + " " + t.Description)
	switch {
	case containsAny(text, testKeywords):
		return CategoryTest
	case containsAny(text, uiKeywords):
		return CategoryUI
	case containsAny(text, infraKeywords):
		return CategoryInfrastructure
	case containsAny(text, backendKeywords):
		return CategoryBackend
	default:
		return CategoryGeneral
	}
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// complexityAdjustment returns +1 for a task whose text matches a
// high-complexity keyword, -1 for a low-complexity match, 0 otherwise.
func complexityAdjustment(t core.Task) int {
	text := strings.ToLower(t.Name + " " + t.Description)
	if containsAny(text, highComplexityKeywords) {
		return 1
	}
	if containsAny(text, lowComplexityKeywords) {
		return -1
	}
	return 0
}

func hasTestCriteria(t core.Task) int {
	if len(t.TestCriteria) > 0 {
		return 1
	}
	return 0
}

// Heuristic computes the pure-formula estimate, unclamped: base +
// fileWeight*|files| + complexityMultiplier*adjustment + testWeight*hasTests.
func Heuristic(t core.Task) int {
	return DefaultBaseMinutes +
		DefaultFileWeight*len(t.Files) +
		DefaultComplexityMultiplier*complexityAdjustment(t) +
		DefaultTestWeight*hasTestCriteria(t)
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Calibrator keeps a rolling per-category window of observed actual
// durations and blends it 50/50 with the heuristic once a category has
// accumulated enough samples, per spec.md §4.8.
type Calibrator struct {
	mu      sync.Mutex
	samples map[Category][]int
}

// NewCalibrator builds an empty Calibrator.
func NewCalibrator() *Calibrator {
	return &Calibrator{samples: make(map[Category][]int)}
}

// Calibrate records an actual duration for the task's inferred category,
// trimming the window to MaxCalibrationSamples (oldest dropped first).
func (c *Calibrator) Calibrate(t core.Task, actualMinutes int) {
	cat := InferCategory(t)
	c.mu.Lock()
	defer c.mu.Unlock()
	s := append(c.samples[cat], actualMinutes)
	if len(s) > MaxCalibrationSamples {
		s = s[len(s)-MaxCalibrationSamples:]
	}
	c.samples[cat] = s
}

// average returns the mean of a category's recorded samples and whether
// there are enough of them to calibrate with.
func (c *Calibrator) average(cat Category) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.samples[cat]
	if len(s) < MinCalibrationSamples {
		return 0, false
	}
	total := 0
	for _, v := range s {
		total += v
	}
	return total / len(s), true
}

// Estimator computes the final per-task estimate: heuristic alone until
// a category has enough historical samples, then a 50/50 blend, always
// clamped to [minMinutes, maxMinutes].
type Estimator struct {
	Calibrator *Calibrator
	MinMinutes int
	MaxMinutes int
}

// New builds an Estimator with spec.md §4.8's default clamp range.
func New() *Estimator {
	return &Estimator{
		Calibrator: NewCalibrator(),
		MinMinutes: DefaultMinMinutes,
		MaxMinutes: DefaultMaxMinutes,
	}
}

// Estimate returns the final heuristic/historical-blended minute count
// for a single task.
func (e *Estimator) Estimate(t core.Task) int {
	heuristic := Heuristic(t)
	if historical, ok := e.Calibrator.average(InferCategory(t)); ok {
		heuristic = (heuristic + historical) / 2
	}
	minM, maxM := e.MinMinutes, e.MaxMinutes
	if minM == 0 && maxM == 0 {
		minM, maxM = DefaultMinMinutes, DefaultMaxMinutes
	}
	return clamp(heuristic, minM, maxM)
}

// EstimateTotal sums per-task estimates. Parallelism across a wave is
// accounted for at wave-scheduling time, not here (spec.md §4.8).
func (e *Estimator) EstimateTotal(tasks []core.Task) int {
	total := 0
	for _, t := range tasks {
		total += e.Estimate(t)
	}
	return total
}

// llmEstimateResponse is the strict JSON shape requested from the model,
// mirroring internal/estimation/estimator.go's EstimateResponse.
type llmEstimateResponse struct {
	EstimateMinutes int    `json:"estimate_minutes" jsonschema:"required,minimum=1,description=Estimated minutes for a senior developer"`
	Reasoning       string `json:"reasoning" jsonschema:"description=Brief explanation of the estimate"`
	Confidence      string `json:"confidence" jsonschema:"enum=high,enum=medium,enum=low"`
}

var llmEstimateSchema string

func init() {
	reflector := &jsonschema.Reflector{RequiredFromJSONSchemaTags: true, DoNotReference: true}
	schema := reflector.Reflect(&llmEstimateResponse{})
	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("estimate: reflecting llm schema: %v", err))
	}
	llmEstimateSchema = string(b)
}

// LLMEstimate asks the model how long a senior developer would take,
// for callers that prefer a model-grounded estimate to the pure
// heuristic. TaskDecomposer does not use it: it fills a missing
// estimatedMinutes through Estimator.Estimate.
func LLMEstimate(ctx context.Context, client llm.Client, t core.Task) (int, error) {
	resp, err := client.Complete(ctx, llm.Request{Prompt: buildLLMPrompt(t), Schema: llmEstimateSchema})
	if err != nil {
		return 0, fmt.Errorf("estimate: llm call: %w", err)
	}

	var parsed llmEstimateResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return 0, fmt.Errorf("estimate: parse llm response: %w", err)
	}
	if parsed.EstimateMinutes <= 0 {
		return 0, fmt.Errorf("estimate: llm returned non-positive estimate")
	}
	return parsed.EstimateMinutes, nil
}

func buildLLMPrompt(t core.Task) string {
	var b strings.Builder
	b.WriteString("Estimate how long a senior software developer would take to complete this task manually.\n\n")
	fmt.Fprintf(&b, "Task: %s\n", t.Name)
	if t.Description != "" {
		desc := t.Description
		if len(desc) > 2000 {
			desc = desc[:2000] + "..."
		}
		fmt.Fprintf(&b, "Description: %s\n", desc)
	}
	if len(t.Files) > 0 {
		fmt.Fprintf(&b, "Files: %s\n", strings.Join(t.Files, ", "))
	}
	if len(t.TestCriteria) > 0 {
		fmt.Fprintf(&b, "Test criteria: %s\n", strings.Join(t.TestCriteria, "; "))
	}
	b.WriteString("\nProvide your estimate in minutes. Respond with JSON only.")
	return b.String()
}
