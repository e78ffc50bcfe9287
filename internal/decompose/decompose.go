// Package decompose implements spec.md §4.7's TaskDecomposer: turning one
// feature description into a set of atomic, independently testable tasks
// via a schema-enforced LLM call, with size categorization, validation,
// re-prompted splitting of oversized tasks, and dependency-name resolution.
//
// Grounded on internal/claude/invoker.go's JSON-schema-enforced call
// pattern and internal/estimation/estimator.go's prompt-building +
// InvokeAndParse shape. The strict output schema is generated with
// github.com/invopop/jsonschema, reflected off decomposedTask, rather than
// hand-written as a JSON Schema literal, so the schema and the Go parse
// target can never drift.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/estimate"
	"github.com/nexus-build/nexus/internal/llm"
)

// ParseError wraps a JSON decode failure over a model reply.
type ParseError struct {
	Detail string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("decompose: malformed JSON from model: %s", e.Detail)
}

// Options configures a decomposition request.
type Options struct {
	UseTDD       bool
	ContextFiles []string
}

// decomposedTask is the strict per-task shape requested of the model.
type decomposedTask struct {
	Name             string   `json:"name" jsonschema:"required,description=Short imperative task name"`
	Description      string   `json:"description" jsonschema:"required"`
	Files            []string `json:"files" jsonschema:"description=Paths this task touches (at most 5)"`
	TestCriteria     []string `json:"testCriteria" jsonschema:"description=Concrete pass/fail criteria"`
	DependsOn        []string `json:"dependsOn" jsonschema:"description=Names of other tasks in this response that must complete first"`
	EstimatedMinutes int      `json:"estimatedMinutes" jsonschema:"description=Estimated minutes, omitted lets TimeEstimator fill it in"`
}

// decomposeResponse is the strict top-level shape: a bare JSON array per
// spec.md §4.7 ("no prose"), so the schema wraps it as {"tasks": [...]}
// to keep a single named root the jsonschema reflector can target; the
// array-vs-object mismatch is reconciled by parseReply, which accepts
// either shape.
type decomposeResponse struct {
	Tasks []decomposedTask `json:"tasks" jsonschema:"required"`
}

var decomposeSchema string

func init() {
	reflector := &jsonschema.Reflector{RequiredFromJSONSchemaTags: true, DoNotReference: true}
	schema := reflector.Reflect(&decomposeResponse{})
	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("decompose: reflecting schema: %v", err))
	}
	decomposeSchema = string(b)
}

// Decomposer turns feature descriptions into validated core.Task sets.
type Decomposer struct {
	client    llm.Client
	estimator *estimate.Estimator
}

// New builds a Decomposer. estimator may be nil, in which case a fresh
// default estimate.Estimator is used to fill in minutes the model omits.
func New(client llm.Client, estimator *estimate.Estimator) *Decomposer {
	if estimator == nil {
		estimator = estimate.New()
	}
	return &Decomposer{client: client, estimator: estimator}
}

// Decompose produces tasks for one feature description, splitting any
// oversized task via a follow-up splitTask call and resolving dependsOn
// names to ids.
func (d *Decomposer) Decompose(ctx context.Context, projectID, featureID, featureDescription string, opts Options) ([]core.Task, error) {
	prompt := buildDecomposePrompt(featureDescription, opts)
	resp, err := d.client.Complete(ctx, llm.Request{Prompt: prompt, Schema: decomposeSchema})
	if err != nil {
		return nil, fmt.Errorf("decompose: llm call: %w", err)
	}

	raw, err := parseReply(resp.Content)
	if err != nil {
		return nil, err
	}

	built := make([]core.Task, 0, len(raw))
	nameToID := make(map[string]string, len(raw))
	for _, rt := range raw {
		t := d.buildTask(projectID, featureID, rt, opts)
		nameToID[normalizeName(rt.Name)] = t.ID
		built = append(built, t)
	}

	tasks := make([]core.Task, 0, len(built))
	for _, t := range built {
		if t.EstimatedMinutes > core.MaxEstimatedMinutes || len(t.Files) > core.MaxTaskFiles {
			split, err := d.splitTask(ctx, projectID, featureID, t, opts)
			if err != nil {
				return nil, err
			}
			// The oversized task's own id is no longer used; any other
			// task that named it in dependsOn is repointed at the first
			// split part, which carries the original's preconditions.
			if len(split) > 0 {
				nameToID[normalizeName(t.Name)] = split[0].ID
			}
			for _, st := range split {
				nameToID[normalizeName(st.Name)] = st.ID
			}
			tasks = append(tasks, split...)
			continue
		}
		tasks = append(tasks, t)
	}

	resolveDependsOn(tasks, nameToID)

	for i := range tasks {
		if err := tasks[i].Validate(); err != nil {
			return nil, fmt.Errorf("decompose: %w", err)
		}
	}

	return tasks, nil
}

func (d *Decomposer) buildTask(projectID, featureID string, rt decomposedTask, opts Options) core.Task {
	taskType := core.TaskAuto
	if opts.UseTDD {
		taskType = core.TaskTDD
	}

	t := core.Task{
		ID:               core.NewID(),
		ProjectID:        projectID,
		FeatureID:        featureID,
		Name:             rt.Name,
		Description:      rt.Description,
		Type:             taskType,
		Status:           core.TaskPending,
		Files:            rt.Files,
		TestCriteria:     rt.TestCriteria,
		DependsOn:        rt.DependsOn,
		EstimatedMinutes: rt.EstimatedMinutes,
	}

	if t.EstimatedMinutes <= 0 {
		t.EstimatedMinutes = d.estimator.Estimate(t)
	}
	t.CategorizeSize()
	return t
}

// splitTask re-prompts the model to break one oversized task into
// smaller ones, each independently re-validated, grounded on spec.md
// §4.7's "any oversized task is re-prompted via splitTask".
func (d *Decomposer) splitTask(ctx context.Context, projectID, featureID string, oversized core.Task, opts Options) ([]core.Task, error) {
	prompt := buildSplitPrompt(oversized)
	resp, err := d.client.Complete(ctx, llm.Request{Prompt: prompt, Schema: decomposeSchema})
	if err != nil {
		return nil, fmt.Errorf("decompose: split llm call: %w", err)
	}

	raw, err := parseReply(resp.Content)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []core.Task{oversized}, nil
	}

	split := make([]core.Task, 0, len(raw))
	for _, rt := range raw {
		t := d.buildTask(projectID, featureID, rt, opts)
		split = append(split, t)
	}
	return split, nil
}

// resolveDependsOn rewrites each task's DependsOn entries from model-
// supplied names to resolved task ids, comparing names case-insensitively
// and trimmed. Unresolved names are left as-is (spec.md §4.7's warning
// case); Decompose returns them unchanged, since Task.Validate does not
// check dependencies, and depgraph.Validate rejects them as dangling.
func resolveDependsOn(tasks []core.Task, nameToID map[string]string) {
	for i := range tasks {
		resolved := make([]string, 0, len(tasks[i].DependsOn))
		for _, dep := range tasks[i].DependsOn {
			if id, ok := nameToID[normalizeName(dep)]; ok {
				resolved = append(resolved, id)
			} else {
				resolved = append(resolved, dep)
			}
		}
		tasks[i].DependsOn = resolved
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// parseReply decodes a model reply into the flat task list, tolerating
// either a bare JSON array (spec.md §4.7's requested shape) or the
// {"tasks": [...]} object the schema models, and stripping ``` code
// fences the model may still wrap its output in.
func parseReply(content string) ([]decomposedTask, error) {
	cleaned := stripCodeFences(content)

	var arr []decomposedTask
	if err := json.Unmarshal([]byte(cleaned), &arr); err == nil {
		return arr, nil
	}

	var obj decomposeResponse
	if err := json.Unmarshal([]byte(cleaned), &obj); err == nil && obj.Tasks != nil {
		return obj.Tasks, nil
	}

	return nil, &ParseError{Detail: "neither array nor {tasks:[]} shape parsed", Raw: content}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx != -1 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "json" || firstLine == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func buildDecomposePrompt(featureDescription string, opts Options) string {
	var b strings.Builder
	b.WriteString("Decompose the following feature into atomic, independently testable engineering tasks.\n\n")
	fmt.Fprintf(&b, "Feature: %s\n\n", featureDescription)
	if len(opts.ContextFiles) > 0 {
		fmt.Fprintf(&b, "Relevant existing files: %s\n\n", strings.Join(opts.ContextFiles, ", "))
	}
	if opts.UseTDD {
		b.WriteString("Write tasks test-first: each task should specify the test to write before the implementation.\n\n")
	}
	b.WriteString("Constraints: each task must take at most 30 minutes, touch at most 5 files, and be independently verifiable. ")
	b.WriteString("Use dependsOn to name other tasks in this same response that must complete first. ")
	b.WriteString("Respond with a strict JSON array of tasks only, no prose, no markdown fences.")
	return b.String()
}

func buildSplitPrompt(oversized core.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following task is too large (estimated %d minutes, %d files) and must be split into smaller atomic tasks, each at most 30 minutes and 5 files.\n\n", oversized.EstimatedMinutes, len(oversized.Files))
	fmt.Fprintf(&b, "Task: %s\n%s\n\n", oversized.Name, oversized.Description)
	if len(oversized.Files) > 0 {
		fmt.Fprintf(&b, "Files: %s\n\n", strings.Join(oversized.Files, ", "))
	}
	b.WriteString("Respond with a strict JSON array of the smaller tasks only, no prose, no markdown fences.")
	return b.String()
}
