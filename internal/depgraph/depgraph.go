// Package depgraph implements spec.md §4.6's DependencyResolver:
// validating a task set's dependency edges, detecting cycles, grouping
// tasks into concurrency-safe waves, and answering critical-path and
// ready-task queries. Grounded on internal/executor/graph.go
// (DependencyGraph/BuildDependencyGraph/HasCycle/CalculateWaves),
// generalized from task-number strings to core.Task IDs and from a
// single-repo file-overlap check to a general DAG utility usable by
// internal/queue as well.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/nexus-build/nexus/internal/core"
)

// DefaultMaxConcurrency is a suggested per-wave concurrency bound for
// callers; CalculateWaves does not apply it and places no cap on wave size.
const DefaultMaxConcurrency = 10

// CircularDependencyError names every task ID on a detected cycle.
type CircularDependencyError struct {
	TaskIDs []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("depgraph: circular dependency among tasks: %v", e.TaskIDs)
}

// Graph is a directed graph of task dependencies: Edges maps a
// prerequisite task ID to the task IDs that depend on it.
type Graph struct {
	Tasks    map[string]*core.Task
	Edges    map[string][]string
	InDegree map[string]int
}

// Validate checks that every task has a unique, non-empty ID and that
// every DependsOn entry names a task present in the set.
func Validate(tasks []core.Task) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("depgraph: task has empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("depgraph: duplicate task id %s", t.ID)
		}
		seen[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("depgraph: task %s (%s) depends on non-existent task %s", t.ID, t.Name, dep)
			}
		}
	}
	return nil
}

// Build constructs a Graph from a task set. Callers should run Validate
// first; Build silently skips edges to unknown dependencies rather than
// erroring, matching internal/executor/graph.go's defensive behavior
// (invalid dependencies are reported by Validate, not by Build).
func Build(tasks []core.Task) *Graph {
	g := &Graph{
		Tasks:    make(map[string]*core.Task, len(tasks)),
		Edges:    make(map[string][]string),
		InDegree: make(map[string]int, len(tasks)),
	}
	for i := range tasks {
		g.Tasks[tasks[i].ID] = &tasks[i]
		g.InDegree[tasks[i].ID] = 0
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.Tasks[dep]; !ok {
				continue
			}
			g.Edges[dep] = append(g.Edges[dep], t.ID)
			g.InDegree[t.ID]++
		}
	}
	return g
}

// HasCycle reports whether the graph contains a circular dependency,
// via DFS with white/gray/black coloring (grounded on
// DependencyGraph.HasCycle).
func (g *Graph) HasCycle() bool {
	_, cyclic := g.DetectCycle()
	return cyclic
}

// DetectCycle returns the concrete list of task IDs on one detected
// cycle, or (nil, false) if the graph is acyclic.
func (g *Graph) DetectCycle() ([]string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[string]int, len(g.Tasks))
	for id := range g.Tasks {
		colors[id] = white
	}

	var path []string
	var cycle []string

	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray
		path = append(path, node)

		for _, neighbor := range g.Edges[node] {
			if colors[neighbor] == gray {
				cycle = extractCycle(path, neighbor)
				return true
			}
			if colors[neighbor] == white && dfs(neighbor) {
				return true
			}
		}

		colors[node] = black
		path = path[:len(path)-1]
		return false
	}

	ids := make([]string, 0, len(g.Tasks))
	for id := range g.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if colors[id] == white {
			if dfs(id) {
				return cycle, true
			}
		}
	}
	return nil, false
}

func extractCycle(path []string, repeat string) []string {
	for i, id := range path {
		if id == repeat {
			return append(append([]string(nil), path[i:]...), repeat)
		}
	}
	return append(append([]string(nil), path...), repeat)
}

// CalculateWaves groups tasks into execution waves using Kahn's
// algorithm: tasks with no outstanding dependencies form wave 1, tasks
// depending only on wave 1 form wave 2, and so on. Grounded on
// internal/executor/graph.go's CalculateWaves.
func CalculateWaves(tasks []core.Task) ([]core.Wave, error) {
	if err := Validate(tasks); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return []core.Wave{}, nil
	}

	g := Build(tasks)
	if cycle, cyclic := g.DetectCycle(); cyclic {
		return nil, &CircularDependencyError{TaskIDs: cycle}
	}

	byID := make(map[string]core.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	inDegree := make(map[string]int, len(g.InDegree))
	for k, v := range g.InDegree {
		inDegree[k] = v
	}

	var waves []core.Wave
	for len(inDegree) > 0 {
		var ready []string
		for id, degree := range inDegree {
			if degree == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("depgraph: no tasks with zero in-degree; unresolved dependency set")
		}

		sort.Slice(ready, func(i, j int) bool {
			ti, tj := byID[ready[i]], byID[ready[j]]
			if ti.Priority != tj.Priority {
				return ti.Priority < tj.Priority
			}
			return ti.Name < tj.Name
		})

		waveTasks := make([]core.Task, 0, len(ready))
		waveMinutes := 0
		waveID := len(waves) + 1
		for _, id := range ready {
			t := byID[id]
			t.WaveID = waveID
			waveTasks = append(waveTasks, t)
			if t.EstimatedMinutes > waveMinutes {
				waveMinutes = t.EstimatedMinutes
			}
		}

		waves = append(waves, core.Wave{ID: waveID, Tasks: waveTasks, EstimatedMinutes: waveMinutes})

		for _, id := range ready {
			delete(inDegree, id)
			for _, dependent := range g.Edges[id] {
				if _, ok := inDegree[dependent]; ok {
					inDegree[dependent]--
				}
			}
		}
	}

	return waves, nil
}

// GetAllDependencies returns every transitive dependency of taskID.
func (g *Graph) GetAllDependencies(taskID string) []string {
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(id string) {
		t, ok := g.Tasks[id]
		if !ok {
			return
		}
		for _, dep := range t.DependsOn {
			if !visited[dep] {
				visited[dep] = true
				walk(dep)
			}
		}
	}
	walk(taskID)
	out := make([]string, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GetDependents returns every task ID that directly or transitively
// depends on taskID.
func (g *Graph) GetDependents(taskID string) []string {
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(id string) {
		for _, dependent := range g.Edges[id] {
			if !visited[dependent] {
				visited[dependent] = true
				walk(dependent)
			}
		}
	}
	walk(taskID)
	out := make([]string, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GetCriticalPath returns the task IDs on the longest (by estimated
// minutes) dependency chain in the graph, memoizing per-node longest
// paths as it walks.
func (g *Graph) GetCriticalPath() []string {
	memo := make(map[string][]string)
	var longestFrom func(string) []string
	longestFrom = func(id string) []string {
		if cached, ok := memo[id]; ok {
			return cached
		}
		t := g.Tasks[id]
		best := []string{id}
		bestMinutes := t.EstimatedMinutes
		for _, dependent := range g.Edges[id] {
			candidate := append([]string{id}, longestFrom(dependent)...)
			minutes := pathMinutes(g, candidate)
			if minutes > bestMinutes {
				best = candidate
				bestMinutes = minutes
			}
		}
		memo[id] = best
		return best
	}

	var roots []string
	for id, degree := range g.InDegree {
		if degree == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)

	var overall []string
	overallMinutes := -1
	for _, root := range roots {
		candidate := longestFrom(root)
		minutes := pathMinutes(g, candidate)
		if minutes > overallMinutes {
			overall = candidate
			overallMinutes = minutes
		}
	}
	return overall
}

func pathMinutes(g *Graph, path []string) int {
	total := 0
	for _, id := range path {
		if t, ok := g.Tasks[id]; ok {
			total += t.EstimatedMinutes
		}
	}
	return total
}

// GetNextAvailable returns the IDs of tasks whose dependencies are all in
// the completed set and which are not themselves already completed.
func (g *Graph) GetNextAvailable(completed map[string]bool) []string {
	var available []string
	for id, t := range g.Tasks {
		if completed[id] {
			continue
		}
		ready := true
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			available = append(available, id)
		}
	}
	sort.Strings(available)
	return available
}
