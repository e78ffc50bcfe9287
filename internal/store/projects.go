package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nexus-build/nexus/internal/core"
)

// ProjectDAO persists Project, Feature, Task, and Agent rows: the
// normalized tables spec.md §6 lists alongside project_states, which holds
// the coordinator's own fast-restart snapshot. cmd/nexus wires a
// ProjectDAO to the event bus (see EventSync) so every row stays current
// without coupling the coordinator or queue to a storage dependency.
type ProjectDAO struct {
	db *DB
}

// NewProjectDAO builds a ProjectDAO over db.
func NewProjectDAO(db *DB) *ProjectDAO {
	return &ProjectDAO{db: db}
}

// SaveProject upserts a project row.
func (d *ProjectDAO) SaveProject(ctx context.Context, p core.Project) error {
	_, err := d.db.exec(ctx, `
		INSERT INTO projects (id, name, mode, root_path, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, mode=excluded.mode, root_path=excluded.root_path,
			status=excluded.status, updated_at=excluded.updated_at`,
		p.ID, p.Name, string(p.Mode), p.RootPath, string(p.Status),
		p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save project %s: %w", p.ID, err)
	}
	return nil
}

// GetProject loads one project by id.
func (d *ProjectDAO) GetProject(ctx context.Context, id string) (*core.Project, error) {
	row := d.db.queryRow(ctx, `SELECT id, name, mode, root_path, status, created_at, updated_at FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get project %s: %w", id, err)
	}
	return p, nil
}

// ListProjects returns every known project, most recently created first.
func (d *ProjectDAO) ListProjects(ctx context.Context) ([]core.Project, error) {
	rows, err := d.db.query(ctx, `SELECT id, name, mode, root_path, status, created_at, updated_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan project: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*core.Project, error) {
	var p core.Project
	var mode, status string
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.Name, &mode, &p.RootPath, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Mode = core.ProjectMode(mode)
	p.Status = core.ProjectStatus(status)
	p.CreatedAt = unixToTime(createdAt)
	p.UpdatedAt = unixToTime(updatedAt)
	return &p, nil
}

func scanProjectRows(rows *sql.Rows) (*core.Project, error) {
	return scanProject(rows)
}

// SaveFeature upserts a feature row.
func (d *ProjectDAO) SaveFeature(ctx context.Context, f core.Feature) error {
	_, err := d.db.exec(ctx, `
		INSERT INTO features (id, project_id, name, description, priority, status, complexity, estimated_tasks, completed_tasks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description, priority=excluded.priority,
			status=excluded.status, complexity=excluded.complexity,
			estimated_tasks=excluded.estimated_tasks, completed_tasks=excluded.completed_tasks`,
		f.ID, f.ProjectID, f.Name, f.Description, string(f.Priority), string(f.Status),
		f.Complexity, f.EstimatedTasks, f.CompletedTasks,
	)
	if err != nil {
		return fmt.Errorf("store: save feature %s: %w", f.ID, err)
	}
	return nil
}

// ListFeatures returns every feature row for a project.
func (d *ProjectDAO) ListFeatures(ctx context.Context, projectID string) ([]core.Feature, error) {
	rows, err := d.db.query(ctx, `SELECT id, project_id, name, description, priority, status, complexity, estimated_tasks, completed_tasks FROM features WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list features: %w", err)
	}
	defer rows.Close()

	var out []core.Feature
	for rows.Next() {
		var f core.Feature
		var priority, status string
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Name, &f.Description, &priority, &status, &f.Complexity, &f.EstimatedTasks, &f.CompletedTasks); err != nil {
			return nil, fmt.Errorf("store: scan feature: %w", err)
		}
		f.Priority = core.Priority(priority)
		f.Status = core.FeatureStatus(status)
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveTask upserts a task row, JSON-encoding its slice fields.
func (d *ProjectDAO) SaveTask(ctx context.Context, t core.Task) error {
	files, err := marshalStrings(t.Files)
	if err != nil {
		return err
	}
	criteria, err := marshalStrings(t.TestCriteria)
	if err != nil {
		return err
	}
	deps, err := marshalStrings(t.DependsOn)
	if err != nil {
		return err
	}

	_, err = d.db.exec(ctx, `
		INSERT INTO tasks (id, project_id, feature_id, name, description, type, size, status,
			estimated_minutes, files, test_criteria, depends_on, wave_id, priority, agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description, type=excluded.type,
			size=excluded.size, status=excluded.status, estimated_minutes=excluded.estimated_minutes,
			files=excluded.files, test_criteria=excluded.test_criteria, depends_on=excluded.depends_on,
			wave_id=excluded.wave_id, priority=excluded.priority, agent=excluded.agent`,
		t.ID, t.ProjectID, t.FeatureID, t.Name, t.Description, string(t.Type), string(t.Size), string(t.Status),
		t.EstimatedMinutes, files, criteria, deps, t.WaveID, t.Priority, t.Agent, t.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save task %s: %w", t.ID, err)
	}
	return nil
}

// ListTasks returns every task row for a project.
func (d *ProjectDAO) ListTasks(ctx context.Context, projectID string) ([]core.Task, error) {
	rows, err := d.db.query(ctx, `SELECT id, project_id, feature_id, name, description, type, size, status,
		estimated_minutes, files, test_criteria, depends_on, wave_id, priority, agent, created_at
		FROM tasks WHERE project_id = ? ORDER BY wave_id, priority`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var out []core.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTask(rows *sql.Rows) (*core.Task, error) {
	var t core.Task
	var taskType, size, status, files, criteria, deps string
	var createdAt int64
	if err := rows.Scan(&t.ID, &t.ProjectID, &t.FeatureID, &t.Name, &t.Description, &taskType, &size, &status,
		&t.EstimatedMinutes, &files, &criteria, &deps, &t.WaveID, &t.Priority, &t.Agent, &createdAt); err != nil {
		return nil, err
	}
	t.Type = core.TaskType(taskType)
	t.Size = core.TaskSize(size)
	t.Status = core.TaskStatus(status)
	t.CreatedAt = unixToTime(createdAt)
	var err error
	if t.Files, err = unmarshalStrings(files); err != nil {
		return nil, err
	}
	if t.TestCriteria, err = unmarshalStrings(criteria); err != nil {
		return nil, err
	}
	if t.DependsOn, err = unmarshalStrings(deps); err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveAgent upserts an agent row.
func (d *ProjectDAO) SaveAgent(ctx context.Context, a core.Agent) error {
	_, err := d.db.exec(ctx, `
		INSERT INTO agents (id, type, status, model, max_tokens, temperature, current_task_id,
			worktree_path, tasks_completed, tasks_failed, total_iterations, tokens_used, spawned_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, current_task_id=excluded.current_task_id,
			worktree_path=excluded.worktree_path, tasks_completed=excluded.tasks_completed,
			tasks_failed=excluded.tasks_failed, total_iterations=excluded.total_iterations,
			tokens_used=excluded.tokens_used, last_active_at=excluded.last_active_at`,
		a.ID, string(a.Type), string(a.Status), a.ModelConfig.Model, a.ModelConfig.MaxTokens, a.ModelConfig.Temperature,
		a.CurrentTaskID, a.WorktreePath, a.Metrics.TasksCompleted, a.Metrics.TasksFailed,
		a.Metrics.TotalIterations, a.Metrics.TokensUsed, a.SpawnedAt.Unix(), a.LastActiveAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save agent %s: %w", a.ID, err)
	}
	return nil
}
