package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nexus-build/nexus/internal/core"
)

// StateDAO implements state.Persister and additionally offers LoadState
// for rehydrating a Manager's cache after a restart (spec.md §4.15's
// "long runs survive restarts" requirement).
type StateDAO struct {
	db *DB
}

// NewStateDAO builds a StateDAO over db.
func NewStateDAO(db *DB) *StateDAO {
	return &StateDAO{db: db}
}

// SaveState upserts a project's state snapshot.
func (d *StateDAO) SaveState(ctx context.Context, ps core.ProjectState) error {
	features, err := marshalJSON(ps.Features)
	if err != nil {
		return err
	}

	_, err = d.db.exec(ctx, `
		INSERT INTO project_states (project_id, project_name, status, mode, features,
			current_feature_index, current_task_index, completed_tasks, total_tasks, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			project_name=excluded.project_name, status=excluded.status, mode=excluded.mode,
			features=excluded.features, current_feature_index=excluded.current_feature_index,
			current_task_index=excluded.current_task_index, completed_tasks=excluded.completed_tasks,
			total_tasks=excluded.total_tasks, last_updated_at=excluded.last_updated_at`,
		ps.ProjectID, ps.ProjectName, string(ps.Status), string(ps.Mode), features,
		ps.CurrentFeatureIndex, ps.CurrentTaskIndex, ps.CompletedTasks, ps.TotalTasks,
		ps.CreatedAt.Unix(), ps.LastUpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save project state %s: %w", ps.ProjectID, err)
	}
	return nil
}

// LoadState reads a project's most recently saved state, or (nil, nil) if
// none exists yet.
func (d *StateDAO) LoadState(ctx context.Context, projectID string) (*core.ProjectState, error) {
	row := d.db.queryRow(ctx, `
		SELECT project_id, project_name, status, mode, features, current_feature_index,
			current_task_index, completed_tasks, total_tasks, created_at, last_updated_at
		FROM project_states WHERE project_id = ?`, projectID)

	var ps core.ProjectState
	var status, mode, features string
	var createdAt, updatedAt int64
	err := row.Scan(&ps.ProjectID, &ps.ProjectName, &status, &mode, &features,
		&ps.CurrentFeatureIndex, &ps.CurrentTaskIndex, &ps.CompletedTasks, &ps.TotalTasks, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load project state %s: %w", projectID, err)
	}

	ps.Status = core.ProjectStatus(status)
	ps.Mode = core.ProjectMode(mode)
	ps.CreatedAt = unixToTime(createdAt)
	ps.LastUpdatedAt = unixToTime(updatedAt)
	if err := unmarshalJSON(features, &ps.Features); err != nil {
		return nil, err
	}
	return &ps, nil
}
