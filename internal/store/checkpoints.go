package store

import (
	"context"
	"fmt"

	"github.com/nexus-build/nexus/internal/core"
)

// CheckpointDAO implements checkpoint.Store.
type CheckpointDAO struct {
	db *DB
}

// NewCheckpointDAO builds a CheckpointDAO over db.
func NewCheckpointDAO(db *DB) *CheckpointDAO {
	return &CheckpointDAO{db: db}
}

// SaveCheckpoint inserts a checkpoint row. Checkpoints are append-only:
// CheckpointManager assigns a fresh ID per call, so there is nothing to
// upsert.
func (d *CheckpointDAO) SaveCheckpoint(ctx context.Context, cp core.Checkpoint) error {
	_, err := d.db.exec(ctx, `
		INSERT INTO checkpoints (id, project_id, reason, state_data, git_commit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.ProjectID, cp.Reason, cp.StateSnapshot, cp.GitCommit, cp.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// ListCheckpoints returns a project's checkpoints, newest first.
func (d *CheckpointDAO) ListCheckpoints(ctx context.Context, projectID string) ([]core.Checkpoint, error) {
	rows, err := d.db.query(ctx, `
		SELECT id, project_id, reason, state_data, git_commit, created_at
		FROM checkpoints WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []core.Checkpoint
	for rows.Next() {
		var cp core.Checkpoint
		var createdAt int64
		if err := rows.Scan(&cp.ID, &cp.ProjectID, &cp.Reason, &cp.StateSnapshot, &cp.GitCommit, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan checkpoint: %w", err)
		}
		cp.CreatedAt = unixToTime(createdAt)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// DeleteCheckpoint removes a checkpoint by id.
func (d *CheckpointDAO) DeleteCheckpoint(ctx context.Context, id string) error {
	if _, err := d.db.exec(ctx, `DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete checkpoint %s: %w", id, err)
	}
	return nil
}
