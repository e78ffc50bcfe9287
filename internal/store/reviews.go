package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nexus-build/nexus/internal/core"
)

// ReviewDAO implements review.Store and review.TaskExistenceChecker.
type ReviewDAO struct {
	db *DB
}

// NewReviewDAO builds a ReviewDAO over db.
func NewReviewDAO(db *DB) *ReviewDAO {
	return &ReviewDAO{db: db}
}

// SaveReview upserts a review row.
func (d *ReviewDAO) SaveReview(ctx context.Context, r core.Review) error {
	_, err := d.db.exec(ctx, `
		INSERT INTO reviews (id, task_id, project_id, reason, context, status, created_at, resolved_at, resolution)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, resolved_at=excluded.resolved_at, resolution=excluded.resolution`,
		r.ID, r.TaskID, r.ProjectID, string(r.Reason), r.Context, string(r.Status),
		r.CreatedAt.Unix(), nullableUnix(r.ResolvedAt), r.Resolution,
	)
	if err != nil {
		return fmt.Errorf("store: save review %s: %w", r.ID, err)
	}
	return nil
}

// ListPendingReviews returns every review still awaiting a human decision.
func (d *ReviewDAO) ListPendingReviews(ctx context.Context) ([]core.Review, error) {
	rows, err := d.db.query(ctx, `
		SELECT id, task_id, project_id, reason, context, status, created_at, resolved_at, resolution
		FROM reviews WHERE status = ? ORDER BY created_at`, string(core.ReviewPending))
	if err != nil {
		return nil, fmt.Errorf("store: list pending reviews: %w", err)
	}
	defer rows.Close()

	var out []core.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan review: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReview(rows *sql.Rows) (*core.Review, error) {
	var r core.Review
	var reason, status string
	var createdAt int64
	var resolvedAt sql.NullInt64
	if err := rows.Scan(&r.ID, &r.TaskID, &r.ProjectID, &reason, &r.Context, &status, &createdAt, &resolvedAt, &r.Resolution); err != nil {
		return nil, err
	}
	r.Reason = core.ReviewReason(reason)
	r.Status = core.ReviewStatus(status)
	r.CreatedAt = unixToTime(createdAt)
	if resolvedAt.Valid {
		t := unixToTime(resolvedAt.Int64)
		r.ResolvedAt = &t
	}
	return &r, nil
}

// TaskExists implements review.TaskExistenceChecker against the tasks
// table ProjectDAO maintains.
func (d *ReviewDAO) TaskExists(ctx context.Context, taskID string) bool {
	var count int
	if err := d.db.queryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, taskID).Scan(&count); err != nil {
		return false
	}
	return count > 0
}
