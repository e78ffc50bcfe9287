package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nexus-build/nexus/internal/core"
)

// RequirementDAO implements interview.RequirementStore.
type RequirementDAO struct {
	db *DB
}

// NewRequirementDAO builds a RequirementDAO over db.
func NewRequirementDAO(db *DB) *RequirementDAO {
	return &RequirementDAO{db: db}
}

// SaveRequirement inserts a captured requirement. Requirements are
// append-only records of what was said during an interview, never edited
// after capture.
func (d *RequirementDAO) SaveRequirement(ctx context.Context, r core.Requirement) error {
	_, err := d.db.exec(ctx, `
		INSERT INTO requirements (id, project_id, category, text, priority, confidence, area, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		r.ID, r.ProjectID, string(r.Category), r.Text, string(r.Priority), r.Confidence, r.Area, r.Source, r.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: save requirement %s: %w", r.ID, err)
	}
	return nil
}

// SessionDAO implements interview.SessionStore.
type SessionDAO struct {
	db *DB
}

// NewSessionDAO builds a SessionDAO over db.
func NewSessionDAO(db *DB) *SessionDAO {
	return &SessionDAO{db: db}
}

// SaveSession upserts an interview session's full transcript and captured
// requirements.
func (d *SessionDAO) SaveSession(ctx context.Context, s core.InterviewSession) error {
	messages, err := marshalJSON(s.Messages)
	if err != nil {
		return err
	}
	requirements, err := marshalJSON(s.ExtractedRequirements)
	if err != nil {
		return err
	}
	explored, err := marshalJSON(s.ExploredAreas)
	if err != nil {
		return err
	}

	_, err = d.db.exec(ctx, `
		INSERT INTO sessions (id, project_id, status, mode, evolution_context, messages,
			extracted_requirements, explored_areas, started_at, last_activity_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, messages=excluded.messages,
			extracted_requirements=excluded.extracted_requirements, explored_areas=excluded.explored_areas,
			last_activity_at=excluded.last_activity_at, completed_at=excluded.completed_at`,
		s.ID, s.ProjectID, string(s.Status), string(s.Mode), s.EvolutionContext, messages,
		requirements, explored, s.StartedAt.Unix(), s.LastActivityAt.Unix(), nullableUnix(s.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("store: save session %s: %w", s.ID, err)
	}
	return nil
}

// LoadSession loads a single session by id.
func (d *SessionDAO) LoadSession(ctx context.Context, id string) (*core.InterviewSession, error) {
	row := d.db.queryRow(ctx, `
		SELECT id, project_id, status, mode, evolution_context, messages, extracted_requirements,
			explored_areas, started_at, last_activity_at, completed_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// LoadMostRecentSession loads a project's most recently active session.
func (d *SessionDAO) LoadMostRecentSession(ctx context.Context, projectID string) (*core.InterviewSession, error) {
	row := d.db.queryRow(ctx, `
		SELECT id, project_id, status, mode, evolution_context, messages, extracted_requirements,
			explored_areas, started_at, last_activity_at, completed_at
		FROM sessions WHERE project_id = ? ORDER BY last_activity_at DESC LIMIT 1`, projectID)
	return scanSession(row)
}

func scanSession(row rowScanner) (*core.InterviewSession, error) {
	var s core.InterviewSession
	var status, mode, messages, requirements, explored string
	var startedAt, lastActivityAt int64
	var completedAt sql.NullInt64
	err := row.Scan(&s.ID, &s.ProjectID, &status, &mode, &s.EvolutionContext, &messages, &requirements,
		&explored, &startedAt, &lastActivityAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan session: %w", err)
	}

	s.Status = core.InterviewSessionStatus(status)
	s.Mode = core.ProjectMode(mode)
	s.StartedAt = unixToTime(startedAt)
	s.LastActivityAt = unixToTime(lastActivityAt)
	if completedAt.Valid {
		t := unixToTime(completedAt.Int64)
		s.CompletedAt = &t
	}
	if err := unmarshalJSON(messages, &s.Messages); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(requirements, &s.ExtractedRequirements); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(explored, &s.ExploredAreas); err != nil {
		return nil, err
	}
	return &s, nil
}
