package store

import (
	"database/sql"
	"time"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/pipeline"
)

// Pipeline is one research run against a PE firm.
type Pipeline struct {
	ID        string
	FirmName  string
	Status    pipeline.Status
	Error     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreatePipeline inserts a new pipeline.
func (s *Store) CreatePipeline(p *Pipeline) error {
	query := `
		INSERT INTO pipelines (id, firm_name, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	status := p.Status
	if status == "" {
		status = pipeline.StatusPending
	}
	_, err := s.db.Exec(query, p.ID, p.FirmName, status, p.Error, now, now)
	return err
}

// GetPipeline retrieves a pipeline by ID. Returns nil, nil when not found.
func (s *Store) GetPipeline(id string) (*Pipeline, error) {
	query := `
		SELECT id, firm_name, status, error, created_at, updated_at
		FROM pipelines WHERE id = ?
	`
	row := s.db.QueryRow(query, id)

	var p Pipeline
	err := row.Scan(&p.ID, &p.FirmName, &p.Status, &p.Error, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPipelines retrieves all pipelines, optionally filtered by status.
func (s *Store) ListPipelines(statusFilter ...pipeline.Status) ([]*Pipeline, error) {
	query := `
		SELECT id, firm_name, status, error, created_at, updated_at
		FROM pipelines
	`
	var args []any
	if len(statusFilter) > 0 {
		query += ` WHERE status IN (?` + repeatSQL(len(statusFilter)-1) + `)`
		for _, st := range statusFilter {
			args = append(args, st)
		}
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Pipeline
	for rows.Next() {
		var p Pipeline
		if err := rows.Scan(&p.ID, &p.FirmName, &p.Status, &p.Error, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// UpdatePipelineStatus sets a pipeline's status and clears any prior error.
func (s *Store) UpdatePipelineStatus(id string, status pipeline.Status) error {
	query := `UPDATE pipelines SET status = ?, error = NULL, updated_at = ? WHERE id = ?`
	_, err := s.db.Exec(query, status, time.Now(), id)
	return err
}

// FailPipeline sets a failure status together with its error message.
func (s *Store) FailPipeline(id string, status pipeline.Status, errMsg string) error {
	query := `UPDATE pipelines SET status = ?, error = ?, updated_at = ? WHERE id = ?`
	_, err := s.db.Exec(query, status, errMsg, time.Now(), id)
	return err
}

// DeletePipeline removes a pipeline and, via foreign keys, everything
// attached to it.
func (s *Store) DeletePipeline(id string) error {
	_, err := s.db.Exec(`DELETE FROM pipelines WHERE id = ?`, id)
	return err
}
