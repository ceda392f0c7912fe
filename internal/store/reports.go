package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Report is a generated firm report. The payload is the full report
// document; the newest row per pipeline is the current report.
type Report struct {
	ID         int64
	PipelineID string
	FirmName   string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// SaveReport stores a newly generated report.
func (s *Store) SaveReport(r *Report) error {
	query := `
		INSERT INTO reports (pipeline_id, firm_name, payload, created_at)
		VALUES (?, ?, ?, ?)
	`
	res, err := s.db.Exec(query, r.PipelineID, r.FirmName, string(r.Payload), time.Now())
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

// LatestReport returns the most recent report for a pipeline, or nil, nil
// when none has been generated.
func (s *Store) LatestReport(pipelineID string) (*Report, error) {
	query := `
		SELECT id, pipeline_id, firm_name, payload, created_at
		FROM reports WHERE pipeline_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`
	var r Report
	var payload string
	err := s.db.QueryRow(query, pipelineID).Scan(&r.ID, &r.PipelineID, &r.FirmName, &payload, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Payload = json.RawMessage(payload)
	return &r, nil
}
