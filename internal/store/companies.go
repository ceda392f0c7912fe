package store

import "database/sql"

// Company is a portfolio company discovered by the research stage. The legal
// entity name is filled in later by legal resolution.
type Company struct {
	ID              int64
	PipelineID      string
	Name            string
	LegalEntityName *string
	City            *string
	State           *string
	Exited          bool
	Confidence      *string
}

// AddCompanies inserts the research stage's findings for a pipeline in one
// transaction.
func (s *Store) AddCompanies(pipelineID string, companies []*Company) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO companies (pipeline_id, name, legal_entity_name, city, state, exited, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, c := range companies {
		res, err := tx.Exec(query, pipelineID, c.Name, c.LegalEntityName, c.City, c.State, c.Exited, c.Confidence)
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil {
			c.ID = id
			c.PipelineID = pipelineID
		}
	}
	return tx.Commit()
}

// ListCompanies returns a pipeline's companies in insertion order.
func (s *Store) ListCompanies(pipelineID string) ([]*Company, error) {
	query := `
		SELECT id, pipeline_id, name, legal_entity_name, city, state, exited, confidence
		FROM companies WHERE pipeline_id = ? ORDER BY id
	`
	rows, err := s.db.Query(query, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.PipelineID, &c.Name, &c.LegalEntityName, &c.City, &c.State, &c.Exited, &c.Confidence); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CountCompanies returns how many companies a pipeline has found so far.
func (s *Store) CountCompanies(pipelineID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM companies WHERE pipeline_id = ?`, pipelineID).Scan(&n)
	return n, err
}

// GetCompany retrieves one company. Returns nil, nil when not found.
func (s *Store) GetCompany(id int64) (*Company, error) {
	query := `
		SELECT id, pipeline_id, name, legal_entity_name, city, state, exited, confidence
		FROM companies WHERE id = ?
	`
	var c Company
	err := s.db.QueryRow(query, id).Scan(
		&c.ID, &c.PipelineID, &c.Name, &c.LegalEntityName, &c.City, &c.State, &c.Exited, &c.Confidence,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetLegalEntity records the legal resolution result for a company.
func (s *Store) SetLegalEntity(companyID int64, legalName, city, state string) error {
	query := `UPDATE companies SET legal_entity_name = ?, city = ?, state = ? WHERE id = ?`
	_, err := s.db.Exec(query, legalName, city, state, companyID)
	return err
}
