package store

// Filing is one Form 5500 filing matched to a company.
type Filing struct {
	ID                 int64
	CompanyID          int64
	Year               int
	EIN                *string
	PlanName           *string
	ActiveParticipants int
}

// ScheduleA is one carrier contract from a filing's Schedule A attachments.
type ScheduleA struct {
	ID            int64
	CompanyID     int64
	Year          int
	BenefitType   *string
	CarrierName   *string
	Premiums      float64
	BrokerageFees float64
	PeopleCovered int
}

// AddFilings inserts data extraction results for a company in one
// transaction.
func (s *Store) AddFilings(companyID int64, filings []*Filing) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO filings (company_id, year, ein, plan_name, active_participants)
		VALUES (?, ?, ?, ?, ?)
	`
	for _, f := range filings {
		res, err := tx.Exec(query, companyID, f.Year, f.EIN, f.PlanName, f.ActiveParticipants)
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil {
			f.ID = id
			f.CompanyID = companyID
		}
	}
	return tx.Commit()
}

// AddScheduleA inserts Schedule A rows for a company in one transaction.
func (s *Store) AddScheduleA(companyID int64, records []*ScheduleA) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO schedule_a (company_id, year, benefit_type, carrier_name, premiums, brokerage_fees, people_covered)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, r := range records {
		res, err := tx.Exec(query, companyID, r.Year, r.BenefitType, r.CarrierName, r.Premiums, r.BrokerageFees, r.PeopleCovered)
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil {
			r.ID = id
			r.CompanyID = companyID
		}
	}
	return tx.Commit()
}

// ListFilings returns a company's filings ordered by year descending.
func (s *Store) ListFilings(companyID int64) ([]*Filing, error) {
	query := `
		SELECT id, company_id, year, ein, plan_name, active_participants
		FROM filings WHERE company_id = ? ORDER BY year DESC, id
	`
	rows, err := s.db.Query(query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Filing
	for rows.Next() {
		var f Filing
		if err := rows.Scan(&f.ID, &f.CompanyID, &f.Year, &f.EIN, &f.PlanName, &f.ActiveParticipants); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// ListScheduleA returns a company's Schedule A rows ordered by year
// descending.
func (s *Store) ListScheduleA(companyID int64) ([]*ScheduleA, error) {
	query := `
		SELECT id, company_id, year, benefit_type, carrier_name, premiums, brokerage_fees, people_covered
		FROM schedule_a WHERE company_id = ? ORDER BY year DESC, id
	`
	rows, err := s.db.Query(query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduleA
	for rows.Next() {
		var r ScheduleA
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.Year, &r.BenefitType, &r.CarrierName, &r.Premiums, &r.BrokerageFees, &r.PeopleCovered); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ClearExtraction removes previous extraction results for a company so a
// stage re-run starts clean.
func (s *Store) ClearExtraction(companyID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM filings WHERE company_id = ?`, companyID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM schedule_a WHERE company_id = ?`, companyID); err != nil {
		return err
	}
	return tx.Commit()
}
