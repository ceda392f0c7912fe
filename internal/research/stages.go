package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/store"
)

// Invoker is the slice of a tool-server session the stages use.
type Invoker interface {
	Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error)
}

// Stage names, in run order.
const (
	StageResearch        = "research"
	StageLegalResolution = "legal_resolution"
	StageDataExtraction  = "data_extraction"
)

// stageStore is the slice of the store the stages write to.
type stageStore interface {
	AddCompanies(pipelineID string, companies []*store.Company) error
	ListCompanies(pipelineID string) ([]*store.Company, error)
	SetLegalEntity(companyID int64, legalName, city, state string) error
	AddFilings(companyID int64, filings []*store.Filing) error
	AddScheduleA(companyID int64, records []*store.ScheduleA) error
	ClearExtraction(companyID int64) error
}

// runResearch discovers a firm's portfolio companies and records them.
func runResearch(ctx context.Context, inv Invoker, db stageStore, log *slog.Logger, pipelineID, firmName string) error {
	raw, err := inv.Invoke(ctx, "research_portfolio_companies", map[string]any{
		"firm_name": firmName,
	})
	if err != nil {
		return err
	}

	var found struct {
		Companies []struct {
			Name       string `json:"name"`
			City       string `json:"city"`
			State      string `json:"state"`
			Exited     bool   `json:"exited"`
			Confidence string `json:"confidence"`
		} `json:"companies"`
	}
	if err := decodeResult(raw, &found); err != nil {
		return fmt.Errorf("research result: %w", err)
	}
	if len(found.Companies) == 0 {
		return fmt.Errorf("no portfolio companies found for %q", firmName)
	}

	companies := make([]*store.Company, 0, len(found.Companies))
	for _, c := range found.Companies {
		sc := &store.Company{Name: c.Name, Exited: c.Exited}
		if c.City != "" {
			sc.City = &c.City
		}
		if c.State != "" {
			sc.State = &c.State
		}
		if c.Confidence != "" {
			sc.Confidence = &c.Confidence
		}
		companies = append(companies, sc)
	}
	if err := db.AddCompanies(pipelineID, companies); err != nil {
		return fmt.Errorf("save companies: %w", err)
	}

	log.Info("research stage complete", "pipeline", pipelineID, "companies", len(companies))
	return nil
}

// runLegalResolution resolves each company's legal entity name, several
// companies at a time.
func runLegalResolution(ctx context.Context, inv Invoker, db stageStore, log *slog.Logger, pipelineID string, concurrency int) error {
	companies, err := db.ListCompanies(pipelineID)
	if err != nil {
		return fmt.Errorf("list companies: %w", err)
	}
	if len(companies) == 0 {
		return fmt.Errorf("pipeline %s has no companies to resolve", pipelineID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(concurrency))
	for _, c := range companies {
		c := c
		g.Go(func() error {
			args := map[string]any{"company_name": c.Name}
			if c.City != nil {
				args["city"] = *c.City
			}
			if c.State != nil {
				args["state"] = *c.State
			}
			raw, err := inv.Invoke(gctx, "resolve_legal_entity", args)
			if err != nil {
				return fmt.Errorf("resolve %q: %w", c.Name, err)
			}

			var resolved struct {
				LegalEntityName string `json:"legal_entity_name"`
				City            string `json:"city"`
				State           string `json:"state"`
			}
			if err := decodeResult(raw, &resolved); err != nil {
				return fmt.Errorf("resolve %q: %w", c.Name, err)
			}
			if resolved.LegalEntityName == "" {
				log.Warn("no legal entity found", "pipeline", pipelineID, "company", c.Name)
				return nil
			}
			return db.SetLegalEntity(c.ID, resolved.LegalEntityName, resolved.City, resolved.State)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("legal resolution stage complete", "pipeline", pipelineID, "companies", len(companies))
	return nil
}

// runDataExtraction pulls Form 5500 filings and Schedule A attachments for
// each resolved company. A re-run replaces a company's previous results.
func runDataExtraction(ctx context.Context, inv Invoker, db stageStore, log *slog.Logger, pipelineID string, concurrency int) error {
	companies, err := db.ListCompanies(pipelineID)
	if err != nil {
		return fmt.Errorf("list companies: %w", err)
	}
	if len(companies) == 0 {
		return fmt.Errorf("pipeline %s has no companies to extract", pipelineID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(concurrency))
	for _, c := range companies {
		c := c
		g.Go(func() error {
			return extractCompany(gctx, inv, db, log, c)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("data extraction stage complete", "pipeline", pipelineID, "companies", len(companies))
	return nil
}

func extractCompany(ctx context.Context, inv Invoker, db stageStore, log *slog.Logger, c *store.Company) error {
	searchName := c.Name
	if c.LegalEntityName != nil && *c.LegalEntityName != "" {
		searchName = *c.LegalEntityName
	}

	raw, err := inv.Invoke(ctx, "query_form5500", map[string]any{
		"legal_entity_name": searchName,
	})
	if err != nil {
		return fmt.Errorf("form 5500 for %q: %w", c.Name, err)
	}

	var matched struct {
		Filings []struct {
			Year               int    `json:"year"`
			EIN                string `json:"ein"`
			PlanName           string `json:"plan_name"`
			ActiveParticipants int    `json:"active_participants"`
		} `json:"filings"`
	}
	if err := decodeResult(raw, &matched); err != nil {
		return fmt.Errorf("form 5500 for %q: %w", c.Name, err)
	}

	if err := db.ClearExtraction(c.ID); err != nil {
		return fmt.Errorf("clear previous extraction for %q: %w", c.Name, err)
	}
	if len(matched.Filings) == 0 {
		log.Info("no filings found", "company", c.Name)
		return nil
	}

	filings := make([]*store.Filing, 0, len(matched.Filings))
	for _, f := range matched.Filings {
		sf := &store.Filing{Year: f.Year, ActiveParticipants: f.ActiveParticipants}
		if f.EIN != "" {
			sf.EIN = &f.EIN
		}
		if f.PlanName != "" {
			sf.PlanName = &f.PlanName
		}
		filings = append(filings, sf)
	}
	if err := db.AddFilings(c.ID, filings); err != nil {
		return fmt.Errorf("save filings for %q: %w", c.Name, err)
	}

	// Schedule A is keyed by EIN; query once per distinct EIN and year.
	type einYear struct {
		ein  string
		year int
	}
	seen := make(map[einYear]bool)
	var records []*store.ScheduleA
	for _, f := range matched.Filings {
		if f.EIN == "" {
			continue
		}
		key := einYear{f.EIN, f.Year}
		if seen[key] {
			continue
		}
		seen[key] = true

		raw, err := inv.Invoke(ctx, "query_schedule_a", map[string]any{
			"ein":  f.EIN,
			"year": f.Year,
		})
		if err != nil {
			return fmt.Errorf("schedule A for %q (%s/%d): %w", c.Name, f.EIN, f.Year, err)
		}

		var attached struct {
			Records []struct {
				BenefitType   string  `json:"benefit_type"`
				CarrierName   string  `json:"carrier_name"`
				Premiums      float64 `json:"premiums"`
				BrokerageFees float64 `json:"brokerage_fees"`
				PeopleCovered int     `json:"people_covered"`
			} `json:"records"`
		}
		if err := decodeResult(raw, &attached); err != nil {
			return fmt.Errorf("schedule A for %q: %w", c.Name, err)
		}
		for _, r := range attached.Records {
			sr := &store.ScheduleA{
				Year:          f.Year,
				Premiums:      r.Premiums,
				BrokerageFees: r.BrokerageFees,
				PeopleCovered: r.PeopleCovered,
			}
			if r.BenefitType != "" {
				sr.BenefitType = &r.BenefitType
			}
			if r.CarrierName != "" {
				sr.CarrierName = &r.CarrierName
			}
			records = append(records, sr)
		}
	}
	if len(records) == 0 {
		return nil
	}
	return db.AddScheduleA(c.ID, records)
}

func limit(n int) int {
	if n <= 0 {
		return 3
	}
	return n
}
