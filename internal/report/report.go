// Package report builds firm reports from the data a pipeline extracted:
// per-company insurance cost aggregates for a preferred filing year, plus a
// firm-level summary.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/store"
)

// Funding classifications assigned to each company.
const (
	FundingInsured            = "insured"
	FundingSelfFundedStopLoss = "self_funded_with_stop_loss"
	FundingLikelySelfFunded   = "likely_self_funded"
	FundingNoData             = "no_data"
)

// Plan is one carrier contract line in a company's report.
type Plan struct {
	BenefitType   string  `json:"benefit_type"`
	CarrierName   string  `json:"carrier_name"`
	Premiums      float64 `json:"premiums"`
	BrokerageFees float64 `json:"brokerage_fees"`
	PeopleCovered int     `json:"people_covered"`
}

// CompanyReport is one portfolio company's aggregated costs for its
// preferred data year. HasData is false when no Schedule A rows exist for
// that year; the totals are then zero.
type CompanyReport struct {
	CompanyName        string  `json:"company_name"`
	DataYear           int     `json:"data_year,omitempty"`
	HasData            bool    `json:"has_data"`
	Funding            string  `json:"funding_classification"`
	TotalPremiums      float64 `json:"total_premiums"`
	TotalBrokerageFees float64 `json:"total_brokerage_fees"`
	TotalPeopleCovered int     `json:"total_people_covered"`
	TotalParticipants  int     `json:"total_participants"`
	Plans              []Plan  `json:"plans"`
}

// Summary is the firm-level rollup.
type Summary struct {
	TotalCompanies    int `json:"total_companies"`
	CompaniesWithData int `json:"companies_with_data"`
	MostRecentYear    int `json:"most_recent_year,omitempty"`
}

// FirmReport is the full report document served to the dashboard.
type FirmReport struct {
	FirmName    string          `json:"firm_name"`
	GeneratedAt time.Time       `json:"generated_at"`
	Summary     Summary         `json:"summary"`
	Companies   []CompanyReport `json:"companies"`
}

// PreferredYear picks the filing year to report on: 2023 over 2022 over the
// most recent other year, with 2024 used only when it is the sole year
// available. 2024 filings are often partial, which is why they lose to
// everything else. Returns false when years is empty.
func PreferredYear(years []int) (int, bool) {
	if len(years) == 0 {
		return 0, false
	}
	sorted := append([]int(nil), years...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	for _, y := range sorted {
		if y == 2023 {
			return 2023, true
		}
	}
	for _, y := range sorted {
		if y == 2022 {
			return 2022, true
		}
	}
	if len(sorted) == 1 && sorted[0] == 2024 {
		return 2024, true
	}
	for _, y := range sorted {
		if y != 2024 {
			return y, true
		}
	}
	return sorted[0], true
}

// Source is the slice of the store the generator reads.
type Source interface {
	ListCompanies(pipelineID string) ([]*store.Company, error)
	ListFilings(companyID int64) ([]*store.Filing, error)
	ListScheduleA(companyID int64) ([]*store.ScheduleA, error)
}

// Generator builds firm reports from extracted pipeline data.
type Generator struct {
	src Source
}

func NewGenerator(src Source) *Generator {
	return &Generator{src: src}
}

// Generate builds the report for one pipeline.
func (g *Generator) Generate(firmName, pipelineID string) (*FirmReport, error) {
	companies, err := g.src.ListCompanies(pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}

	out := &FirmReport{
		FirmName:    firmName,
		GeneratedAt: time.Now().UTC(),
		Companies:   make([]CompanyReport, 0, len(companies)),
	}

	yearsSeen := make(map[int]bool)
	for _, c := range companies {
		cr, err := g.companyReport(c)
		if err != nil {
			return nil, fmt.Errorf("company %q: %w", c.Name, err)
		}
		out.Companies = append(out.Companies, cr)
		if cr.HasData {
			out.Summary.CompaniesWithData++
		}
		if cr.DataYear != 0 {
			yearsSeen[cr.DataYear] = true
		}
	}

	out.Summary.TotalCompanies = len(out.Companies)
	out.Summary.MostRecentYear = mostRecentYear(yearsSeen)
	return out, nil
}

func (g *Generator) companyReport(c *store.Company) (CompanyReport, error) {
	cr := CompanyReport{
		CompanyName: c.Name,
		Plans:       []Plan{},
	}

	records, err := g.src.ListScheduleA(c.ID)
	if err != nil {
		return cr, err
	}
	filings, err := g.src.ListFilings(c.ID)
	if err != nil {
		return cr, err
	}

	byYear := make(map[int][]*store.ScheduleA)
	for _, r := range records {
		byYear[r.Year] = append(byYear[r.Year], r)
	}

	year, ok := PreferredYear(yearKeys(byYear))
	if !ok {
		// No Schedule A at all; fall back to filing years so the report
		// can still show which year the company filed for.
		var filingYears []int
		for _, f := range filings {
			filingYears = append(filingYears, f.Year)
		}
		year, _ = PreferredYear(uniqueYears(filingYears))
	}
	cr.DataYear = year

	if rows := byYear[year]; len(rows) > 0 {
		cr.HasData = true
		for _, r := range rows {
			p := Plan{
				Premiums:      r.Premiums,
				BrokerageFees: r.BrokerageFees,
				PeopleCovered: r.PeopleCovered,
			}
			if r.BenefitType != nil {
				p.BenefitType = *r.BenefitType
			}
			if r.CarrierName != nil {
				p.CarrierName = *r.CarrierName
			}
			cr.Plans = append(cr.Plans, p)
			cr.TotalPremiums += r.Premiums
			cr.TotalBrokerageFees += r.BrokerageFees
			cr.TotalPeopleCovered += r.PeopleCovered
		}
	}

	if year != 0 {
		for _, f := range filings {
			if f.Year == year {
				cr.TotalParticipants += f.ActiveParticipants
			}
		}
	}
	cr.Funding = classifyFunding(len(filings) > 0, cr.Plans)
	return cr, nil
}

// classifyFunding applies the Form 5500 heuristics: a health or medical
// Schedule A line means the plan is insured; stop-loss coverage without a
// medical line means the employer self-funds claims behind the stop-loss;
// filings with no health Schedule A at all usually mean a self-funded plan
// paid from general assets.
func classifyFunding(hasFilings bool, plans []Plan) string {
	if !hasFilings && len(plans) == 0 {
		return FundingNoData
	}
	var health, stopLoss bool
	for _, p := range plans {
		bt := strings.ToLower(p.BenefitType)
		switch {
		case strings.Contains(bt, "health") || strings.Contains(bt, "medical"):
			health = true
		case strings.Contains(bt, "stop"):
			stopLoss = true
		}
	}
	switch {
	case health:
		return FundingInsured
	case stopLoss:
		return FundingSelfFundedStopLoss
	default:
		return FundingLikelySelfFunded
	}
}

// mostRecentYear mirrors the year preference: 2023 wins, then 2022, then
// the newest year seen.
func mostRecentYear(seen map[int]bool) int {
	if len(seen) == 0 {
		return 0
	}
	if seen[2023] {
		return 2023
	}
	if seen[2022] {
		return 2022
	}
	best := 0
	for y := range seen {
		if y > best {
			best = y
		}
	}
	return best
}

func yearKeys(m map[int][]*store.ScheduleA) []int {
	out := make([]int, 0, len(m))
	for y := range m {
		out = append(out, y)
	}
	return out
}

func uniqueYears(years []int) []int {
	seen := make(map[int]bool, len(years))
	var out []int
	for _, y := range years {
		if !seen[y] {
			seen[y] = true
			out = append(out, y)
		}
	}
	return out
}
