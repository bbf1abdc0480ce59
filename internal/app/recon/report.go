package recon

import (
	"cmp"
	"encoding/json"
	"io"
	"slices"
	"time"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

// Report is the exported view of a restored session.
type Report struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Session     domain.SessionRecord   `json:"session"`
	Summary     Status                 `json:"summary"`
	Tasks       []TaskSummary          `json:"tasks"`
	Assets      []domain.AssetRecord   `json:"assets"`
	Findings    []domain.FindingRecord `json:"findings"`
}

// BuildReport assembles a report. Assets are ordered by descending risk
// weight and findings by descending severity.
func BuildReport(r *RestoredSession, now time.Time) Report {
	rep := Report{
		GeneratedAt: now,
		Session:     r.Session.ToRecord(),
		Summary:     r.Status(),
		Tasks:       make([]TaskSummary, 0, len(r.Tasks)),
	}
	for _, t := range r.Tasks {
		rep.Tasks = append(rep.Tasks, summarize(t))
	}

	assets := r.Registry.Assets()
	rep.Assets = make([]domain.AssetRecord, 0, len(assets))
	for _, a := range assets {
		rep.Assets = append(rep.Assets, a.ToRecord())
	}
	slices.SortStableFunc(rep.Assets, func(a, b domain.AssetRecord) int {
		return cmp.Compare(b.RiskWeight, a.RiskWeight)
	})

	findings := r.Registry.Findings()
	rep.Findings = make([]domain.FindingRecord, 0, len(findings))
	for _, f := range findings {
		rep.Findings = append(rep.Findings, f.ToRecord())
	}
	slices.SortStableFunc(rep.Findings, func(a, b domain.FindingRecord) int {
		return cmp.Compare(b.Severity.Score(), a.Severity.Score())
	})
	return rep
}

// WriteJSON writes the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
