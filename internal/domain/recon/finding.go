package recon

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// ParseSeverity converts tool output into a Severity. Unknown values map to info.
func ParseSeverity(s string) Severity {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return sev
	default:
		return SeverityInfo
	}
}

// Score returns the numeric weight used for session statistics.
func (s Severity) Score() int {
	switch s {
	case SeverityCritical:
		return 100
	case SeverityHigh:
		return 75
	case SeverityMedium:
		return 50
	case SeverityLow:
		return 25
	default:
		return 10
	}
}

// FindingObservation is what an adapter reports about a single issue.
type FindingObservation struct {
	AssetIdentifier string
	Severity        Severity
	Title           string
	Description     string
	Evidence        string
}

// Finding is an append-only record of an issue observed on an asset.
type Finding struct {
	id          uuid.UUID
	asset       string
	tool        string
	severity    Severity
	title       string
	description string
	evidence    string
	provenance  uuid.UUID
	timestamp   time.Time
}

// NewFinding creates a finding produced by tool during task provenance.
func NewFinding(obs FindingObservation, tool string, provenance uuid.UUID, now time.Time) *Finding {
	return &Finding{
		id:          uuid.New(),
		asset:       NormalizeIdentifier(obs.AssetIdentifier),
		tool:        tool,
		severity:    ParseSeverity(string(obs.Severity)),
		title:       obs.Title,
		description: obs.Description,
		evidence:    obs.Evidence,
		provenance:  provenance,
		timestamp:   now,
	}
}

// ReconstructFinding creates a Finding from persisted data.
func ReconstructFinding(
	id uuid.UUID,
	asset, tool string,
	severity Severity,
	title, description, evidence string,
	provenance uuid.UUID,
	timestamp time.Time,
) *Finding {
	return &Finding{
		id:          id,
		asset:       asset,
		tool:        tool,
		severity:    severity,
		title:       title,
		description: description,
		evidence:    evidence,
		provenance:  provenance,
		timestamp:   timestamp,
	}
}

func (f *Finding) ID() uuid.UUID         { return f.id }
func (f *Finding) Asset() string         { return f.asset }
func (f *Finding) Tool() string          { return f.tool }
func (f *Finding) Severity() Severity    { return f.severity }
func (f *Finding) Title() string         { return f.title }
func (f *Finding) Description() string   { return f.description }
func (f *Finding) Evidence() string      { return f.evidence }
func (f *Finding) Provenance() uuid.UUID { return f.provenance }
func (f *Finding) Timestamp() time.Time  { return f.timestamp }

// Fingerprint identifies the same issue reported twice by the same tool.
func (f *Finding) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s|%s", f.asset, f.tool, f.title, f.evidence)
}
