package recon

import (
	"slices"
	"time"

	"github.com/google/uuid"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

// UpsertResult describes the effect of ingesting one asset observation.
type UpsertResult struct {
	Asset   *domain.Asset
	Created bool
	Changed bool
}

// Registry is the canonical store of assets and findings for one session.
// It is owned by the scheduler loop and is not safe for concurrent use.
// Entries are never removed; assets only grow through merges.
type Registry struct {
	assets   map[string]*domain.Asset
	order    []string
	findings []*domain.Finding
	seen     map[string]struct{}

	// revision is a logical clock bumped on every asset creation or change.
	revision int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		assets: make(map[string]*domain.Asset),
		seen:   make(map[string]struct{}),
	}
}

// Upsert creates or merges the asset identified by obs.
func (r *Registry) Upsert(obs domain.AssetObservation, provenance uuid.UUID, now time.Time) UpsertResult {
	id := domain.NormalizeIdentifier(obs.Identifier)
	if id == "" {
		return UpsertResult{}
	}

	if existing, ok := r.assets[id]; ok {
		if !existing.Merge(obs, r.revision+1, now) {
			return UpsertResult{Asset: existing}
		}
		r.revision++
		existing.SetRiskWeight(Criticality(existing))
		return UpsertResult{Asset: existing, Changed: true}
	}

	r.revision++
	a := domain.NewAsset(obs, provenance, r.revision, now)
	a.SetRiskWeight(Criticality(a))
	r.assets[id] = a
	r.order = append(r.order, id)
	return UpsertResult{Asset: a, Created: true, Changed: true}
}

// AddFinding appends a finding unless the same tool already reported the
// same issue on the same asset.
func (r *Registry) AddFinding(obs domain.FindingObservation, tool string, provenance uuid.UUID, now time.Time) (*domain.Finding, bool) {
	f := domain.NewFinding(obs, tool, provenance, now)
	fp := f.Fingerprint()
	if _, dup := r.seen[fp]; dup {
		return nil, false
	}
	r.seen[fp] = struct{}{}
	r.findings = append(r.findings, f)
	return f, true
}

// Asset returns the asset with the given identifier.
func (r *Registry) Asset(identifier string) (*domain.Asset, bool) {
	a, ok := r.assets[domain.NormalizeIdentifier(identifier)]
	return a, ok
}

// Assets returns every asset in first-seen order.
func (r *Registry) Assets() []*domain.Asset {
	out := make([]*domain.Asset, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.assets[id])
	}
	return out
}

// Findings returns every finding in insertion order.
func (r *Registry) Findings() []*domain.Finding { return slices.Clone(r.findings) }

// Revision returns the current logical clock.
func (r *Registry) Revision() int64 { return r.revision }

// Len returns the number of assets.
func (r *Registry) Len() int { return len(r.order) }

// restoreAsset installs a persisted asset verbatim.
func (r *Registry) restoreAsset(a *domain.Asset) {
	id := a.Identifier()
	if _, ok := r.assets[id]; !ok {
		r.order = append(r.order, id)
	}
	r.assets[id] = a
	r.revision = max(r.revision, a.Revision())
}

// restoreFinding installs a persisted finding verbatim.
func (r *Registry) restoreFinding(f *domain.Finding) {
	fp := f.Fingerprint()
	if _, dup := r.seen[fp]; dup {
		return
	}
	r.seen[fp] = struct{}{}
	r.findings = append(r.findings, f)
}
