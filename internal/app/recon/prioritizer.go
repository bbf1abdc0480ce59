package recon

import domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"

// Weights are the coefficients of the priority score.
type Weights struct {
	Tool        float64
	Criticality float64
	Depth       float64
	Recency     float64
}

// DefaultWeights balances a tool weight of 5-10 against asset criticality of
// 10-100 so an exposed admin panel outranks a slightly heavier tool.
func DefaultWeights() Weights {
	return Weights{Tool: 1, Criticality: 0.1, Depth: 2, Recency: 5}
}

// Prioritizer scores tasks. Scores depend only on the catalog and the
// registry's logical clock, never on wall time, so identical inputs always
// produce identical dispatch order.
type Prioritizer struct {
	weights Weights
	tools   domain.ToolCatalog
	assets  *Registry
}

// NewPrioritizer creates a prioritizer reading from the given registry.
func NewPrioritizer(w Weights, tools domain.ToolCatalog, assets *Registry) *Prioritizer {
	return &Prioritizer{weights: w, tools: tools, assets: assets}
}

// Score computes the priority of running tool against target at depth.
func (p *Prioritizer) Score(tool, target string, depth int) float64 {
	var toolWeight float64
	if info, ok := p.tools.Lookup(tool); ok {
		toolWeight = info.Weight
	}

	var criticality, recency float64
	if a, ok := p.assets.Asset(target); ok {
		criticality = a.RiskWeight()
		age := p.assets.Revision() - a.Revision()
		recency = 1 / float64(1+max(age, 0))
	}

	return p.weights.Tool*toolWeight +
		p.weights.Criticality*criticality -
		p.weights.Depth*float64(depth) +
		p.weights.Recency*recency
}

// ScoreTask computes the priority of an existing task.
func (p *Prioritizer) ScoreTask(t *domain.Task) float64 {
	return p.Score(t.Tool(), t.Target(), t.Depth())
}
