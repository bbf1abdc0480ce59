package recon

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

//go:embed rules.yaml
var defaultRules []byte

// Condition narrows a rule to assets with specific attributes. Every
// non-empty field must match; within a field any value matches.
type Condition struct {
	Technology []string `yaml:"technology"`
	PortIn     []int    `yaml:"port_in"`
	Service    []string `yaml:"service"`
}

func (c Condition) matches(a *domain.Asset) bool {
	if len(c.Technology) > 0 && !slices.ContainsFunc(c.Technology, a.HasTechnology) {
		return false
	}
	if len(c.PortIn) > 0 && !slices.ContainsFunc(c.PortIn, a.HasPort) {
		return false
	}
	if len(c.Service) > 0 && !slices.ContainsFunc(c.Service, a.HasService) {
		return false
	}
	return true
}

// Rule maps an asset kind (plus optional conditions) to a follow-up tool run.
type Rule struct {
	Name     string             `yaml:"name"`
	On       []domain.AssetKind `yaml:"on"`
	When     Condition          `yaml:"when"`
	Tool     string             `yaml:"tool"`
	Params   map[string]string  `yaml:"params"`
	After    []string           `yaml:"after"`
	Passive  bool               `yaml:"passive"`
	Priority int                `yaml:"priority"`
	Reason   string             `yaml:"reason"`
}

func (r Rule) applies(a *domain.Asset) bool {
	return slices.Contains(r.On, a.Kind()) && r.When.matches(a)
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRules decodes a YAML rule catalog.
func ParseRules(r io.Reader) ([]Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f ruleFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding rules: %w", err)
	}
	for i, rule := range f.Rules {
		if rule.Name == "" || rule.Tool == "" || len(rule.On) == 0 {
			return nil, fmt.Errorf("%w: rule %d needs name, tool and on", domain.ErrInvalidRequest, i)
		}
		for _, kind := range rule.On {
			if _, err := domain.ParseAssetKind(string(kind)); err != nil {
				return nil, fmt.Errorf("%w: rule %s: %v", domain.ErrInvalidRequest, rule.Name, err)
			}
		}
	}
	return f.Rules, nil
}

// DefaultRules returns the built-in rule catalog.
func DefaultRules() []Rule {
	rules, err := ParseRules(bytes.NewReader(defaultRules))
	if err != nil {
		panic(fmt.Sprintf("embedded rules are invalid: %v", err))
	}
	return rules
}

// LoadRules reads a rule catalog from path, or returns the built-in catalog
// when path is empty.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rules file: %w", err)
	}
	defer f.Close()
	return ParseRules(f)
}

// ToolWeights returns, per tool, the highest priority of any rule that
// targets it. The tool catalog uses it as the prioritizer's static weight.
func ToolWeights(rules []Rule) map[string]float64 {
	out := make(map[string]float64)
	for _, r := range rules {
		if w := float64(r.Priority); w > out[r.Tool] {
			out[r.Tool] = w
		}
	}
	return out
}

// AssetLookup gives the rule engine read access to the registry.
type AssetLookup interface {
	Asset(identifier string) (*domain.Asset, bool)
}

// DerivationInput is everything the rule engine needs to derive follow-ups.
type DerivationInput struct {
	Discovery domain.Discovery
	// Depth is assigned to every derived spec.
	Depth int
	Mode  domain.Mode
	Scope *domain.ScopeFilter
	// Assets resolves merged registry state for observed identifiers.
	Assets AssetLookup
	// Known reports whether a task with the key already exists.
	Known func(domain.TaskKey) bool
}

// ScopeRejection records one target refused by the scope filter together
// with every rule that wanted it.
type ScopeRejection struct {
	Target  string
	Pattern string
	Rules   []string
}

// Derivation is the rule engine output.
type Derivation struct {
	Specs      []domain.TaskSpec
	Violations []ScopeRejection
}

// RuleEngine turns discoveries into follow-up task specs. It holds no
// mutable state; Derive is a pure function of its input.
type RuleEngine struct {
	rules []Rule
	tools domain.ToolCatalog
}

// NewRuleEngine creates a rule engine over the given catalog.
func NewRuleEngine(rules []Rule, tools domain.ToolCatalog) *RuleEngine {
	return &RuleEngine{rules: rules, tools: tools}
}

// Rules returns the loaded rules.
func (e *RuleEngine) Rules() []Rule { return slices.Clone(e.rules) }

type candidate struct {
	spec    domain.TaskSpec
	passive bool
}

// Derive evaluates every rule against every asset in the discovery, then
// applies tool availability, mode gating, idempotence and scope. Each
// refused target is reported once no matter how many rules wanted it.
func (e *RuleEngine) Derive(in DerivationInput) Derivation {
	var cands []candidate

	seenAsset := make(map[string]struct{})
	for _, obs := range in.Discovery.Assets {
		id := domain.NormalizeIdentifier(obs.Identifier)
		if _, dup := seenAsset[id]; dup || id == "" {
			continue
		}
		seenAsset[id] = struct{}{}

		asset, ok := in.Assets.Asset(id)
		if !ok {
			asset = domain.NewAsset(obs, uuid.Nil, 0, time.Time{})
		}
		for _, rule := range e.rules {
			if !rule.applies(asset) {
				continue
			}
			cands = append(cands, candidate{
				spec: domain.TaskSpec{
					Tool:   rule.Tool,
					Target: asset.Identifier(),
					Params: rule.Params,
					After:  afterKeys(rule.After, asset.Identifier()),
					Depth:  in.Depth,
					Rule:   rule.Name,
					Reason: rule.Reason,
				},
				passive: rule.Passive,
			})
		}
	}

	for _, h := range in.Discovery.Hints {
		info, _ := e.tools.Lookup(h.Tool)
		cands = append(cands, candidate{
			spec: domain.TaskSpec{
				Tool:   h.Tool,
				Target: h.Target,
				Params: h.Params,
				Depth:  in.Depth,
				Rule:   "hint",
				Reason: h.Reason,
			},
			passive: info.Passive,
		})
	}

	var out Derivation
	batch := make(map[domain.TaskKey]struct{})
	scopeVerdict := make(map[string]int)

	for _, c := range cands {
		info, ok := e.tools.Lookup(c.spec.Tool)
		if !ok || !info.Enabled || !info.Available {
			continue
		}
		if in.Mode == domain.ModePassive && !c.passive {
			continue
		}

		key := c.spec.Key()
		if _, dup := batch[key]; dup {
			continue
		}
		if in.Known != nil && in.Known(key) {
			continue
		}

		target := domain.NormalizeIdentifier(c.spec.Target)
		if idx, checked := scopeVerdict[target]; checked {
			if idx >= 0 {
				out.Violations[idx].Rules = append(out.Violations[idx].Rules, c.spec.Rule)
				continue
			}
		} else if err := in.Scope.Check(target); err != nil {
			rej := ScopeRejection{Target: target, Rules: []string{c.spec.Rule}}
			var sv *domain.ScopeViolationError
			if errors.As(err, &sv) {
				rej.Pattern = sv.Pattern
			}
			scopeVerdict[target] = len(out.Violations)
			out.Violations = append(out.Violations, rej)
			continue
		} else {
			scopeVerdict[target] = -1
		}

		batch[key] = struct{}{}
		c.spec.NeedsConfirmation = in.Mode == domain.ModeInteractive
		out.Specs = append(out.Specs, c.spec)
	}

	return out
}

func afterKeys(tools []string, target string) []domain.TaskKey {
	if len(tools) == 0 {
		return nil
	}
	keys := make([]domain.TaskKey, 0, len(tools))
	for _, t := range tools {
		keys = append(keys, domain.NewTaskKey(t, target, nil))
	}
	return keys
}
