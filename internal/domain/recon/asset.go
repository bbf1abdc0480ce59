package recon

import (
	"fmt"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssetKind classifies a discovered asset.
type AssetKind string

const (
	AssetKindDomain    AssetKind = "domain"
	AssetKindSubdomain AssetKind = "subdomain"
	AssetKindIP        AssetKind = "ip"
	AssetKindURL       AssetKind = "url"
)

// ParseAssetKind converts a string to an AssetKind.
func ParseAssetKind(s string) (AssetKind, error) {
	switch k := AssetKind(strings.ToLower(s)); k {
	case AssetKindDomain, AssetKindSubdomain, AssetKindIP, AssetKindURL:
		return k, nil
	default:
		return "", fmt.Errorf("unknown asset kind %q", s)
	}
}

// PortInfo describes one open port and the service behind it.
type PortInfo struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol,omitempty"`
	Service  string `json:"service,omitempty"`
	Product  string `json:"product,omitempty"`
	Version  string `json:"version,omitempty"`
}

// AssetObservation is what an adapter reports about a single asset.
type AssetObservation struct {
	Identifier   string
	Kind         AssetKind
	Ports        []PortInfo
	Technologies []string
	Metadata     map[string]string
}

// Asset is the registry's canonical, deduplicated view of a host, subdomain,
// address or URL. Attributes only ever grow through Merge.
type Asset struct {
	identifier   string
	kind         AssetKind
	ports        []PortInfo
	technologies []string
	metadata     map[string]string
	riskWeight   float64
	firstSeen    time.Time
	lastSeen     time.Time
	provenance   uuid.UUID
	revision     int64
}

// NewAsset creates an asset from its first observation.
func NewAsset(obs AssetObservation, provenance uuid.UUID, revision int64, now time.Time) *Asset {
	a := &Asset{
		identifier: NormalizeIdentifier(obs.Identifier),
		kind:       obs.Kind,
		firstSeen:  now,
		lastSeen:   now,
		provenance: provenance,
		revision:   revision,
	}
	if a.kind == "" {
		a.kind = InferAssetKind(a.identifier)
	}
	a.mergeAttributes(obs)
	return a
}

// ReconstructAsset creates an Asset from persisted data.
func ReconstructAsset(
	identifier string,
	kind AssetKind,
	ports []PortInfo,
	technologies []string,
	metadata map[string]string,
	riskWeight float64,
	firstSeen time.Time,
	lastSeen time.Time,
	provenance uuid.UUID,
	revision int64,
) *Asset {
	return &Asset{
		identifier:   identifier,
		kind:         kind,
		ports:        append([]PortInfo(nil), ports...),
		technologies: append([]string(nil), technologies...),
		metadata:     cloneParams(metadata),
		riskWeight:   riskWeight,
		firstSeen:    firstSeen,
		lastSeen:     lastSeen,
		provenance:   provenance,
		revision:     revision,
	}
}

func (a *Asset) Identifier() string          { return a.identifier }
func (a *Asset) Kind() AssetKind             { return a.kind }
func (a *Asset) Ports() []PortInfo           { return append([]PortInfo(nil), a.ports...) }
func (a *Asset) Technologies() []string      { return append([]string(nil), a.technologies...) }
func (a *Asset) Metadata() map[string]string { return cloneParams(a.metadata) }
func (a *Asset) RiskWeight() float64         { return a.riskWeight }
func (a *Asset) FirstSeen() time.Time        { return a.firstSeen }
func (a *Asset) LastSeen() time.Time         { return a.lastSeen }
func (a *Asset) Provenance() uuid.UUID       { return a.provenance }
func (a *Asset) Revision() int64             { return a.revision }

// SetRiskWeight records the criticality computed by the registry.
func (a *Asset) SetRiskWeight(w float64) { a.riskWeight = w }

// HasPort reports whether the asset exposes the given port.
func (a *Asset) HasPort(port int) bool {
	for _, p := range a.ports {
		if p.Port == port {
			return true
		}
	}
	return false
}

// HasTechnology reports whether a technology was fingerprinted, ignoring case.
func (a *Asset) HasTechnology(tech string) bool {
	for _, t := range a.technologies {
		if strings.EqualFold(t, tech) {
			return true
		}
	}
	return false
}

// HasService reports whether any open port runs the named service.
func (a *Asset) HasService(service string) bool {
	for _, p := range a.ports {
		if strings.EqualFold(p.Service, service) {
			return true
		}
	}
	return false
}

// Merge folds a new observation into the asset. Ports and technologies are
// unioned, metadata keys are overwritten. It returns true when any attribute
// changed, in which case the revision is bumped.
func (a *Asset) Merge(obs AssetObservation, revision int64, now time.Time) bool {
	a.lastSeen = now
	if a.kind == AssetKindDomain && obs.Kind == AssetKindSubdomain {
		// A seed domain that shows up again as a subdomain keeps its kind.
		obs.Kind = AssetKindDomain
	}
	if !a.mergeAttributes(obs) {
		return false
	}
	a.revision = revision
	return true
}

func (a *Asset) mergeAttributes(obs AssetObservation) bool {
	changed := false
	for _, p := range obs.Ports {
		idx := slices.IndexFunc(a.ports, func(x PortInfo) bool { return x.Port == p.Port && x.Protocol == p.Protocol })
		if idx < 0 {
			a.ports = append(a.ports, p)
			changed = true
			continue
		}
		cur := &a.ports[idx]
		if p.Service != "" && p.Service != cur.Service {
			cur.Service, changed = p.Service, true
		}
		if p.Product != "" && p.Product != cur.Product {
			cur.Product, changed = p.Product, true
		}
		if p.Version != "" && p.Version != cur.Version {
			cur.Version, changed = p.Version, true
		}
	}
	if changed {
		slices.SortFunc(a.ports, func(x, y PortInfo) int {
			if x.Port != y.Port {
				return x.Port - y.Port
			}
			return strings.Compare(x.Protocol, y.Protocol)
		})
	}

	for _, t := range obs.Technologies {
		t = strings.TrimSpace(t)
		if t == "" || a.HasTechnology(t) {
			continue
		}
		a.technologies = append(a.technologies, t)
		changed = true
	}
	if changed {
		slices.Sort(a.technologies)
	}

	for k, v := range obs.Metadata {
		if cur, ok := a.metadata[k]; ok && cur == v {
			continue
		}
		if a.metadata == nil {
			a.metadata = make(map[string]string, len(obs.Metadata))
		}
		a.metadata[k] = v
		changed = true
	}
	return changed
}

// NormalizeIdentifier lowercases hosts, strips a trailing root dot and
// canonicalizes URLs so equivalent spellings share a registry entry.
func NormalizeIdentifier(id string) string {
	id = strings.TrimSpace(id)
	if strings.Contains(id, "://") {
		u, err := url.Parse(id)
		if err == nil && u.Host != "" {
			u.Scheme = strings.ToLower(u.Scheme)
			u.Host = strings.TrimSuffix(strings.ToLower(u.Host), ".")
			if u.Path == "/" {
				u.Path = ""
			}
			u.Fragment = ""
			return u.String()
		}
	}
	return strings.TrimSuffix(strings.ToLower(id), ".")
}

// InferAssetKind guesses the kind of a bare identifier.
func InferAssetKind(id string) AssetKind {
	if strings.Contains(id, "://") {
		return AssetKindURL
	}
	if _, err := netip.ParseAddr(id); err == nil {
		return AssetKindIP
	}
	if strings.Count(id, ".") >= 2 {
		return AssetKindSubdomain
	}
	return AssetKindDomain
}

// HostOf extracts the host part of an identifier: the host of a URL, the
// address of an IP, or the name itself.
func HostOf(id string) string {
	id = NormalizeIdentifier(id)
	if strings.Contains(id, "://") {
		if u, err := url.Parse(id); err == nil {
			return u.Hostname()
		}
	}
	if ap, err := netip.ParseAddrPort(id); err == nil {
		return ap.Addr().String()
	}
	if h, _, ok := strings.Cut(id, "/"); ok {
		return h
	}
	return id
}
