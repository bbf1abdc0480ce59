package recon

import (
	"fmt"
	"net/netip"
	"strings"

	regexp "github.com/wasilibs/go-re2"
)

// ScopeConfig is the operator supplied include/exclude configuration.
type ScopeConfig struct {
	Include     []string `json:"include,omitempty"`
	Exclude     []string `json:"exclude,omitempty"`
	InScopeOnly bool     `json:"in_scope_only"`
}

// pattern matches a host. Supported forms:
//
//	example.com      exact host
//	*.example.com    any subdomain of example.com
//	10.0.0.0/8       any address in the prefix
//	10.0.0.1         exact address
//	re:^api[0-9]+\.  regular expression on the host
type pattern struct {
	raw    string
	exact  string
	suffix string
	prefix netip.Prefix
	re     *regexp.Regexp
}

func compilePattern(raw string) (pattern, error) {
	p := pattern{raw: raw}
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return p, fmt.Errorf("%w: empty scope pattern", ErrInvalidRequest)
	case strings.HasPrefix(s, "re:"):
		re, err := regexp.Compile(strings.TrimPrefix(s, "re:"))
		if err != nil {
			return p, fmt.Errorf("%w: scope pattern %q: %v", ErrInvalidRequest, raw, err)
		}
		p.re = re
	case strings.HasPrefix(s, "*."):
		p.suffix = strings.ToLower(strings.TrimPrefix(s, "*"))
	case strings.Contains(s, "/"):
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return p, fmt.Errorf("%w: scope pattern %q: %v", ErrInvalidRequest, raw, err)
		}
		p.prefix = prefix.Masked()
	default:
		p.exact = HostOf(s)
	}
	return p, nil
}

func (p pattern) matches(host string) bool {
	switch {
	case p.re != nil:
		return p.re.MatchString(host)
	case p.suffix != "":
		return strings.HasSuffix(host, p.suffix) && len(host) > len(p.suffix)
	case p.prefix.IsValid():
		addr, err := netip.ParseAddr(host)
		return err == nil && p.prefix.Contains(addr)
	default:
		return host == p.exact
	}
}

// ScopeFilter is a pure predicate deciding whether a target may be scanned.
// Exclude patterns always win over include patterns.
type ScopeFilter struct {
	include     []pattern
	exclude     []pattern
	inScopeOnly bool
}

// NewScopeFilter compiles the scope configuration. When in-scope-only is set
// and no include pattern is given, the scan target and its subdomains are the
// implicit include set.
func NewScopeFilter(target string, cfg ScopeConfig) (*ScopeFilter, error) {
	f := &ScopeFilter{inScopeOnly: cfg.InScopeOnly}

	includes := cfg.Include
	if len(includes) == 0 && cfg.InScopeOnly {
		includes = DefaultIncludes(target)
	}
	for _, raw := range includes {
		p, err := compilePattern(raw)
		if err != nil {
			return nil, err
		}
		f.include = append(f.include, p)
	}
	for _, raw := range cfg.Exclude {
		p, err := compilePattern(raw)
		if err != nil {
			return nil, err
		}
		f.exclude = append(f.exclude, p)
	}
	return f, nil
}

// DefaultIncludes returns the implicit include set for a target.
func DefaultIncludes(target string) []string {
	host := HostOf(target)
	if host == "" {
		return nil
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return []string{host}
	}
	return []string{host, "*." + host}
}

// Check returns a *ScopeViolationError when target must not be scanned.
func (f *ScopeFilter) Check(target string) error {
	host := HostOf(target)
	for _, p := range f.exclude {
		if p.matches(host) {
			return &ScopeViolationError{Target: target, Pattern: p.raw}
		}
	}
	if !f.inScopeOnly {
		return nil
	}
	for _, p := range f.include {
		if p.matches(host) {
			return nil
		}
	}
	return &ScopeViolationError{Target: target}
}

// Allowed reports whether target passes the filter.
func (f *ScopeFilter) Allowed(target string) bool { return f.Check(target) == nil }
