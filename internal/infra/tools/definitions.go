// Package tools provides the built-in tool catalog and the adapters that run
// each external recon binary and normalize its output into a Discovery.
package tools

import (
	"time"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

const (
	shortTimeout = 5 * time.Minute
	longTimeout  = 10 * time.Minute
)

// argvFunc builds the argument list for one invocation. The target is always
// passed as its own argv entry.
type argvFunc func(target string, params map[string]string) []string

// parseFunc turns raw tool output into a Discovery for target.
type parseFunc func(target string, stdout []byte) (domain.Discovery, error)

// definition is a built-in catalog entry.
type definition struct {
	info  domain.ToolInfo
	argv  argvFunc
	parse parseFunc
}

var (
	domainIn    = []domain.AssetKind{domain.AssetKindDomain}
	hostIn      = []domain.AssetKind{domain.AssetKindDomain, domain.AssetKindSubdomain}
	addressIn   = []domain.AssetKind{domain.AssetKindIP, domain.AssetKindDomain, domain.AssetKindSubdomain}
	webIn       = []domain.AssetKind{domain.AssetKindURL}
	probeIn     = []domain.AssetKind{domain.AssetKindDomain, domain.AssetKindSubdomain, domain.AssetKindIP}
	subdomains  = []domain.AssetKind{domain.AssetKindSubdomain}
	addresses   = []domain.AssetKind{domain.AssetKindIP}
	urls        = []domain.AssetKind{domain.AssetKindURL}
	dnsProduces = []domain.AssetKind{domain.AssetKindIP, domain.AssetKindSubdomain}
)

func fixed(args ...string) argvFunc {
	return func(target string, _ map[string]string) []string {
		return append(append([]string(nil), args...), target)
	}
}

// builtins returns the catalog definitions keyed by tool name. nmap is not
// listed here because it runs through its own adapter.
func builtins() map[string]definition {
	return map[string]definition{
		"whois": {
			info: domain.ToolInfo{Name: "whois", Binary: "whois", Category: domain.ToolCategoryOSINT,
				Passive: true, Weight: 9, Timeout: shortTimeout, Consumes: domainIn},
			argv:  fixed(),
			parse: parseWhois,
		},
		"dnsrecon": {
			info: domain.ToolInfo{Name: "dnsrecon", Binary: "dnsrecon", Category: domain.ToolCategoryDNS,
				Weight: 10, Timeout: shortTimeout, Consumes: domainIn, Produces: dnsProduces},
			argv: func(target string, _ map[string]string) []string {
				return []string{"-d", target, "-j", "/dev/stdout"}
			},
			parse: parseDNSRecon,
		},
		"dnsx": {
			info: domain.ToolInfo{Name: "dnsx", Binary: "dnsx", Category: domain.ToolCategoryDNS,
				Weight: 9, Timeout: shortTimeout, Consumes: hostIn, Produces: addresses},
			argv:  fixed("-silent", "-json", "-a", "-aaaa", "-host"),
			parse: parseDNSX,
		},
		"subfinder": {
			info: domain.ToolInfo{Name: "subfinder", Binary: "subfinder", Category: domain.ToolCategorySubdomain,
				Passive: true, Weight: 10, Timeout: shortTimeout, Consumes: domainIn, Produces: subdomains},
			argv:  fixed("-silent", "-d"),
			parse: parseHostLines,
		},
		"amass": {
			info: domain.ToolInfo{Name: "amass", Binary: "amass", Category: domain.ToolCategorySubdomain,
				Passive: true, Weight: 8, Timeout: longTimeout, Consumes: domainIn, Produces: subdomains},
			argv: func(target string, _ map[string]string) []string {
				return []string{"enum", "-passive", "-d", target}
			},
			parse: parseHostLines,
		},
		"assetfinder": {
			info: domain.ToolInfo{Name: "assetfinder", Binary: "assetfinder", Category: domain.ToolCategorySubdomain,
				Passive: true, Weight: 7, Timeout: shortTimeout, Consumes: domainIn, Produces: subdomains},
			argv:  fixed("--subs-only"),
			parse: parseHostLines,
		},
		"masscan": {
			info: domain.ToolInfo{Name: "masscan", Binary: "masscan", Category: domain.ToolCategoryPortScan,
				RequiresRoot: true, Weight: 7, Timeout: shortTimeout, Consumes: addressIn, Produces: addresses},
			argv: func(target string, p map[string]string) []string {
				return []string{"-p" + param(p, "ports", "1-65535"), "--rate=" + param(p, "rate", "1000"), "-oJ", "-", target}
			},
			parse: parseMasscan,
		},
		"rustscan": {
			info: domain.ToolInfo{Name: "rustscan", Binary: "rustscan", Category: domain.ToolCategoryPortScan,
				Weight: 8, Timeout: shortTimeout, Consumes: addressIn, Produces: addresses},
			argv: func(target string, _ map[string]string) []string {
				return []string{"--greppable", "--ulimit", "5000", "-a", target}
			},
			parse: parseRustscan,
		},
		"httpx": {
			info: domain.ToolInfo{Name: "httpx", Binary: "httpx", Category: domain.ToolCategoryWebProbe,
				Weight: 8, Timeout: shortTimeout, Consumes: probeIn, Produces: urls},
			argv:  fixed("-silent", "-json", "-status-code", "-tech-detect", "-title", "-u"),
			parse: parseHTTPX,
		},
		"whatweb": {
			info: domain.ToolInfo{Name: "whatweb", Binary: "whatweb", Category: domain.ToolCategoryTechnology,
				Weight: 7, Timeout: shortTimeout, Consumes: webIn, Produces: urls},
			argv:  fixed("--color=never", "--log-json=/dev/stdout", "--quiet"),
			parse: parseWhatWeb,
		},
		"wafw00f": {
			info: domain.ToolInfo{Name: "wafw00f", Binary: "wafw00f", Category: domain.ToolCategoryTechnology,
				Weight: 6, Timeout: shortTimeout, Consumes: webIn, Produces: urls},
			argv:  fixed(),
			parse: parseWafw00f,
		},
		"nuclei": {
			info: domain.ToolInfo{Name: "nuclei", Binary: "nuclei", Category: domain.ToolCategoryVulnerability,
				Weight: 7, Timeout: longTimeout, Consumes: webIn},
			argv:  fixed("-jsonl", "-silent", "-u"),
			parse: parseNuclei,
		},
		"nikto": {
			info: domain.ToolInfo{Name: "nikto", Binary: "nikto", Category: domain.ToolCategoryVulnerability,
				Weight: 5, Timeout: longTimeout, Consumes: webIn},
			argv:  fixed("-nointeractive", "-h"),
			parse: parseNikto,
		},
		"wpscan": {
			info: domain.ToolInfo{Name: "wpscan", Binary: "wpscan", Category: domain.ToolCategoryVulnerability,
				Weight: 8, Timeout: longTimeout, Consumes: webIn, Produces: urls},
			argv:  fixed("--format", "json", "--random-user-agent", "--url"),
			parse: parseWPScan,
		},
	}
}

// nmapInfo describes the nmap entry, which runs through the nmap library.
func nmapInfo() domain.ToolInfo {
	return domain.ToolInfo{Name: "nmap", Binary: "nmap", Category: domain.ToolCategoryPortScan,
		Weight: 9, Timeout: longTimeout, Consumes: addressIn, Produces: addresses}
}

func param(p map[string]string, key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}
