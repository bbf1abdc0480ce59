package tools

import (
	"bufio"
	"bytes"
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

// lines yields trimmed non-empty lines of out.
func lines(out []byte) []string {
	var res []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			res = append(res, l)
		}
	}
	return res
}

func hostObservation(name string) domain.AssetObservation {
	name = domain.NormalizeIdentifier(name)
	return domain.AssetObservation{Identifier: name, Kind: domain.InferAssetKind(name)}
}

func ipObservation(addr string, meta map[string]string) (domain.AssetObservation, bool) {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return domain.AssetObservation{}, false
	}
	return domain.AssetObservation{Identifier: ip.String(), Kind: domain.AssetKindIP, Metadata: meta}, true
}

// parseHostLines reads one hostname per line, as subfinder, amass and
// assetfinder print them.
func parseHostLines(_ string, out []byte) (domain.Discovery, error) {
	var d domain.Discovery
	for _, l := range lines(out) {
		if !strings.Contains(l, ".") || strings.ContainsAny(l, " \t") {
			continue
		}
		d.Assets = append(d.Assets, hostObservation(l))
	}
	return d, nil
}

func parseDNSX(_ string, out []byte) (domain.Discovery, error) {
	var d domain.Discovery
	for _, l := range lines(out) {
		if !gjson.Valid(l) {
			continue
		}
		rec := gjson.Parse(l)
		host := rec.Get("host").String()
		meta := map[string]string{}
		if host != "" {
			meta["hostname"] = host
		}
		for _, field := range []string{"a", "aaaa"} {
			for _, v := range rec.Get(field).Array() {
				if obs, ok := ipObservation(v.String(), meta); ok {
					d.Assets = append(d.Assets, obs)
				}
			}
		}
	}
	return d, nil
}

func parseDNSRecon(_ string, out []byte) (domain.Discovery, error) {
	var d domain.Discovery
	if len(bytes.TrimSpace(out)) == 0 {
		return d, nil
	}
	if !gjson.ValidBytes(out) {
		return d, fmt.Errorf("dnsrecon output is not JSON")
	}
	gjson.ParseBytes(out).ForEach(func(_, rec gjson.Result) bool {
		switch rec.Get("type").String() {
		case "A", "AAAA":
			name := rec.Get("name").String()
			meta := map[string]string{"record": rec.Get("type").String()}
			if name != "" {
				meta["hostname"] = name
				d.Assets = append(d.Assets, hostObservation(name))
			}
			if obs, ok := ipObservation(rec.Get("address").String(), meta); ok {
				d.Assets = append(d.Assets, obs)
			}
		}
		return true
	})
	return d, nil
}

// parseMasscan reads masscan's -oJ output, which is a JSON array written one
// element per line.
func parseMasscan(_ string, out []byte) (domain.Discovery, error) {
	byIP := make(map[string]int)
	var d domain.Discovery
	for _, l := range lines(out) {
		if l == "[" || l == "]" || strings.HasPrefix(l, "#") {
			continue
		}
		l = strings.TrimSuffix(l, ",")
		if !gjson.Valid(l) {
			continue
		}
		rec := gjson.Parse(l)
		obs, ok := ipObservation(rec.Get("ip").String(), nil)
		if !ok {
			continue
		}
		idx, seen := byIP[obs.Identifier]
		if !seen {
			idx = len(d.Assets)
			byIP[obs.Identifier] = idx
			d.Assets = append(d.Assets, obs)
		}
		for _, p := range rec.Get("ports").Array() {
			if p.Get("status").Exists() && p.Get("status").String() != "open" {
				continue
			}
			d.Assets[idx].Ports = append(d.Assets[idx].Ports, domain.PortInfo{
				Port:     int(p.Get("port").Int()),
				Protocol: p.Get("proto").String(),
			})
		}
	}
	return d, nil
}

// parseRustscan reads greppable lines of the form "10.0.0.1 -> [22,80]".
func parseRustscan(_ string, out []byte) (domain.Discovery, error) {
	var d domain.Discovery
	for _, l := range lines(out) {
		addr, ports, ok := strings.Cut(l, "->")
		if !ok {
			continue
		}
		obs, ok := ipObservation(addr, nil)
		if !ok {
			continue
		}
		ports = strings.Trim(strings.TrimSpace(ports), "[]")
		for _, p := range strings.Split(ports, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || n <= 0 || n > 65535 {
				continue
			}
			obs.Ports = append(obs.Ports, domain.PortInfo{Port: n, Protocol: "tcp"})
		}
		d.Assets = append(d.Assets, obs)
	}
	return d, nil
}

var sensitiveTitleWords = []string{"admin", "login", "dashboard", "panel", "console"}

func parseHTTPX(_ string, out []byte) (domain.Discovery, error) {
	var d domain.Discovery
	for _, l := range lines(out) {
		if !gjson.Valid(l) {
			continue
		}
		rec := gjson.Parse(l)
		u := rec.Get("url").String()
		if u == "" {
			continue
		}
		u = domain.NormalizeIdentifier(u)
		obs := domain.AssetObservation{Identifier: u, Kind: domain.AssetKindURL, Metadata: map[string]string{}}
		status := int(rec.Get("status_code").Int())
		if status > 0 {
			obs.Metadata["status_code"] = strconv.Itoa(status)
		}
		title := rec.Get("title").String()
		if title != "" {
			obs.Metadata["title"] = title
		}
		if ws := rec.Get("webserver").String(); ws != "" {
			obs.Metadata["webserver"] = ws
		}
		for _, t := range rec.Get("tech").Array() {
			obs.Technologies = append(obs.Technologies, t.String())
		}
		d.Assets = append(d.Assets, obs)

		if status == 401 || status == 403 {
			d.Findings = append(d.Findings, domain.FindingObservation{
				AssetIdentifier: u,
				Severity:        domain.SeverityMedium,
				Title:           fmt.Sprintf("Access restricted (HTTP %d)", status),
				Description:     "The endpoint requires authentication or denies access.",
				Evidence:        fmt.Sprintf("status_code=%d", status),
			})
		}
		lower := strings.ToLower(title)
		for _, w := range sensitiveTitleWords {
			if strings.Contains(lower, w) {
				d.Findings = append(d.Findings, domain.FindingObservation{
					AssetIdentifier: u,
					Severity:        domain.SeverityMedium,
					Title:           "Sensitive page exposed",
					Description:     fmt.Sprintf("Found potentially sensitive page: %s", title),
					Evidence:        "title=" + title,
				})
				break
			}
		}
	}
	return d, nil
}

// parseWhatWeb accepts both the JSON array log and one object per line.
func parseWhatWeb(target string, out []byte) (domain.Discovery, error) {
	var d domain.Discovery
	var records []gjson.Result
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && trimmed[0] == '[' && gjson.ValidBytes(trimmed) {
		records = gjson.ParseBytes(trimmed).Array()
	} else {
		for _, l := range lines(out) {
			if gjson.Valid(l) {
				records = append(records, gjson.Parse(l))
			}
		}
	}

	for _, rec := range records {
		id := rec.Get("target").String()
		if id == "" {
			id = target
		}
		obs := domain.AssetObservation{Identifier: domain.NormalizeIdentifier(id), Kind: domain.AssetKindURL}
		rec.Get("plugins").ForEach(func(name, plugin gjson.Result) bool {
			tech := name.String()
			if v := plugin.Get("version.0").String(); v != "" {
				tech += " " + v
			}
			obs.Technologies = append(obs.Technologies, tech)
			return true
		})
		if len(obs.Technologies) > 0 {
			d.Assets = append(d.Assets, obs)
		}
	}
	return d, nil
}

var wafName = regexp.MustCompile(`is behind (.+?)(?:\s+\((.+?)\))?\s+WAF`)

func parseWafw00f(target string, out []byte) (domain.Discovery, error) {
	var d domain.Discovery
	for _, l := range lines(out) {
		if !strings.Contains(l, "is behind") {
			continue
		}
		m := wafName.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		if m[2] != "" {
			name = strings.TrimSpace(m[2])
		}
		id := domain.NormalizeIdentifier(target)
		d.Assets = append(d.Assets, domain.AssetObservation{
			Identifier:   id,
			Kind:         domain.InferAssetKind(id),
			Technologies: []string{"WAF:" + name},
			Metadata:     map[string]string{"waf": name},
		})
		d.Findings = append(d.Findings, domain.FindingObservation{
			AssetIdentifier: id,
			Severity:        domain.SeverityInfo,
			Title:           "Web application firewall detected",
			Description:     fmt.Sprintf("The site is behind %s.", name),
			Evidence:        l,
		})
		break
	}
	return d, nil
}

func parseNuclei(target string, out []byte) (domain.Discovery, error) {
	var d domain.Discovery
	for _, l := range lines(out) {
		if !gjson.Valid(l) {
			continue
		}
		rec := gjson.Parse(l)
		name := rec.Get("info.name").String()
		if name == "" {
			name = rec.Get("template-id").String()
		}
		evidence := rec.Get("matched-at").String()
		if tid := rec.Get("template-id").String(); tid != "" {
			evidence = strings.TrimSpace(tid + " " + evidence)
		}
		d.Findings = append(d.Findings, domain.FindingObservation{
			AssetIdentifier: target,
			Severity:        domain.ParseSeverity(rec.Get("info.severity").String()),
			Title:           name,
			Description:     rec.Get("info.description").String(),
			Evidence:        evidence,
		})
	}
	return d, nil
}

var osvdbRef = regexp.MustCompile(`OSVDB-(\d+)`)

func niktoSeverity(line string) domain.Severity {
	l := strings.ToLower(line)
	switch {
	case containsAny(l, "vulnerable", "exploit", "exposed"):
		return domain.SeverityHigh
	case containsAny(l, "outdated", "deprecated", " old"):
		return domain.SeverityMedium
	case containsAny(l, "missing", "weak"):
		return domain.SeverityLow
	default:
		return domain.SeverityInfo
	}
}

func parseNikto(target string, out []byte) (domain.Discovery, error) {
	var d domain.Discovery
	for _, l := range lines(out) {
		if !strings.HasPrefix(l, "+") {
			continue
		}
		l = strings.TrimSpace(strings.TrimPrefix(l, "+"))
		if len(l) <= 10 {
			continue
		}
		title := "Nikto finding"
		if m := osvdbRef.FindStringSubmatch(l); m != nil {
			title = "Nikto finding OSVDB-" + m[1]
		}
		d.Findings = append(d.Findings, domain.FindingObservation{
			AssetIdentifier: target,
			Severity:        niktoSeverity(l),
			Title:           title,
			Description:     l,
			Evidence:        l,
		})
	}
	return d, nil
}

func parseWPScan(target string, out []byte) (domain.Discovery, error) {
	var d domain.Discovery
	if len(bytes.TrimSpace(out)) == 0 {
		return d, nil
	}
	if !gjson.ValidBytes(out) {
		return d, fmt.Errorf("wpscan output is not JSON")
	}
	doc := gjson.ParseBytes(out)
	id := doc.Get("target_url").String()
	if id == "" {
		id = target
	}
	id = domain.NormalizeIdentifier(id)

	tech := "WordPress"
	version := doc.Get("version.number").String()
	if version != "" {
		tech += " " + version
	}
	d.Assets = append(d.Assets, domain.AssetObservation{
		Identifier: id, Kind: domain.AssetKindURL, Technologies: []string{tech},
	})
	if doc.Get("version.status").String() == "insecure" {
		d.Findings = append(d.Findings, domain.FindingObservation{
			AssetIdentifier: id,
			Severity:        domain.SeverityHigh,
			Title:           "Outdated WordPress version",
			Description:     fmt.Sprintf("WordPress version %s is outdated", version),
		})
	}

	vulns := func(section string, sev domain.Severity) {
		doc.Get(section).ForEach(func(name, item gjson.Result) bool {
			for _, v := range item.Get("vulnerabilities").Array() {
				d.Findings = append(d.Findings, domain.FindingObservation{
					AssetIdentifier: id,
					Severity:        sev,
					Title:           v.Get("title").String(),
					Description:     fmt.Sprintf("Vulnerable %s: %s", strings.TrimSuffix(section, "s"), name.String()),
					Evidence:        strings.Join(stringsOf(v.Get("references.url").Array()), " "),
				})
			}
			return true
		})
	}
	vulns("plugins", domain.SeverityHigh)
	vulns("themes", domain.SeverityMedium)
	return d, nil
}

var (
	whoisRegistrar  = regexp.MustCompile(`(?im)^\s*Registrar:\s+(.+)$`)
	whoisCreated    = regexp.MustCompile(`(?im)^\s*Creation Date:\s+(.+)$`)
	whoisNameServer = regexp.MustCompile(`(?im)^\s*Name Server:\s+(.+)$`)
)

func parseWhois(target string, out []byte) (domain.Discovery, error) {
	var d domain.Discovery
	text := string(out)
	meta := map[string]string{}
	if m := whoisRegistrar.FindStringSubmatch(text); m != nil {
		meta["registrar"] = strings.TrimSpace(m[1])
	}
	if m := whoisCreated.FindStringSubmatch(text); m != nil {
		meta["created"] = strings.TrimSpace(m[1])
	}
	var ns []string
	for _, m := range whoisNameServer.FindAllStringSubmatch(text, -1) {
		ns = append(ns, strings.ToLower(strings.TrimSpace(m[1])))
	}
	if len(ns) > 0 {
		meta["name_servers"] = strings.Join(ns, ",")
	}
	if len(meta) == 0 {
		return d, nil
	}

	id := domain.NormalizeIdentifier(target)
	d.Assets = append(d.Assets, domain.AssetObservation{Identifier: id, Kind: domain.InferAssetKind(id), Metadata: meta})

	lower := strings.ToLower(text)
	if strings.Contains(lower, "redacted") || strings.Contains(lower, "privacy") {
		d.Findings = append(d.Findings, domain.FindingObservation{
			AssetIdentifier: id,
			Severity:        domain.SeverityInfo,
			Title:           "WHOIS privacy protection",
			Description:     "Domain has privacy protection enabled",
		})
	}
	return d, nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func stringsOf(rs []gjson.Result) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.String())
	}
	return out
}
