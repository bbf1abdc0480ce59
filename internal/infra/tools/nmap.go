package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	nmap "github.com/Ullaakut/nmap/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
)

var (
	insecureServices = map[string]struct{}{"telnet": {}, "ftp": {}, "smtp": {}}
	databasePorts    = map[int]string{
		3306:  "MySQL",
		5432:  "PostgreSQL",
		27017: "MongoDB",
		6379:  "Redis",
		1433:  "MSSQL",
	}
)

// nmapAdapter drives nmap through its XML output instead of scraping text.
type nmapAdapter struct {
	info  domain.ToolInfo
	extra []string
	path  func(name string) (string, bool)

	logger *logger.Logger
	tracer trace.Tracer
}

var _ domain.ToolAdapter = (*nmapAdapter)(nil)

func (a *nmapAdapter) options(path, target string, params map[string]string) []nmap.Option {
	opts := []nmap.Option{
		nmap.WithBinaryPath(path),
		nmap.WithTargets(target),
		nmap.WithServiceInfo(),
		nmap.WithOpenOnly(),
	}
	if ports := params["ports"]; ports != "" {
		opts = append(opts, nmap.WithPorts(ports))
	} else {
		opts = append(opts, nmap.WithMostCommonPorts(1000))
	}
	if len(a.extra) > 0 {
		opts = append(opts, nmap.WithCustomArguments(a.extra...))
	}
	return opts
}

func (a *nmapAdapter) Execute(ctx context.Context, target string, params map[string]string) (domain.Discovery, error) {
	name := a.info.Name
	if err := validateTarget(target); err != nil {
		return domain.Discovery{}, domain.NewAdapterError(name, target, err)
	}
	path, ok := a.path(name)
	if !ok {
		return domain.Discovery{}, domain.NewAdapterError(name, target,
			fmt.Errorf("%w: binary %q not on PATH", domain.ErrToolUnavailable, a.info.Binary))
	}

	ctx, span := a.tracer.Start(ctx, "tool_adapter.execute",
		trace.WithAttributes(
			attribute.String("tool", name),
			attribute.String("target", target),
		))
	defer span.End()

	scanner, err := nmap.NewScanner(ctx, a.options(path, domain.HostOf(target), params)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create scanner")
		return domain.Discovery{}, domain.NewAdapterError(name, target, fmt.Errorf("creating nmap scanner: %w", err))
	}

	result, warnings, err := scanner.Run()
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
		return domain.Discovery{}, domain.NewAdapterError(name, target, context.Cause(ctx))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return domain.Discovery{}, domain.NewAdapterError(name, target, fmt.Errorf("running nmap: %w", err))
	}
	if warnings != nil && len(*warnings) > 0 {
		a.logger.Warn(ctx, "nmap produced warnings", "target", target, "warnings", *warnings)
	}

	disc := discoveryFromRun(result, target)
	span.SetAttributes(attribute.Int("assets", len(disc.Assets)), attribute.Int("findings", len(disc.Findings)))
	a.logger.Debug(ctx, "nmap finished", "target", target, "hosts", len(result.Hosts))
	return disc, nil
}

// discoveryFromRun maps open ports to the scanned address. When target is a
// hostname the ports are reported on it as well so port rules can fire on
// either identifier.
func discoveryFromRun(run *nmap.Run, target string) domain.Discovery {
	var d domain.Discovery
	if run == nil {
		return d
	}
	named := domain.InferAssetKind(domain.HostOf(target)) != domain.AssetKindIP

	for _, h := range run.Hosts {
		addr := hostAddress(h)
		if addr == "" {
			continue
		}
		var ports []domain.PortInfo
		for _, p := range h.Ports {
			if !strings.HasPrefix(strings.ToLower(p.State.State), "open") {
				continue
			}
			pi := domain.PortInfo{
				Port:     int(p.ID),
				Protocol: p.Protocol,
				Service:  p.Service.Name,
				Product:  p.Service.Product,
				Version:  p.Service.Version,
			}
			ports = append(ports, pi)
			d.Findings = append(d.Findings, portFindings(addr, pi)...)
		}

		meta := map[string]string{}
		var names []string
		for _, hn := range h.Hostnames {
			names = append(names, strings.ToLower(hn.Name))
		}
		if len(names) > 0 {
			meta["hostnames"] = strings.Join(names, ",")
		}
		if len(h.OS.Matches) > 0 {
			meta["os"] = h.OS.Matches[0].Name
		}
		d.Assets = append(d.Assets, domain.AssetObservation{
			Identifier: addr, Kind: domain.AssetKindIP, Ports: ports, Metadata: meta,
		})

		if named && len(ports) > 0 {
			host := domain.HostOf(target)
			d.Assets = append(d.Assets, domain.AssetObservation{
				Identifier: host,
				Kind:       domain.InferAssetKind(host),
				Ports:      ports,
				Metadata:   map[string]string{"address": addr},
			})
		}
	}
	return d
}

func portFindings(addr string, p domain.PortInfo) []domain.FindingObservation {
	var out []domain.FindingObservation
	evidence := strconv.Itoa(p.Port) + "/" + p.Protocol + " " + p.Service
	if _, ok := insecureServices[p.Service]; ok {
		out = append(out, domain.FindingObservation{
			AssetIdentifier: addr,
			Severity:        domain.SeverityMedium,
			Title:           "Insecure service: " + strings.ToUpper(p.Service),
			Description:     fmt.Sprintf("Insecure %s service detected on port %d", p.Service, p.Port),
			Evidence:        evidence,
		})
	}
	if db, ok := databasePorts[p.Port]; ok {
		out = append(out, domain.FindingObservation{
			AssetIdentifier: addr,
			Severity:        domain.SeverityHigh,
			Title:           "Exposed database: " + db,
			Description:     db + " database port exposed",
			Evidence:        evidence,
		})
	}
	return out
}

func hostAddress(h nmap.Host) string {
	for _, want := range []string{"ipv4", "ipv6"} {
		for _, a := range h.Addresses {
			if a.AddrType == want {
				return a.Addr
			}
		}
	}
	return ""
}
