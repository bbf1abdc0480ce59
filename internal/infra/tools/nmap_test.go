package tools

import (
	"testing"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

func nmapHost(addr string, ports ...nmap.Port) nmap.Host {
	return nmap.Host{
		Addresses: []nmap.Address{{Addr: "aa:bb:cc:dd:ee:ff", AddrType: "mac"}, {Addr: addr, AddrType: "ipv4"}},
		Hostnames: []nmap.Hostname{{Name: "DB.example.com", Type: "PTR"}},
		Ports:     ports,
	}
}

func nmapPort(id uint16, state, service string) nmap.Port {
	return nmap.Port{
		ID:       id,
		Protocol: "tcp",
		State:    nmap.State{State: state},
		Service:  nmap.Service{Name: service, Product: "product", Version: "1.0"},
	}
}

func TestDiscoveryFromRun(t *testing.T) {
	run := &nmap.Run{Hosts: []nmap.Host{
		nmapHost("10.0.0.7",
			nmapPort(21, "open", "ftp"),
			nmapPort(3306, "open", "mysql"),
			nmapPort(8080, "filtered", "http-proxy"),
		),
	}}

	t.Run("address target", func(t *testing.T) {
		d := discoveryFromRun(run, "10.0.0.7")
		require.Len(t, d.Assets, 1)

		a := d.Assets[0]
		assert.Equal(t, "10.0.0.7", a.Identifier)
		assert.Equal(t, domain.AssetKindIP, a.Kind)
		assert.Equal(t, "db.example.com", a.Metadata["hostnames"])
		require.Len(t, a.Ports, 2)
		assert.Equal(t, domain.PortInfo{Port: 21, Protocol: "tcp", Service: "ftp", Product: "product", Version: "1.0"}, a.Ports[0])

		require.Len(t, d.Findings, 2)
		assert.Equal(t, "Insecure service: FTP", d.Findings[0].Title)
		assert.Equal(t, domain.SeverityMedium, d.Findings[0].Severity)
		assert.Equal(t, "Exposed database: MySQL", d.Findings[1].Title)
		assert.Equal(t, domain.SeverityHigh, d.Findings[1].Severity)
	})

	t.Run("hostname target", func(t *testing.T) {
		d := discoveryFromRun(run, "db.example.com")
		require.Len(t, d.Assets, 2)
		assert.Equal(t, "db.example.com", d.Assets[1].Identifier)
		assert.Equal(t, domain.AssetKindSubdomain, d.Assets[1].Kind)
		assert.Len(t, d.Assets[1].Ports, 2)
		assert.Equal(t, "10.0.0.7", d.Assets[1].Metadata["address"])
	})

	t.Run("host without address", func(t *testing.T) {
		d := discoveryFromRun(&nmap.Run{Hosts: []nmap.Host{{}}}, "10.0.0.7")
		assert.True(t, d.IsEmpty())
	})

	t.Run("nil run", func(t *testing.T) {
		assert.True(t, discoveryFromRun(nil, "10.0.0.7").IsEmpty())
	})
}

func TestNmapAdapter_Options(t *testing.T) {
	a := &nmapAdapter{info: nmapInfo(), extra: []string{"-T4"}}

	assert.Len(t, a.options("/usr/bin/nmap", "10.0.0.7", nil), 6)
	assert.Len(t, a.options("/usr/bin/nmap", "10.0.0.7", map[string]string{"ports": "22,80"}), 6)

	a.extra = nil
	assert.Len(t, a.options("/usr/bin/nmap", "10.0.0.7", nil), 5)
}
