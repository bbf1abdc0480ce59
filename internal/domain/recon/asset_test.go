package recon

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAsset_MergeUnionsAttributes(t *testing.T) {
	t.Parallel()

	first := uuid.New()
	a := NewAsset(AssetObservation{
		Identifier: "1.2.3.4",
		Ports:      []PortInfo{{Port: 80, Protocol: "tcp", Service: "http"}},
		Metadata:   map[string]string{"asn": "64500"},
	}, first, 1, time.Unix(1, 0))

	assert.Equal(t, AssetKindIP, a.Kind())

	changed := a.Merge(AssetObservation{
		Identifier:   "1.2.3.4",
		Ports:        []PortInfo{{Port: 22, Protocol: "tcp", Service: "ssh"}, {Port: 80, Protocol: "tcp", Service: "http"}},
		Technologies: []string{"nginx"},
		Metadata:     map[string]string{"asn": "64501"},
	}, 2, time.Unix(2, 0))

	assert.True(t, changed)
	assert.Equal(t, []PortInfo{{Port: 22, Protocol: "tcp", Service: "ssh"}, {Port: 80, Protocol: "tcp", Service: "http"}}, a.Ports())
	assert.Equal(t, []string{"nginx"}, a.Technologies())
	assert.Equal(t, "64501", a.Metadata()["asn"])
	assert.Equal(t, first, a.Provenance())
	assert.Equal(t, int64(2), a.Revision())
	assert.Equal(t, time.Unix(1, 0), a.FirstSeen())
	assert.Equal(t, time.Unix(2, 0), a.LastSeen())
}

func TestAsset_MergeWithoutChangeKeepsRevision(t *testing.T) {
	t.Parallel()

	a := NewAsset(AssetObservation{Identifier: "app.example.com", Technologies: []string{"WordPress"}}, uuid.Nil, 3, time.Unix(1, 0))
	changed := a.Merge(AssetObservation{Identifier: "app.example.com", Technologies: []string{"wordpress"}}, 9, time.Unix(5, 0))

	assert.False(t, changed)
	assert.Equal(t, int64(3), a.Revision())
	assert.Equal(t, time.Unix(5, 0), a.LastSeen())
}

func TestNormalizeIdentifier(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "app.example.com", NormalizeIdentifier(" App.Example.COM. "))
	assert.Equal(t, "https://app.example.com", NormalizeIdentifier("HTTPS://App.Example.com/"))
	assert.Equal(t, "https://app.example.com/Admin", NormalizeIdentifier("https://app.example.com/Admin"))
}

func TestInferAssetKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, AssetKindURL, InferAssetKind("https://example.com"))
	assert.Equal(t, AssetKindIP, InferAssetKind("2001:db8::1"))
	assert.Equal(t, AssetKindSubdomain, InferAssetKind("app.example.com"))
	assert.Equal(t, AssetKindDomain, InferAssetKind("example.com"))
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "app.example.com", HostOf("https://app.example.com:8443/x"))
	assert.Equal(t, "10.0.0.1", HostOf("10.0.0.1:22"))
	assert.Equal(t, "example.com", HostOf("example.com"))
}
