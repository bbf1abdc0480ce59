package recon

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

func TestRegistry_UpsertCreatesAndMerges(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	prov := uuid.New()

	res := r.Upsert(domain.AssetObservation{Identifier: "API.Example.com."}, prov, now)
	require.True(t, res.Created)
	require.True(t, res.Changed)
	assert.Equal(t, "api.example.com", res.Asset.Identifier())
	assert.Equal(t, domain.AssetKindSubdomain, res.Asset.Kind())
	assert.Equal(t, prov, res.Asset.Provenance())
	assert.Equal(t, int64(1), r.Revision())

	// The same observation again changes nothing.
	res = r.Upsert(domain.AssetObservation{Identifier: "api.example.com"}, uuid.New(), now.Add(time.Second))
	assert.False(t, res.Created)
	assert.False(t, res.Changed)
	assert.Equal(t, int64(1), r.Revision())

	res = r.Upsert(domain.AssetObservation{
		Identifier:   "api.example.com",
		Ports:        []domain.PortInfo{{Port: 443, Protocol: "tcp", Service: "https"}},
		Technologies: []string{"nginx"},
	}, uuid.New(), now.Add(2*time.Second))
	assert.False(t, res.Created)
	assert.True(t, res.Changed)
	assert.Equal(t, int64(2), r.Revision())
	assert.Equal(t, int64(2), res.Asset.Revision())
	assert.True(t, res.Asset.HasPort(443))
	assert.True(t, res.Asset.HasTechnology("NGINX"))
	assert.Equal(t, prov, res.Asset.Provenance(), "provenance stays with the first observation")

	assert.Equal(t, 1, r.Len())
}

func TestRegistry_UpsertOrderAndEmptyIdentifier(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	now := time.Now()
	r.Upsert(domain.AssetObservation{Identifier: "b.example.com"}, uuid.Nil, now)
	r.Upsert(domain.AssetObservation{Identifier: "a.example.com"}, uuid.Nil, now)
	res := r.Upsert(domain.AssetObservation{Identifier: "  "}, uuid.Nil, now)
	assert.Nil(t, res.Asset)

	var ids []string
	for _, a := range r.Assets() {
		ids = append(ids, a.Identifier())
	}
	assert.Equal(t, []string{"b.example.com", "a.example.com"}, ids)
}

func TestRegistry_MergeRecomputesCriticality(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	now := time.Now()
	res := r.Upsert(domain.AssetObservation{Identifier: "10.0.0.5"}, uuid.Nil, now)
	assert.Equal(t, 10.0, res.Asset.RiskWeight())

	res = r.Upsert(domain.AssetObservation{
		Identifier: "10.0.0.5",
		Ports:      []domain.PortInfo{{Port: 5432, Protocol: "tcp", Service: "postgresql"}},
	}, uuid.Nil, now)
	assert.Equal(t, 50.0, res.Asset.RiskWeight())
}

func TestRegistry_AddFindingDeduplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	obs := domain.FindingObservation{
		AssetIdentifier: "https://admin.example.com",
		Severity:        "HIGH",
		Title:           "Exposed admin panel",
		Evidence:        "/login",
	}

	f, added := r.AddFinding(obs, "nuclei", uuid.Nil, time.Now())
	require.True(t, added)
	assert.Equal(t, domain.SeverityHigh, f.Severity())

	_, added = r.AddFinding(obs, "nuclei", uuid.Nil, time.Now())
	assert.False(t, added, "same tool, asset, title and evidence is a duplicate")

	_, added = r.AddFinding(obs, "nikto", uuid.Nil, time.Now())
	assert.True(t, added, "another tool reporting the same issue is kept")

	assert.Len(t, r.Findings(), 2)
}

func TestCriticality(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		obs  domain.AssetObservation
		want float64
	}{
		{name: "plain host", obs: domain.AssetObservation{Identifier: "www.example.com"}, want: 10},
		{name: "admin host", obs: domain.AssetObservation{Identifier: "admin.example.com"}, want: 60},
		{name: "staging host", obs: domain.AssetObservation{Identifier: "staging.example.com"}, want: 40},
		{name: "api url", obs: domain.AssetObservation{Identifier: "https://example.com/api/users"}, want: 35},
		{name: "sensitive file", obs: domain.AssetObservation{Identifier: "https://example.com/.env"}, want: 45},
		{
			name: "database port",
			obs: domain.AssetObservation{
				Identifier: "db.example.com",
				Ports:      []domain.PortInfo{{Port: 3306}, {Port: 6379}},
			},
			want: 50,
		},
		{
			name: "capped",
			obs: domain.AssetObservation{
				Identifier: "https://admin-dev.example.com/api/config",
				Ports:      []domain.PortInfo{{Port: 5432}},
			},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := domain.NewAsset(tt.obs, uuid.Nil, 1, time.Now())
			assert.Equal(t, tt.want, Criticality(a))
		})
	}
}
