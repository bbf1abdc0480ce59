package recon

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

func TestBuildReport(t *testing.T) {
	t.Parallel()

	b := newLogBuilder(t)
	task := b.task("httpx", "example.com")
	b.add(domain.RecordTaskCreated, task.ToRecord())

	low := domain.NewAsset(domain.AssetObservation{Identifier: "www.example.com"}, task.ID(), 1, b.now)
	low.SetRiskWeight(10)
	high := domain.NewAsset(domain.AssetObservation{Identifier: "admin.example.com"}, task.ID(), 2, b.now)
	high.SetRiskWeight(60)
	b.add(domain.RecordAssetUpserted, low.ToRecord())
	b.add(domain.RecordAssetUpserted, high.ToRecord())

	info := domain.NewFinding(domain.FindingObservation{AssetIdentifier: "www.example.com", Severity: domain.SeverityInfo, Title: "banner"}, "httpx", task.ID(), b.now)
	crit := domain.NewFinding(domain.FindingObservation{AssetIdentifier: "admin.example.com", Severity: domain.SeverityCritical, Title: "rce"}, "httpx", task.ID(), b.now)
	b.add(domain.RecordFindingAdded, info.ToRecord())
	b.add(domain.RecordFindingAdded, crit.ToRecord())

	restored, err := Replay(b.log())
	require.NoError(t, err)

	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	rep := BuildReport(restored, now)

	assert.Equal(t, now, rep.GeneratedAt)
	assert.Equal(t, restored.Session.ID(), rep.Session.ID)
	require.Len(t, rep.Tasks, 1)
	assert.Equal(t, "httpx", rep.Tasks[0].Tool)

	require.Len(t, rep.Assets, 2)
	assert.Equal(t, "admin.example.com", rep.Assets[0].Identifier)

	require.Len(t, rep.Findings, 2)
	assert.Equal(t, "rce", rep.Findings[0].Title)
	assert.Equal(t, 1, rep.Summary.Critical())

	var buf bytes.Buffer
	require.NoError(t, rep.WriteJSON(&buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "summary")
	assert.Len(t, decoded["findings"], 2)
}
