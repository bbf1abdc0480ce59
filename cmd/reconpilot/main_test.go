package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/internal/infra/storage"
	filestore "github.com/gh0stshe11/reconpilot/internal/infra/storage/session/file"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := execute(context.Background(), args, strings.NewReader(""), &out, &errOut)
	return code, out.String(), errOut.String()
}

// seedSession stores a session with a single asset in a fresh directory.
func seedSession(t *testing.T) (string, *domain.Session) {
	t.Helper()
	dir := t.TempDir()
	store, err := filestore.NewStore(dir, storage.NoOpTracer())
	require.NoError(t, err)

	session := domain.NewSession("example.com", domain.ScopeConfig{InScopeOnly: true}, domain.ModeAuto,
		time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, session))

	rec, err := domain.NewLogRecord(1, time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC), domain.RecordAssetUpserted,
		domain.AssetRecord{Identifier: "api.example.com", Kind: domain.AssetKindSubdomain})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, session.ID(), []domain.LogRecord{rec}))
	return dir, session
}

func TestExecute_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "scan without target", args: []string{"scan"}, want: "accepts 1 arg"},
		{name: "unknown flag", args: []string{"scan", "example.com", "--bogus"}, want: "unknown flag"},
		{name: "bad mode", args: []string{"scan", "example.com", "--mode", "loud"}, want: "unknown mode"},
		{name: "bad session id", args: []string{"sessions", "show", "nope"}, want: "invalid session id"},
		{name: "bad storage driver", args: []string{"sessions", "list", "--storage", "s3"}, want: "Storage.Driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, _, errOut := run(t, tt.args...)
			assert.Equal(t, exitBadRequest, code)
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestExecute_SessionsList(t *testing.T) {
	t.Parallel()

	dir, session := seedSession(t)
	code, out, errOut := run(t, "sessions", "list", "--storage-dir", dir)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, session.ID().String())
	assert.Contains(t, out, "example.com")

	code, out, _ = run(t, "sessions", "list", "--storage", "memory")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "no sessions")
}

func TestExecute_SessionsShowUnknown(t *testing.T) {
	t.Parallel()

	dir, _ := seedSession(t)
	code, _, errOut := run(t, "sessions", "show", uuid.NewString(), "--storage-dir", dir)
	assert.Equal(t, exitBadRequest, code)
	assert.Contains(t, errOut, domain.ErrSessionNotFound.Error())
}

func TestExecute_Report(t *testing.T) {
	t.Parallel()

	dir, session := seedSession(t)
	path := filepath.Join(t.TempDir(), "report.json")

	code, _, errOut := run(t, "report", session.ID().String(), "--storage-dir", dir, "--output", path)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, errOut, "report written")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report struct {
		Session struct {
			ID     string `json:"id"`
			Target string `json:"target"`
		} `json:"session"`
		Assets []struct {
			Identifier string `json:"identifier"`
		} `json:"assets"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, session.ID().String(), report.Session.ID)
	assert.Equal(t, "example.com", report.Session.Target)
	require.Len(t, report.Assets, 1)
	assert.Equal(t, "api.example.com", report.Assets[0].Identifier)
}

func TestExecute_ToolsList(t *testing.T) {
	t.Parallel()

	code, out, errOut := run(t, "tools", "list", "--storage", "memory")
	require.Equal(t, exitOK, code, errOut)
	for _, name := range []string{"subfinder", "nmap", "httpx", "nuclei", "wpscan"} {
		assert.Contains(t, out, name)
	}
}
