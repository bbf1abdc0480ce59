package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

func newSession(t *testing.T, created time.Time) *domain.Session {
	t.Helper()
	return domain.NewSession("example.com", domain.ScopeConfig{InScopeOnly: true}, domain.ModeAuto, created)
}

func record(t *testing.T, seq int64) domain.LogRecord {
	t.Helper()
	rec, err := domain.NewLogRecord(seq, time.Unix(seq, 0).UTC(), domain.RecordDiscoveryIngested,
		domain.DiscoveryIngestion{Tool: "subfinder", Target: "example.com"})
	require.NoError(t, err)
	return rec
}

func TestStore_AppendSnapshotLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	session := newSession(t, time.Now())
	require.NoError(t, store.CreateSession(ctx, session))

	require.NoError(t, store.Append(ctx, session.ID(), []domain.LogRecord{record(t, 1), record(t, 2), record(t, 3)}))
	require.NoError(t, store.SaveSnapshot(ctx, session.ID(), &domain.Snapshot{LastSeq: 2, Session: session.ToRecord()}))
	require.NoError(t, store.Append(ctx, session.ID(), []domain.LogRecord{record(t, 4)}))

	log, err := store.Load(ctx, session.ID())
	require.NoError(t, err)
	require.NotNil(t, log.Snapshot)
	assert.Equal(t, int64(2), log.Snapshot.LastSeq)

	var seqs []int64
	for _, r := range log.Records {
		seqs = append(seqs, r.Seq)
	}
	assert.Equal(t, []int64{3, 4}, seqs)
}

func TestStore_UnknownSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()

	_, err := store.Load(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, store.Append(ctx, uuid.New(), nil), domain.ErrSessionNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	older := newSession(t, base)
	newer := newSession(t, base.Add(time.Hour))
	require.NoError(t, store.CreateSession(ctx, older))
	require.NoError(t, store.CreateSession(ctx, newer))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID(), sessions[0].ID())
	assert.Equal(t, older.ID(), sessions[1].ID())
}

func TestStore_UpdateSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	session := newSession(t, time.Now())
	require.NoError(t, store.CreateSession(ctx, session))

	require.NoError(t, session.Transition(domain.SessionStatusPaused, time.Now()))
	require.NoError(t, store.UpdateSession(ctx, session))

	log, err := store.Load(ctx, session.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPaused, log.Session.Status())
}
