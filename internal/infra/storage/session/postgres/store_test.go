package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/internal/infra/storage"
)

func setupSessionTest(t *testing.T) (context.Context, *sessionStore, *domain.Session, func()) {
	t.Helper()

	pool, cleanup := storage.SetupTestContainer(t)
	store := NewSessionStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	session := domain.NewSession("example.com",
		domain.ScopeConfig{InScopeOnly: true, Exclude: []string{"admin.example.com"}},
		domain.ModeAuto,
		time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, store.CreateSession(ctx, session))

	return ctx, store, session, cleanup
}

func testRecords(t *testing.T, seqs ...int64) []domain.LogRecord {
	t.Helper()
	out := make([]domain.LogRecord, 0, len(seqs))
	for _, seq := range seqs {
		rec, err := domain.NewLogRecord(seq, time.Unix(seq, 0).UTC(), domain.RecordDiscoveryIngested,
			domain.DiscoveryIngestion{Tool: "subfinder", Target: "example.com", Assets: int(seq)})
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestSessionStore_CreateAndLoad(t *testing.T) {
	t.Parallel()
	ctx, store, session, cleanup := setupSessionTest(t)
	defer cleanup()

	log, err := store.Load(ctx, session.ID())
	require.NoError(t, err)

	assert.Equal(t, session.ID(), log.Session.ID())
	assert.Equal(t, session.Target(), log.Session.Target())
	assert.Equal(t, session.Mode(), log.Session.Mode())
	assert.Equal(t, session.Status(), log.Session.Status())
	assert.Equal(t, session.Scope(), log.Session.Scope())
	assert.True(t, session.CreatedAt().Equal(log.Session.CreatedAt()))
	assert.Nil(t, log.Snapshot)
	assert.Empty(t, log.Records)
}

func TestSessionStore_AppendAndLoad(t *testing.T) {
	t.Parallel()
	ctx, store, session, cleanup := setupSessionTest(t)
	defer cleanup()

	require.NoError(t, store.Append(ctx, session.ID(), testRecords(t, 1, 2)))
	require.NoError(t, store.Append(ctx, session.ID(), testRecords(t, 3)))

	log, err := store.Load(ctx, session.ID())
	require.NoError(t, err)
	require.Len(t, log.Records, 3)
	for i, rec := range log.Records {
		assert.Equal(t, int64(i+1), rec.Seq)
		assert.Equal(t, domain.RecordDiscoveryIngested, rec.Type)
	}
	assert.JSONEq(t, string(testRecords(t, 2)[0].Payload), string(log.Records[1].Payload))
}

func TestSessionStore_AppendDuplicateSeq(t *testing.T) {
	t.Parallel()
	ctx, store, session, cleanup := setupSessionTest(t)
	defer cleanup()

	require.NoError(t, store.Append(ctx, session.ID(), testRecords(t, 1)))
	err := store.Append(ctx, session.ID(), testRecords(t, 1))
	require.Error(t, err)
}

func TestSessionStore_SnapshotPrunesEvents(t *testing.T) {
	t.Parallel()
	ctx, store, session, cleanup := setupSessionTest(t)
	defer cleanup()

	require.NoError(t, store.Append(ctx, session.ID(), testRecords(t, 1, 2, 3, 4)))
	snap := &domain.Snapshot{
		LastSeq:         3,
		TakenAt:         time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC),
		Session:         session.ToRecord(),
		Revision:        4,
		ScopeViolations: 1,
	}
	require.NoError(t, store.SaveSnapshot(ctx, session.ID(), snap))

	log, err := store.Load(ctx, session.ID())
	require.NoError(t, err)
	require.NotNil(t, log.Snapshot)
	assert.Equal(t, int64(3), log.Snapshot.LastSeq)
	assert.Equal(t, int64(4), log.Snapshot.Revision)
	assert.Equal(t, 1, log.Snapshot.ScopeViolations)
	require.Len(t, log.Records, 1)
	assert.Equal(t, int64(4), log.Records[0].Seq)

	// A later snapshot replaces the earlier one.
	require.NoError(t, store.Append(ctx, session.ID(), testRecords(t, 5)))
	snap.LastSeq = 5
	require.NoError(t, store.SaveSnapshot(ctx, session.ID(), snap))

	log, err = store.Load(ctx, session.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(5), log.Snapshot.LastSeq)
	assert.Empty(t, log.Records)
}

func TestSessionStore_UpdateSession(t *testing.T) {
	t.Parallel()
	ctx, store, session, cleanup := setupSessionTest(t)
	defer cleanup()

	require.NoError(t, session.Transition(domain.SessionStatusPaused, session.CreatedAt().Add(time.Minute)))
	require.NoError(t, store.UpdateSession(ctx, session))

	log, err := store.Load(ctx, session.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPaused, log.Session.Status())
	assert.True(t, session.UpdatedAt().Equal(log.Session.UpdatedAt()))
}

func TestSessionStore_UnknownSession(t *testing.T) {
	t.Parallel()
	ctx, store, _, cleanup := setupSessionTest(t)
	defer cleanup()

	missing := domain.NewSession("other.example", domain.ScopeConfig{}, domain.ModeAuto, time.Now())

	_, err := store.Load(ctx, missing.ID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	err = store.UpdateSession(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = store.Load(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStore_List(t *testing.T) {
	t.Parallel()
	ctx, store, first, cleanup := setupSessionTest(t)
	defer cleanup()

	second := domain.NewSession("10.0.0.1", domain.ScopeConfig{}, domain.ModePassive,
		first.CreatedAt().Add(time.Hour))
	require.NoError(t, store.CreateSession(ctx, second))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID(), sessions[0].ID())
	assert.Equal(t, first.ID(), sessions[1].ID())
}
