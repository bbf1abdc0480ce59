package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/internal/infra/storage"
)

func setupStore(t *testing.T) (*Store, *domain.Session) {
	t.Helper()

	store, err := NewStore(t.TempDir(), storage.NoOpTracer())
	require.NoError(t, err)

	session := domain.NewSession("example.com", domain.ScopeConfig{InScopeOnly: true}, domain.ModeAuto,
		time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, store.CreateSession(context.Background(), session))
	return store, session
}

func records(t *testing.T, seqs ...int64) []domain.LogRecord {
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

func seqsOf(log *domain.SessionLog) []int64 {
	var out []int64
	for _, r := range log.Records {
		out = append(out, r.Seq)
	}
	return out
}

func TestStore_AppendAndLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, session := setupStore(t)

	require.NoError(t, store.Append(ctx, session.ID(), records(t, 1, 2)))
	require.NoError(t, store.Append(ctx, session.ID(), records(t, 3)))

	log, err := store.Load(ctx, session.ID())
	require.NoError(t, err)
	assert.Equal(t, session.ID(), log.Session.ID())
	assert.Nil(t, log.Snapshot)
	assert.Equal(t, []int64{1, 2, 3}, seqsOf(log))
	assert.JSONEq(t, string(records(t, 2)[0].Payload), string(log.Records[1].Payload))
}

func TestStore_SnapshotTruncatesJournal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, session := setupStore(t)

	require.NoError(t, store.Append(ctx, session.ID(), records(t, 1, 2, 3, 4)))
	snap := &domain.Snapshot{LastSeq: 3, Session: session.ToRecord(), Revision: 7}
	require.NoError(t, store.SaveSnapshot(ctx, session.ID(), snap))

	log, err := store.Load(ctx, session.ID())
	require.NoError(t, err)
	require.NotNil(t, log.Snapshot)
	assert.Equal(t, int64(3), log.Snapshot.LastSeq)
	assert.Equal(t, int64(7), log.Snapshot.Revision)
	assert.Equal(t, []int64{4}, seqsOf(log))
}

func TestStore_TornTailDiscarded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tail string
	}{
		{name: "partial line without newline", tail: `1a2b3c4d {"seq":3,"ty`},
		{name: "checksum mismatch on final line", tail: "00000000 {\"seq\":3}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store, session := setupStore(t)
			require.NoError(t, store.Append(ctx, session.ID(), records(t, 1, 2)))

			path := filepath.Join(store.dir(session.ID()), journalFile)
			f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
			require.NoError(t, err)
			_, err = f.WriteString(tt.tail)
			require.NoError(t, err)
			require.NoError(t, f.Close())

			log, err := store.Load(ctx, session.ID())
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 2}, seqsOf(log))

			// The torn bytes are gone, so new appends land on a clean line.
			require.NoError(t, store.Append(ctx, session.ID(), records(t, 3)))
			log, err = store.Load(ctx, session.ID())
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 2, 3}, seqsOf(log))
		})
	}
}

func TestStore_CorruptMiddleLine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, session := setupStore(t)
	require.NoError(t, store.Append(ctx, session.ID(), records(t, 1)))

	path := filepath.Join(store.dir(session.ID()), journalFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("deadbeef {\"seq\":2}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, store.Append(ctx, session.ID(), records(t, 3)))

	_, err = store.Load(ctx, session.ID())
	assert.ErrorIs(t, err, domain.ErrSessionCorruption)
}

func TestStore_UnknownSession(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir(), storage.NoOpTracer())
	require.NoError(t, err)

	_, err = store.Load(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStore_ListAndUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, first := setupStore(t)

	second := domain.NewSession("10.0.0.1", domain.ScopeConfig{}, domain.ModePassive,
		first.CreatedAt().Add(time.Hour))
	require.NoError(t, store.CreateSession(ctx, second))

	require.NoError(t, first.Transition(domain.SessionStatusCompleted, first.CreatedAt().Add(time.Minute)))
	require.NoError(t, store.UpdateSession(ctx, first))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID(), sessions[0].ID())
	assert.Equal(t, domain.SessionStatusCompleted, sessions[1].Status())
}
