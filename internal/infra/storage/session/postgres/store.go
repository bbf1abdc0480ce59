package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gh0stshe11/reconpilot/internal/db"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/internal/infra/storage"
)

var _ domain.SessionStore = (*sessionStore)(nil)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// sessionStore persists session logs in PostgreSQL. Records live in
// session_events keyed by (session_id, seq); the latest snapshot replaces the
// previous one and prunes the records it covers in the same transaction.
type sessionStore struct {
	db     *pgxpool.Pool
	q      *db.Queries
	tracer trace.Tracer
}

// NewSessionStore creates a PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool, tracer trace.Tracer) *sessionStore {
	return &sessionStore{db: pool, q: db.New(pool), tracer: tracer}
}

func pgUUID(id uuid.UUID) pgtype.UUID { return pgtype.UUID{Bytes: id, Valid: true} }

func pgTime(t time.Time) pgtype.Timestamptz { return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()} }

func attrsFor(sessionID uuid.UUID, extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := append([]attribute.KeyValue{}, defaultDBAttributes...)
	attrs = append(attrs, attribute.String("session_id", sessionID.String()))
	return append(attrs, extra...)
}

// CreateSession inserts the session header.
func (s *sessionStore) CreateSession(ctx context.Context, session *domain.Session) error {
	dbAttrs := attrsFor(session.ID(),
		attribute.String("target", session.Target()),
		attribute.String("mode", string(session.Mode())),
	)
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_session", dbAttrs, func(ctx context.Context) error {
		scope, err := json.Marshal(session.Scope())
		if err != nil {
			return fmt.Errorf("failed to marshal scope: %w", err)
		}
		if err := s.q.CreateSession(ctx, db.CreateSessionParams{
			ID:        pgUUID(session.ID()),
			Target:    session.Target(),
			Mode:      string(session.Mode()),
			Status:    string(session.Status()),
			Scope:     scope,
			CreatedAt: pgTime(session.CreatedAt()),
			UpdatedAt: pgTime(session.UpdatedAt()),
		}); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	})
}

// UpdateSession persists the session status.
func (s *sessionStore) UpdateSession(ctx context.Context, session *domain.Session) error {
	dbAttrs := attrsFor(session.ID(), attribute.String("status", string(session.Status())))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_session", dbAttrs, func(ctx context.Context) error {
		rows, err := s.q.UpdateSession(ctx, db.UpdateSessionParams{
			ID:        pgUUID(session.ID()),
			Status:    string(session.Status()),
			UpdatedAt: pgTime(session.UpdatedAt()),
		})
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, session.ID())
		}
		return nil
	})
}

// Append bulk-inserts records with COPY.
func (s *sessionStore) Append(ctx context.Context, sessionID uuid.UUID, records []domain.LogRecord) error {
	if len(records) == 0 {
		return nil
	}
	dbAttrs := attrsFor(sessionID, attribute.Int("records", len(records)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.append_session_events", dbAttrs, func(ctx context.Context) error {
		rows := make([]db.InsertSessionEventsParams, len(records))
		for i, r := range records {
			rows[i] = db.InsertSessionEventsParams{
				SessionID: pgUUID(sessionID),
				Seq:       r.Seq,
				Type:      string(r.Type),
				Ts:        pgTime(r.Timestamp),
				Payload:   r.Payload,
			}
		}

		n, err := s.q.InsertSessionEvents(ctx, rows)
		if err != nil {
			return fmt.Errorf("failed to append session events: %w", err)
		}
		if n != int64(len(records)) {
			return fmt.Errorf("appended %d session events, expected %d", n, len(records))
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("records_inserted", n))
		return nil
	})
}

// SaveSnapshot upserts the snapshot and prunes covered records atomically.
func (s *sessionStore) SaveSnapshot(ctx context.Context, sessionID uuid.UUID, snapshot *domain.Snapshot) error {
	dbAttrs := attrsFor(sessionID, attribute.Int64("last_seq", snapshot.LastSeq))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_session_snapshot", dbAttrs, func(ctx context.Context) error {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}

		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		qtx := s.q.WithTx(tx)
		if err := qtx.UpsertSessionSnapshot(ctx, db.UpsertSessionSnapshotParams{
			SessionID: pgUUID(sessionID),
			LastSeq:   snapshot.LastSeq,
			TakenAt:   pgTime(snapshot.TakenAt),
			Data:      data,
		}); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}

		pruned, err := qtx.DeleteSessionEventsThrough(ctx, db.DeleteSessionEventsThroughParams{
			SessionID: pgUUID(sessionID),
			Seq:       snapshot.LastSeq,
		})
		if err != nil {
			return fmt.Errorf("failed to prune session events: %w", err)
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("records_pruned", pruned))

		return tx.Commit(ctx)
	})
}

// Load reads the header, the snapshot and every record after it.
func (s *sessionStore) Load(ctx context.Context, sessionID uuid.UUID) (*domain.SessionLog, error) {
	var log *domain.SessionLog
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.load_session", attrsFor(sessionID), func(ctx context.Context) error {
		row, err := s.q.GetSession(ctx, pgUUID(sessionID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
			}
			return fmt.Errorf("failed to load session: %w", err)
		}
		session, err := sessionFromRow(row)
		if err != nil {
			return &domain.CorruptionError{SessionID: sessionID, Reason: err.Error()}
		}
		log = &domain.SessionLog{Session: session}

		var after int64
		snapRow, err := s.q.GetSessionSnapshot(ctx, pgUUID(sessionID))
		switch {
		case err == nil:
			var snap domain.Snapshot
			if err := json.Unmarshal(snapRow.Data, &snap); err != nil {
				return &domain.CorruptionError{SessionID: sessionID, Seq: snapRow.LastSeq, Reason: fmt.Sprintf("snapshot: %v", err)}
			}
			log.Snapshot = &snap
			after = snapRow.LastSeq
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return fmt.Errorf("failed to load snapshot: %w", err)
		}

		rows, err := s.q.ListSessionEvents(ctx, db.ListSessionEventsParams{SessionID: pgUUID(sessionID), Seq: after})
		if err != nil {
			return fmt.Errorf("failed to load session events: %w", err)
		}
		log.Records = make([]domain.LogRecord, 0, len(rows))
		for _, r := range rows {
			log.Records = append(log.Records, domain.LogRecord{
				Seq:       r.Seq,
				Timestamp: r.Ts.Time.UTC(),
				Type:      domain.RecordType(r.Type),
				Payload:   json.RawMessage(r.Payload),
			})
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("records_loaded", len(rows)))
		return nil
	})
	return log, err
}

// List returns every session, newest first.
func (s *sessionStore) List(ctx context.Context) ([]*domain.Session, error) {
	var out []*domain.Session
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_sessions", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := s.q.ListSessions(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		for _, r := range rows {
			session, err := sessionFromRow(r)
			if err != nil {
				return err
			}
			out = append(out, session)
		}
		return nil
	})
	return out, err
}

func sessionFromRow(row db.Session) (*domain.Session, error) {
	var scope domain.ScopeConfig
	if len(row.Scope) > 0 {
		if err := json.Unmarshal(row.Scope, &scope); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scope: %w", err)
		}
	}
	return domain.ReconstructSession(
		uuid.UUID(row.ID.Bytes),
		row.Target,
		scope,
		domain.Mode(row.Mode),
		domain.SessionStatus(row.Status),
		row.CreatedAt.Time.UTC(),
		row.UpdatedAt.Time.UTC(),
	), nil
}
