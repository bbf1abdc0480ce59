package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createSession = `-- name: CreateSession :exec
INSERT INTO sessions (id, target, mode, status, scope, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

type CreateSessionParams struct {
	ID        pgtype.UUID
	Target    string
	Mode      string
	Status    string
	Scope     []byte
	CreatedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) error {
	_, err := q.db.Exec(ctx, createSession,
		arg.ID,
		arg.Target,
		arg.Mode,
		arg.Status,
		arg.Scope,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const updateSession = `-- name: UpdateSession :execrows
UPDATE sessions
SET status = $2,
    updated_at = $3
WHERE id = $1
`

type UpdateSessionParams struct {
	ID        pgtype.UUID
	Status    string
	UpdatedAt pgtype.Timestamptz
}

func (q *Queries) UpdateSession(ctx context.Context, arg UpdateSessionParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateSession, arg.ID, arg.Status, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getSession = `-- name: GetSession :one
SELECT id, target, mode, status, scope, created_at, updated_at
FROM sessions
WHERE id = $1
`

func (q *Queries) GetSession(ctx context.Context, id pgtype.UUID) (Session, error) {
	row := q.db.QueryRow(ctx, getSession, id)
	var i Session
	err := row.Scan(
		&i.ID,
		&i.Target,
		&i.Mode,
		&i.Status,
		&i.Scope,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listSessions = `-- name: ListSessions :many
SELECT id, target, mode, status, scope, created_at, updated_at
FROM sessions
ORDER BY created_at DESC
`

func (q *Queries) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := q.db.Query(ctx, listSessions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Session
	for rows.Next() {
		var i Session
		if err := rows.Scan(
			&i.ID,
			&i.Target,
			&i.Mode,
			&i.Status,
			&i.Scope,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type InsertSessionEventsParams struct {
	SessionID pgtype.UUID
	Seq       int64
	Type      string
	Ts        pgtype.Timestamptz
	Payload   []byte
}

const listSessionEvents = `-- name: ListSessionEvents :many
SELECT session_id, seq, type, ts, payload
FROM session_events
WHERE session_id = $1 AND seq > $2
ORDER BY seq
`

type ListSessionEventsParams struct {
	SessionID pgtype.UUID
	Seq       int64
}

func (q *Queries) ListSessionEvents(ctx context.Context, arg ListSessionEventsParams) ([]SessionEvent, error) {
	rows, err := q.db.Query(ctx, listSessionEvents, arg.SessionID, arg.Seq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SessionEvent
	for rows.Next() {
		var i SessionEvent
		if err := rows.Scan(
			&i.SessionID,
			&i.Seq,
			&i.Type,
			&i.Ts,
			&i.Payload,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteSessionEventsThrough = `-- name: DeleteSessionEventsThrough :execrows
DELETE FROM session_events
WHERE session_id = $1 AND seq <= $2
`

type DeleteSessionEventsThroughParams struct {
	SessionID pgtype.UUID
	Seq       int64
}

func (q *Queries) DeleteSessionEventsThrough(ctx context.Context, arg DeleteSessionEventsThroughParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteSessionEventsThrough, arg.SessionID, arg.Seq)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const upsertSessionSnapshot = `-- name: UpsertSessionSnapshot :exec
INSERT INTO session_snapshots (session_id, last_seq, taken_at, data)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id) DO UPDATE
SET last_seq = EXCLUDED.last_seq,
    taken_at = EXCLUDED.taken_at,
    data = EXCLUDED.data
`

type UpsertSessionSnapshotParams struct {
	SessionID pgtype.UUID
	LastSeq   int64
	TakenAt   pgtype.Timestamptz
	Data      []byte
}

func (q *Queries) UpsertSessionSnapshot(ctx context.Context, arg UpsertSessionSnapshotParams) error {
	_, err := q.db.Exec(ctx, upsertSessionSnapshot,
		arg.SessionID,
		arg.LastSeq,
		arg.TakenAt,
		arg.Data,
	)
	return err
}

const getSessionSnapshot = `-- name: GetSessionSnapshot :one
SELECT session_id, last_seq, taken_at, data
FROM session_snapshots
WHERE session_id = $1
`

func (q *Queries) GetSessionSnapshot(ctx context.Context, sessionID pgtype.UUID) (SessionSnapshot, error) {
	row := q.db.QueryRow(ctx, getSessionSnapshot, sessionID)
	var i SessionSnapshot
	err := row.Scan(
		&i.SessionID,
		&i.LastSeq,
		&i.TakenAt,
		&i.Data,
	)
	return i, err
}
