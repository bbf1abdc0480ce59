package db

import (
	"context"
)

// iteratorForInsertSessionEvents implements pgx.CopyFromSource.
type iteratorForInsertSessionEvents struct {
	rows                 []InsertSessionEventsParams
	skippedFirstNextCall bool
}

func (r *iteratorForInsertSessionEvents) Next() bool {
	if len(r.rows) == 0 {
		return false
	}
	if !r.skippedFirstNextCall {
		r.skippedFirstNextCall = true
		return true
	}
	r.rows = r.rows[1:]
	return len(r.rows) > 0
}

func (r iteratorForInsertSessionEvents) Values() ([]interface{}, error) {
	return []interface{}{
		r.rows[0].SessionID,
		r.rows[0].Seq,
		r.rows[0].Type,
		r.rows[0].Ts,
		r.rows[0].Payload,
	}, nil
}

func (r iteratorForInsertSessionEvents) Err() error {
	return nil
}

func (q *Queries) InsertSessionEvents(ctx context.Context, arg []InsertSessionEventsParams) (int64, error) {
	return q.db.CopyFrom(ctx, []string{"session_events"}, []string{"session_id", "seq", "type", "ts", "payload"}, &iteratorForInsertSessionEvents{rows: arg})
}
