package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Session struct {
	ID        pgtype.UUID
	Target    string
	Mode      string
	Status    string
	Scope     []byte
	CreatedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

type SessionEvent struct {
	SessionID pgtype.UUID
	Seq       int64
	Type      string
	Ts        pgtype.Timestamptz
	Payload   []byte
}

type SessionSnapshot struct {
	SessionID pgtype.UUID
	LastSeq   int64
	TakenAt   pgtype.Timestamptz
	Data      []byte
}
