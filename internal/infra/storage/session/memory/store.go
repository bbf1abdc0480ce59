package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

var _ domain.SessionStore = (*Store)(nil)

// Store keeps session logs in memory for tests and throwaway scans. Every
// value crossing the API is copied so callers never share state with it.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*entry
}

type entry struct {
	session  domain.SessionRecord
	snapshot *domain.Snapshot
	records  []domain.LogRecord
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[uuid.UUID]*entry)}
}

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID()]; exists {
		return fmt.Errorf("session %s already exists", session.ID())
	}
	s.sessions[session.ID()] = &entry{session: session.ToRecord()}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[session.ID()]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, session.ID())
	}
	e.session = session.ToRecord()
	return nil
}

func (s *Store) Append(ctx context.Context, sessionID uuid.UUID, records []domain.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	for _, r := range records {
		r.Payload = slices.Clone(r.Payload)
		e.records = append(e.records, r)
	}
	return nil
}

// SaveSnapshot replaces the snapshot and drops the records it covers.
func (s *Store) SaveSnapshot(ctx context.Context, sessionID uuid.UUID, snapshot *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	cp := *snapshot
	cp.Tasks = slices.Clone(snapshot.Tasks)
	cp.Assets = slices.Clone(snapshot.Assets)
	cp.Findings = slices.Clone(snapshot.Findings)
	e.snapshot = &cp
	e.records = slices.DeleteFunc(e.records, func(r domain.LogRecord) bool {
		return r.Seq <= snapshot.LastSeq
	})
	return nil
}

func (s *Store) Load(ctx context.Context, sessionID uuid.UUID) (*domain.SessionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}

	log := &domain.SessionLog{
		Session: domain.SessionFromRecord(e.session),
		Records: make([]domain.LogRecord, 0, len(e.records)),
	}
	if e.snapshot != nil {
		cp := *e.snapshot
		log.Snapshot = &cp
	}
	for _, r := range e.records {
		r.Payload = slices.Clone(r.Payload)
		log.Records = append(log.Records, r)
	}
	return log, nil
}

func (s *Store) List(ctx context.Context) ([]*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Session, 0, len(s.sessions))
	for _, e := range s.sessions {
		out = append(out, domain.SessionFromRecord(e.session))
	}
	slices.SortFunc(out, func(a, b *domain.Session) int {
		return b.CreatedAt().Compare(a.CreatedAt())
	})
	return out, nil
}
