package recon

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
)

// journalItem is one ordered unit of persistence work. Exactly one field is set.
type journalItem struct {
	records  []domain.LogRecord
	snapshot *domain.Snapshot
	session  *domain.Session
}

// journal moves session persistence off the coordinating goroutine. Items are
// written by a single writer in the order they were queued, so the store sees
// records in sequence order and a snapshot only after every record it covers.
type journal struct {
	store     domain.SessionStore
	sessionID uuid.UUID
	logger    *logger.Logger

	mu      sync.Mutex
	pending []journalItem
	closed  bool
	signal  chan struct{}
	stop    chan struct{}
}

func newJournal(store domain.SessionStore, sessionID uuid.UUID, log *logger.Logger) *journal {
	return &journal{
		store:     store,
		sessionID: sessionID,
		logger:    log.With("component", "journal", "session_id", sessionID.String()),
		signal:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

func (j *journal) enqueue(fn func()) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	fn()
	j.mu.Unlock()

	select {
	case j.signal <- struct{}{}:
	default:
	}
}

// append queues a record, coalescing it with adjacent records.
func (j *journal) append(rec domain.LogRecord) {
	j.enqueue(func() {
		if n := len(j.pending); n > 0 && j.pending[n-1].records != nil {
			j.pending[n-1].records = append(j.pending[n-1].records, rec)
			return
		}
		j.pending = append(j.pending, journalItem{records: []domain.LogRecord{rec}})
	})
}

func (j *journal) snapshot(snap *domain.Snapshot) {
	j.enqueue(func() { j.pending = append(j.pending, journalItem{snapshot: snap}) })
}

func (j *journal) updateSession(s *domain.Session) {
	j.enqueue(func() { j.pending = append(j.pending, journalItem{session: s}) })
}

// close stops accepting work. run drains what is already queued and returns.
func (j *journal) close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.closed = true
	close(j.stop)
}

func (j *journal) take() []journalItem {
	j.mu.Lock()
	defer j.mu.Unlock()
	items := j.pending
	j.pending = nil
	return items
}

// run writes queued items until close is called. A failed write is logged
// and remembered; later items are still attempted so the log keeps as much
// of the session as possible.
func (j *journal) run(ctx context.Context) error {
	var errs []error
	for {
		select {
		case <-j.signal:
			errs = append(errs, j.flush(ctx)...)
		case <-j.stop:
			errs = append(errs, j.flush(ctx)...)
			return errors.Join(errs...)
		}
	}
}

func (j *journal) flush(ctx context.Context) []error {
	var errs []error
	for _, item := range j.take() {
		var err error
		switch {
		case item.records != nil:
			err = j.store.Append(ctx, j.sessionID, item.records)
		case item.snapshot != nil:
			err = j.store.SaveSnapshot(ctx, j.sessionID, item.snapshot)
		case item.session != nil:
			err = j.store.UpdateSession(ctx, item.session)
		}
		if err != nil {
			j.logger.Error(ctx, "failed to persist session state", "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}
