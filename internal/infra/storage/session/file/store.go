// Package file stores sessions on the local filesystem. Each session owns a
// directory holding its header, an append-only journal and the latest
// compacted snapshot:
//
//	<root>/<session-id>/meta.json
//	<root>/<session-id>/journal.log
//	<root>/<session-id>/snapshot.json
//
// Every journal line is "<crc32 hex> <json record>". A final line that is
// incomplete or fails its checksum is a torn write from a crash and is
// discarded; a bad line anywhere else means the journal is corrupt.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/internal/infra/storage"
)

const (
	metaFile     = "meta.json"
	journalFile  = "journal.log"
	snapshotFile = "snapshot.json"
)

var _ domain.SessionStore = (*Store)(nil)

// Store is a filesystem backed SessionStore.
type Store struct {
	root   string
	mu     sync.Mutex
	tracer trace.Tracer
}

// NewStore creates the root directory if needed.
func NewStore(root string, tracer trace.Tracer) (*Store, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory %s: %w", root, err)
	}
	return &Store{root: root, tracer: tracer}, nil
}

func (s *Store) dir(id uuid.UUID) string { return filepath.Join(s.root, id.String()) }

func sessionAttrs(id uuid.UUID) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("session_id", id.String())}
}

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "file.session.create_session", sessionAttrs(session.ID()),
		func(ctx context.Context) error {
			s.mu.Lock()
			defer s.mu.Unlock()

			dir := s.dir(session.ID())
			if err := os.Mkdir(dir, 0o700); err != nil {
				return fmt.Errorf("failed to create session directory: %w", err)
			}
			return writeJSONAtomic(filepath.Join(dir, metaFile), session.ToRecord())
		})
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "file.session.update_session", sessionAttrs(session.ID()),
		func(ctx context.Context) error {
			s.mu.Lock()
			defer s.mu.Unlock()

			dir, err := s.existing(session.ID())
			if err != nil {
				return err
			}
			return writeJSONAtomic(filepath.Join(dir, metaFile), session.ToRecord())
		})
}

func (s *Store) Append(ctx context.Context, sessionID uuid.UUID, records []domain.LogRecord) error {
	attrs := append(sessionAttrs(sessionID), attribute.Int("records", len(records)))
	return storage.ExecuteAndTrace(ctx, s.tracer, "file.session.append", attrs,
		func(ctx context.Context) error {
			s.mu.Lock()
			defer s.mu.Unlock()

			dir, err := s.existing(sessionID)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			for _, rec := range records {
				if err := encodeLine(&buf, rec); err != nil {
					return err
				}
			}

			f, err := os.OpenFile(filepath.Join(dir, journalFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			if _, err := f.Write(buf.Bytes()); err != nil {
				f.Close()
				return fmt.Errorf("failed to append to journal: %w", err)
			}
			if err := f.Sync(); err != nil {
				f.Close()
				return fmt.Errorf("failed to sync journal: %w", err)
			}
			return f.Close()
		})
}

// SaveSnapshot writes the snapshot atomically, then rewrites the journal
// without the records it covers.
func (s *Store) SaveSnapshot(ctx context.Context, sessionID uuid.UUID, snapshot *domain.Snapshot) error {
	attrs := append(sessionAttrs(sessionID), attribute.Int64("last_seq", snapshot.LastSeq))
	return storage.ExecuteAndTrace(ctx, s.tracer, "file.session.save_snapshot", attrs,
		func(ctx context.Context) error {
			s.mu.Lock()
			defer s.mu.Unlock()

			dir, err := s.existing(sessionID)
			if err != nil {
				return err
			}
			if err := writeJSONAtomic(filepath.Join(dir, snapshotFile), snapshot); err != nil {
				return err
			}

			records, _, err := readJournal(sessionID, filepath.Join(dir, journalFile))
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			for _, rec := range records {
				if rec.Seq <= snapshot.LastSeq {
					continue
				}
				if err := encodeLine(&buf, rec); err != nil {
					return err
				}
			}
			return writeAtomic(filepath.Join(dir, journalFile), buf.Bytes())
		})
}

func (s *Store) Load(ctx context.Context, sessionID uuid.UUID) (*domain.SessionLog, error) {
	var log *domain.SessionLog
	err := storage.ExecuteAndTrace(ctx, s.tracer, "file.session.load", sessionAttrs(sessionID),
		func(ctx context.Context) error {
			s.mu.Lock()
			defer s.mu.Unlock()

			dir, err := s.existing(sessionID)
			if err != nil {
				return err
			}

			var header domain.SessionRecord
			if err := readJSON(filepath.Join(dir, metaFile), &header); err != nil {
				return &domain.CorruptionError{SessionID: sessionID, Reason: fmt.Sprintf("session header: %v", err)}
			}
			log = &domain.SessionLog{Session: domain.SessionFromRecord(header)}

			var snap domain.Snapshot
			switch err := readJSON(filepath.Join(dir, snapshotFile), &snap); {
			case err == nil:
				log.Snapshot = &snap
			case errors.Is(err, fs.ErrNotExist):
			default:
				return &domain.CorruptionError{SessionID: sessionID, Reason: fmt.Sprintf("snapshot: %v", err)}
			}

			path := filepath.Join(dir, journalFile)
			records, validLen, err := readJournal(sessionID, path)
			if err != nil {
				return err
			}
			if validLen >= 0 {
				// Drop the torn tail so later appends start on a clean line.
				if err := os.Truncate(path, validLen); err != nil {
					return fmt.Errorf("failed to trim torn journal tail: %w", err)
				}
			}
			log.Records = records
			return nil
		})
	return log, err
}

func (s *Store) List(ctx context.Context) ([]*domain.Session, error) {
	var out []*domain.Session
	err := storage.ExecuteAndTrace(ctx, s.tracer, "file.session.list", nil,
		func(ctx context.Context) error {
			s.mu.Lock()
			defer s.mu.Unlock()

			entries, err := os.ReadDir(s.root)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				if _, err := uuid.Parse(e.Name()); err != nil {
					continue
				}
				var header domain.SessionRecord
				if err := readJSON(filepath.Join(s.root, e.Name(), metaFile), &header); err != nil {
					continue
				}
				out = append(out, domain.SessionFromRecord(header))
			}
			return nil
		})
	slices.SortFunc(out, func(a, b *domain.Session) int {
		return b.CreatedAt().Compare(a.CreatedAt())
	})
	return out, err
}

func (s *Store) existing(id uuid.UUID) (string, error) {
	dir := s.dir(id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return "", err
	}
	return dir, nil
}

func encodeLine(w io.Writer, rec domain.LogRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %d: %w", rec.Seq, err)
	}
	_, err = fmt.Fprintf(w, "%08x %s\n", crc32.ChecksumIEEE(payload), payload)
	return err
}

func decodeLine(line []byte) (domain.LogRecord, error) {
	var rec domain.LogRecord
	sum, payload, ok := bytes.Cut(line, []byte{' '})
	if !ok || len(sum) != 8 {
		return rec, errors.New("malformed journal line")
	}
	want, err := strconv.ParseUint(string(sum), 16, 32)
	if err != nil {
		return rec, fmt.Errorf("malformed checksum: %w", err)
	}
	if crc32.ChecksumIEEE(payload) != uint32(want) {
		return rec, errors.New("checksum mismatch")
	}
	if err := json.Unmarshal(payload, &rec); err != nil {
		return rec, fmt.Errorf("undecodable record: %w", err)
	}
	return rec, nil
}

// readJournal returns every intact record. validLen is the byte length of
// the intact prefix when a torn tail was found, and -1 otherwise.
func readJournal(sessionID uuid.UUID, path string) ([]domain.LogRecord, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, -1, nil
		}
		return nil, -1, fmt.Errorf("failed to read journal: %w", err)
	}

	var (
		records []domain.LogRecord
		offset  int64
	)
	r := bufio.NewReader(bytes.NewReader(data))
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) == 0 {
				return records, -1, nil
			}
			// No trailing newline: the last write never finished.
			return records, offset, nil
		}
		if err != nil {
			return nil, -1, err
		}

		rec, decodeErr := decodeLine(bytes.TrimSuffix(line, []byte{'\n'}))
		if decodeErr != nil {
			if offset+int64(len(line)) == int64(len(data)) {
				return records, offset, nil
			}
			return nil, -1, &domain.CorruptionError{
				SessionID: sessionID,
				Seq:       lastSeq(records) + 1,
				Reason:    fmt.Sprintf("journal offset %d: %v", offset, decodeErr),
			}
		}
		records = append(records, rec)
		offset += int64(len(line))
	}
}

func lastSeq(records []domain.LogRecord) int64 {
	if len(records) == 0 {
		return 0
	}
	return records[len(records)-1].Seq
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data)
}

// writeAtomic replaces path through a synced temporary file and a rename.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(tmp), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(tmp), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(tmp), err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
