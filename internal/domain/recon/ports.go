package recon

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ToolAdapter runs one external tool. Implementations must pass target and
// params as discrete argv entries, never through a shell, and must terminate
// the underlying process promptly once ctx is cancelled.
type ToolAdapter interface {
	Execute(ctx context.Context, target string, params map[string]string) (Discovery, error)
}

// ToolCategory groups tools by what they probe.
type ToolCategory string

const (
	ToolCategoryDNS           ToolCategory = "dns"
	ToolCategorySubdomain     ToolCategory = "subdomain"
	ToolCategoryPortScan      ToolCategory = "port_scan"
	ToolCategoryWebProbe      ToolCategory = "web_probe"
	ToolCategoryVulnerability ToolCategory = "vulnerability"
	ToolCategoryOSINT         ToolCategory = "osint"
	ToolCategoryTechnology    ToolCategory = "technology"
)

// ToolInfo is the static description of a catalog entry.
type ToolInfo struct {
	Name         string
	Binary       string
	Category     ToolCategory
	Passive      bool
	RequiresRoot bool
	// Weight is the static risk weight fed to the prioritizer.
	Weight   float64
	Timeout  time.Duration
	Produces []AssetKind
	Consumes []AssetKind
	Enabled  bool
	// Available reports whether the binary was found on PATH.
	Available bool
}

// ToolCatalog resolves tool names to their description and adapter.
type ToolCatalog interface {
	Lookup(name string) (ToolInfo, bool)
	Adapter(name string) (ToolAdapter, bool)
}

// SessionLog is everything persisted for one session.
type SessionLog struct {
	Session  *Session
	Snapshot *Snapshot
	Records  []LogRecord
}

// SessionStore persists sessions as an append-only record log plus periodic
// compacted snapshots.
type SessionStore interface {
	// CreateSession registers a new session.
	CreateSession(ctx context.Context, session *Session) error

	// UpdateSession persists the session header (status and timestamps).
	UpdateSession(ctx context.Context, session *Session) error

	// Append adds records to the session log. Records arrive in strictly
	// increasing sequence order.
	Append(ctx context.Context, sessionID uuid.UUID, records []LogRecord) error

	// SaveSnapshot stores a compacted snapshot and may drop log records the
	// snapshot already covers.
	SaveSnapshot(ctx context.Context, sessionID uuid.UUID, snapshot *Snapshot) error

	// Load returns the session header, its latest snapshot (nil if none) and
	// every readable log record. A torn final record is silently dropped;
	// any other inconsistency yields ErrSessionCorruption.
	Load(ctx context.Context, sessionID uuid.UUID) (*SessionLog, error)

	// List returns every known session, newest first.
	List(ctx context.Context) ([]*Session, error)
}
