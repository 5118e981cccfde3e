package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/planlines/server/internal/config"
)

// SaveRow is one stored save stream.
type SaveRow struct {
	ID          uuid.UUID
	Server      string
	Tick        uint64
	Seq         uint64
	Version     uint16
	Compression string
	PlanCount   int
	Digest      string
	Data        []byte
	CreatedAt   time.Time
}

// JournalEntry is one executed command, in execution order.
type JournalEntry struct {
	Seq     uint64
	Tick    uint64
	Kind    uint8
	Owner   uint8
	Payload []byte
}

// SaveStore keeps saves and the command journal written since the last
// save. Replaying the journal on top of the latest save restores the
// state at shutdown.
type SaveStore interface {
	PutSave(ctx context.Context, row *SaveRow) error
	// LatestSave returns nil, nil when nothing has been saved yet.
	LatestSave(ctx context.Context) (*SaveRow, error)
	AppendJournal(ctx context.Context, entries []JournalEntry) error
	// JournalAfter returns entries with Seq > seq in order.
	JournalAfter(ctx context.Context, seq uint64) ([]JournalEntry, error)
	// PruneJournal drops entries with Seq <= seq.
	PruneJournal(ctx context.Context, seq uint64) error
	Close() error
}

// NewSaveRow stamps a fresh id and creation time.
func NewSaveRow() *SaveRow {
	return &SaveRow{ID: uuid.New(), CreatedAt: time.Now().UTC()}
}

// Open connects to the store the DSN selects and brings its schema up to
// date. An empty DSN returns nil, nil.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (SaveStore, error) {
	switch cfg.Driver() {
	case "postgres":
		s, err := OpenPostgres(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.SQLitePath(), log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if cfg.DSN == "" {
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported database dsn")
}
