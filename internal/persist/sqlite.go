package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps saves and the journal in a local SQLite file, for
// single-host servers without Postgres.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

func OpenSQLite(ctx context.Context, path string, log *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}
	if err := runSQLiteMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite 存檔庫已開啟", zap.String("path", path))
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) PutSave(ctx context.Context, row *SaveRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO saves (id, server, tick, seq, version, compression, plan_count, digest, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID.String(), row.Server, int64(row.Tick), int64(row.Seq), int(row.Version),
		row.Compression, row.PlanCount, row.Digest, row.Data, row.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestSave(ctx context.Context) (*SaveRow, error) {
	var (
		row       SaveRow
		id        string
		tick, seq int64
		version   int
		created   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, server, tick, seq, version, compression, plan_count, digest, data, created_at
		 FROM saves ORDER BY created_at DESC, seq DESC LIMIT 1`,
	).Scan(&id, &row.Server, &tick, &seq, &version, &row.Compression, &row.PlanCount, &row.Digest, &row.Data, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest save: %w", err)
	}
	if row.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("latest save id: %w", err)
	}
	row.Tick, row.Seq, row.Version = uint64(tick), uint64(seq), uint16(version)
	row.CreatedAt = time.Unix(0, created).UTC()
	return &row, nil
}

func (s *SQLiteStore) AppendJournal(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO command_journal (seq, tick, kind, owner, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("journal prepare: %w", err)
	}
	defer stmt.Close()
	now := time.Now().UnixNano()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, int64(e.Seq), int64(e.Tick), int(e.Kind), int(e.Owner), e.Payload, now); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) JournalAfter(ctx context.Context, seq uint64) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, tick, kind, owner, payload FROM command_journal WHERE seq > ? ORDER BY seq`,
		int64(seq),
	)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e           JournalEntry
			sq, tk      int64
			kind, owner int
		)
		if err := rows.Scan(&sq, &tk, &kind, &owner, &e.Payload); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.Seq, e.Tick, e.Kind, e.Owner = uint64(sq), uint64(tk), uint8(kind), uint8(owner)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PruneJournal(ctx context.Context, seq uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM command_journal WHERE seq <= ?`, int64(seq))
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
