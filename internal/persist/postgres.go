package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/planlines/server/internal/config"
)

// PostgresStore keeps saves and the journal in Postgres through a pgx pool.
type PostgresStore struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// OpenPostgres connects, pings and migrates.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{Pool: pool, log: log}, nil
}

func (s *PostgresStore) PutSave(ctx context.Context, row *SaveRow) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO saves (id, server, tick, seq, version, compression, plan_count, digest, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.ID.String(), row.Server, int64(row.Tick), int64(row.Seq), int32(row.Version),
		row.Compression, row.PlanCount, row.Digest, row.Data, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert save: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestSave(ctx context.Context) (*SaveRow, error) {
	var (
		row       SaveRow
		id        string
		tick, seq int64
		version   int32
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT id::text, server, tick, seq, version, compression, plan_count, digest, data, created_at
		 FROM saves ORDER BY created_at DESC, seq DESC LIMIT 1`,
	).Scan(&id, &row.Server, &tick, &seq, &version, &row.Compression, &row.PlanCount, &row.Digest, &row.Data, &row.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest save: %w", err)
	}
	if row.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("latest save id: %w", err)
	}
	row.Tick, row.Seq, row.Version = uint64(tick), uint64(seq), uint16(version)
	return &row, nil
}

// AppendJournal writes a batch of entries in a single transaction.
func (s *PostgresStore) AppendJournal(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO command_journal (seq, tick, kind, owner, payload) VALUES ($1, $2, $3, $4, $5)`,
			int64(e.Seq), int64(e.Tick), int16(e.Kind), int16(e.Owner), e.Payload,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) JournalAfter(ctx context.Context, seq uint64) ([]JournalEntry, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT seq, tick, kind, owner, payload FROM command_journal WHERE seq > $1 ORDER BY seq`,
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
			kind, owner int16
		)
		if err := rows.Scan(&sq, &tk, &kind, &owner, &e.Payload); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.Seq, e.Tick, e.Kind, e.Owner = uint64(sq), uint64(tk), uint8(kind), uint8(owner)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PruneJournal(ctx context.Context, seq uint64) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM command_journal WHERE seq <= $1`, int64(seq))
	return err
}

func (s *PostgresStore) Close() error {
	s.Pool.Close()
	return nil
}
