package system

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/core/event"
	coresys "github.com/planlines/server/internal/core/system"
	"github.com/planlines/server/internal/persist"
	"github.com/planlines/server/internal/saveload"
	"github.com/planlines/server/internal/world"
)

// PersistenceOptions configures PersistenceSystem.
type PersistenceOptions struct {
	Store       persist.SaveStore // nil keeps saves on disk only
	Path        string            // save file; empty skips the file
	Compression saveload.Compression
	Server      string
	Interval    int // autosave every N ticks; 0 disables autosave
}

// PersistenceSystem journals every executed command and periodically
// writes a full save. After a save reaches the store the journal up to
// its sequence number is pruned. Phase 4 (Persist).
type PersistenceSystem struct {
	world     *world.State
	queue     *command.Queue
	opts      PersistenceOptions
	log       *zap.Logger
	pending   []persist.JournalEntry
	tickCount int
}

func NewPersistenceSystem(ws *world.State, q *command.Queue, bus *event.Bus, opts PersistenceOptions, log *zap.Logger) *PersistenceSystem {
	s := &PersistenceSystem{world: ws, queue: q, opts: opts, log: log}
	event.Subscribe(bus, func(e event.CommandApplied) {
		if s.opts.Store == nil {
			return
		}
		s.pending = append(s.pending, persist.JournalEntry{
			Seq:     e.Seq,
			Tick:    e.Tick,
			Kind:    e.Kind,
			Owner:   e.Owner,
			Payload: e.Frame,
		})
	})
	return s
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.flushJournal()

	if s.opts.Interval <= 0 {
		return
	}
	s.tickCount++
	if s.tickCount < s.opts.Interval {
		return
	}
	s.tickCount = 0
	if err := s.SaveNow(); err != nil {
		s.log.Error("自動存檔失敗", zap.Error(err))
	}
}

// flushJournal writes the entries gathered this tick. On failure they are
// kept and retried next tick.
func (s *PersistenceSystem) flushJournal() {
	if s.opts.Store == nil || len(s.pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Store.AppendJournal(ctx, s.pending); err != nil {
		s.log.Error("指令日誌寫入失敗", zap.Int("entries", len(s.pending)), zap.Error(err))
		return
	}
	s.pending = s.pending[:0]
}

// SaveNow writes a full save immediately. Called by autosave and for
// graceful shutdown. A desynced world is never saved.
func (s *PersistenceSystem) SaveNow() error {
	if err := s.world.Desynced(); err != nil {
		return fmt.Errorf("refusing to save desynced state: %w", err)
	}
	s.flushJournal()

	seq := s.queue.Seq()
	data, err := saveload.SaveBytes(s.world, saveload.Options{
		Compression: s.opts.Compression,
		Seq:         seq,
		Server:      s.opts.Server,
	})
	if err != nil {
		return err
	}

	if s.opts.Path != "" {
		if err := writeFileAtomic(s.opts.Path, data); err != nil {
			return fmt.Errorf("write save file: %w", err)
		}
	}

	if s.opts.Store != nil {
		version, c, err := saveload.Inspect(data)
		if err != nil {
			return err
		}
		row := persist.NewSaveRow()
		row.Server = s.opts.Server
		row.Tick = s.world.Clock.Tick()
		row.Seq = seq
		row.Version = version
		row.Compression = c.String()
		row.PlanCount = s.world.Plans.Len()
		row.Digest = s.world.Digest().String()
		row.Data = data

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.opts.Store.PutSave(ctx, row); err != nil {
			return err
		}
		if len(s.pending) == 0 {
			if err := s.opts.Store.PruneJournal(ctx, seq); err != nil {
				s.log.Warn("指令日誌清理失敗", zap.Error(err))
			}
		}
	}

	s.log.Info("存檔完成",
		zap.Uint64("tick", s.world.Clock.Tick()),
		zap.Uint64("seq", seq),
		zap.Int("plans", s.world.Plans.Len()),
		zap.Int("bytes", len(data)),
	)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
