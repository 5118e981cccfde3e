package system

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/persist"
	"github.com/planlines/server/internal/saveload"
	"github.com/planlines/server/internal/world"
)

// RestoreInfo describes what RestoreState loaded.
type RestoreInfo struct {
	Source   string // "store", "file" or "" for a fresh world
	SaveSeq  uint64
	Replayed int
}

// RestoreState brings ws and q back to the last persisted state: the
// latest save in store, or the save file at path when the store has none,
// followed by every journal entry written after that save.
func RestoreState(ctx context.Context, ws *world.State, q *command.Queue, store persist.SaveStore, path string, log *zap.Logger) (RestoreInfo, error) {
	var info RestoreInfo

	var data []byte
	if store != nil {
		row, err := store.LatestSave(ctx)
		if err != nil {
			return info, err
		}
		if row != nil {
			data, info.Source = row.Data, "store"
		}
	}
	if data == nil && path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			data, info.Source = b, "file"
		case !errors.Is(err, fs.ErrNotExist):
			return info, err
		}
	}
	if data != nil {
		meta, err := saveload.LoadBytes(data, ws)
		if err != nil {
			return info, fmt.Errorf("load %s save: %w", info.Source, err)
		}
		info.SaveSeq = meta.Seq
		q.SetSeq(meta.Seq)
	}

	if store == nil {
		return info, nil
	}
	entries, err := store.JournalAfter(ctx, q.Seq())
	if err != nil {
		return info, err
	}
	d := command.NewDispatcher(ws, nil, log)
	for _, e := range entries {
		if e.Seq != q.Seq()+1 {
			return info, fmt.Errorf("journal gap: entry %d after %d", e.Seq, q.Seq())
		}
		cmd, err := command.Decode(e.Payload)
		if err != nil {
			return info, fmt.Errorf("journal entry %d: %w", e.Seq, err)
		}
		ws.Clock.SetTick(e.Tick)
		if _, err := d.Execute(cmd); err != nil {
			return info, fmt.Errorf("journal entry %d: %w", e.Seq, err)
		}
		q.SetSeq(e.Seq)
		info.Replayed++
	}
	if info.Replayed > 0 {
		// Resume on the tick after the last replayed command.
		ws.Clock.Advance()
	}
	return info, nil
}
