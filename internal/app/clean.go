package app

import (
	"context"
	"fmt"

	"github.com/vk/quern/internal/ctxlog"
	"github.com/vk/quern/internal/graph"
	"github.com/vk/quern/internal/snapshot"
)

// Clean deletes every generated file the snapshot knows about and resets
// the snapshot to empty. Sources are never touched. It returns the number
// of files actually removed.
func (a *App) Clean(ctx context.Context) (int, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	lock, err := a.ws.Lock(ctx)
	if err != nil {
		return 0, err
	}
	defer lock.Unlock()

	prev, err := snapshot.Load(ctx, a.ws.SnapshotPath())
	if err != nil {
		return 0, err
	}

	empty := graph.New()
	pruneSet := snapshot.PruneSet(prev, empty)
	failures := snapshot.Prune(ctx, a.ws.Root(), pruneSet)

	if err := snapshot.Save(ctx, a.ws.SnapshotPath(), empty); err != nil {
		return 0, fmt.Errorf("reset snapshot: %w", err)
	}

	removed := len(pruneSet) - len(failures)
	fmt.Fprintf(a.outW, "cleaned %d generated files\n", removed)
	if len(failures) > 0 {
		fmt.Fprintf(a.outW, "  %d could not be removed, see the log\n", len(failures))
	}
	return removed, nil
}
