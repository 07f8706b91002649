package app

import (
	"context"
	"errors"

	"github.com/vk/quern/internal/ctxlog"
	"github.com/vk/quern/internal/watch"
	"github.com/vk/quern/internal/workspace"
)

// Watch performs an initial run and then reruns on every debounced batch
// of workspace changes until the context is canceled. Build failures and
// rule file errors are logged and watching continues; edits usually fix
// them a moment later. Generated outputs are filtered from the change
// stream so a run never retriggers itself.
func (a *App) Watch(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger

	// Start watching before the initial run so edits made while it is
	// in flight are not lost. Events caused by the run itself are
	// filtered out.
	w, err := watch.New(a.ws.Root(), watch.DefaultDebounce, a.watchIgnore)
	if err != nil {
		return err
	}
	go w.Run(ctx)

	if _, err := a.Run(ctx); err != nil {
		logger.Error("Initial run failed.", "error", err)
	}

	logger.Info("Watching for changes.", "root", a.ws.Root())
	for batch := range w.Batches() {
		logger.Info("Changes detected.", "paths", len(batch))
		if _, err := a.Run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Error("Run failed.", "error", err)
		}
	}
	return nil
}

// watchIgnore filters paths whose changes are our own doing: the state
// directory and any currently declared output.
func (a *App) watchIgnore(rel string) bool {
	if rel == workspace.StateDirName {
		return true
	}
	return a.generatedPath(rel)
}
