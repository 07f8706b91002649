package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/vk/quern/internal/ctxlog"
	"github.com/vk/quern/internal/fingerprint"
	"github.com/vk/quern/internal/resolve"
	"github.com/vk/quern/internal/rulefile"
	"github.com/vk/quern/internal/snapshot"
)

// Plan resolves the current dirty set and prints it in execution order
// with the reason each node was scheduled. Nothing on disk is touched:
// no lock, no cache, no snapshot write.
func (a *App) Plan(ctx context.Context) (*resolve.Analysis, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	productions, err := rulefile.Load(ctx, a.rulesPath(), a.ws.Root())
	if err != nil {
		return nil, err
	}

	prev, err := snapshot.Load(ctx, a.ws.SnapshotPath())
	if err != nil {
		return nil, err
	}

	fp := fingerprint.NewRooted(a.ws.Root(), fingerprint.NewService(nil))
	analysis, err := resolve.Analyze(ctx, prev, productions, fp, a.cfg.Workers)
	if err != nil {
		return nil, err
	}

	if len(analysis.Units) == 0 {
		fmt.Fprintln(a.outW, "up to date")
		return analysis, nil
	}

	tw := tabwriter.NewWriter(a.outW, 0, 0, 2, ' ', 0)
	for _, u := range analysis.Units {
		for _, n := range u.Outputs {
			mark := analysis.Dirty[n.Path]
			fmt.Fprintf(tw, "%s\t%s\t%s\n", n.Path, u.Name(), mark)
		}
	}
	if err := tw.Flush(); err != nil {
		return nil, err
	}
	return analysis, nil
}
