package pipeline

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"vizguard/internal/dataset"
	"vizguard/internal/logging"
)

// RunBatch runs every request against the shared dataset with at most
// parallel runs in flight. Results are returned in request order. Runs are
// independent: one failing run does not stop the others.
func (p *Pipeline) RunBatch(ctx context.Context, reqs []Request, ds *dataset.Dataset, parallel int) []*Result {
	if parallel <= 0 {
		parallel = runtime.GOMAXPROCS(0)
	}
	timer := logging.StartTimer(logging.CategoryPipeline, "batch")
	defer timer.Stop()

	results := make([]*Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = p.Run(ctx, req, ds)
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		}
	}
	logging.Pipeline("batch finished: %d/%d runs succeeded", succeeded, len(reqs))
	return results
}
