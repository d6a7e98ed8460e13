package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one encounter in a batch.
type BatchResult struct {
	Index  int     `json:"index"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
}

// ProcessBatch runs encounters on at most Options.Workers goroutines. A
// failed encounter does not cancel the others; results keep input order.
func (p *Pipeline) ProcessBatch(ctx context.Context, encs []Encounter) []BatchResult {
	results := make([]BatchResult, len(encs))
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, enc := range encs {
		g.Go(func() error {
			res, err := p.Process(ctx, enc)
			results[i] = BatchResult{Index: i, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
