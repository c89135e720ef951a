package shrink

import (
	"context"

	"github.com/standardbeagle/shrinker/internal/debug"
	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
	"github.com/standardbeagle/shrinker/internal/graph"
)

// Run performs an incremental run when a saved graph exists and falls back to
// a full run when the incremental preconditions do not hold. Any other error
// aborts the run.
func Run(ctx context.Context, opts Options) (*Result, error) {
	sink := opts.sink()
	if opts.DB == nil {
		return Full(ctx, opts)
	}
	ok, err := graph.HasState(ctx, opts.DB)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Full(ctx, opts)
	}

	res, err := Incremental(ctx, opts)
	if err == nil {
		return res, nil
	}
	if !shrinkerrors.IsIncrementalImpossible(err) {
		return nil, err
	}

	reason := err.Error()
	debug.Logger(debug.ComponentIncremental).Info("incremental run impossible, running full shrink", "reason", reason)
	opts.Metrics.Fallback()
	sink.Reset()
	res, err = Full(ctx, opts)
	if err != nil {
		return nil, err
	}
	res.Stats.Fallback = reason
	return res, nil
}
