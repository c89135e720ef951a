package watch

import (
	"context"

	"github.com/standardbeagle/shrinker/internal/debug"
	"github.com/standardbeagle/shrinker/internal/shrink"
)

// Shrink returns a handler that re-runs the shrinker for every batch.
// options is called per batch so each run sees fresh input fingerprints and
// a clean diagnostics sink. done, when set, receives every result.
func Shrink(options func() (shrink.Options, error), done func(*shrink.Result)) Handler {
	log := debug.Logger(debug.ComponentWatch)
	return func(ctx context.Context, batch Batch) error {
		opts, err := options()
		if err != nil {
			return err
		}
		res, err := shrink.Run(ctx, opts)
		if err != nil {
			return err
		}
		log.Info("inputs changed, shrink finished",
			"changed", len(batch), "mode", res.Stats.Mode, "fallback", res.Stats.Fallback,
			"written", res.Stats.Written, "deleted", res.Stats.Deleted)
		if done != nil {
			done(res)
		}
		return nil
	}
}
