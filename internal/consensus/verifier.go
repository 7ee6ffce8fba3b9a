package consensus

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/tapnode/pkg/script"
)

// Verifier runs input script checks on a bounded worker pool. A failure
// stops checks of later jobs.
type Verifier struct {
	workers int
}

// NewVerifier creates a Verifier. workers <= 0 uses GOMAXPROCS.
func NewVerifier(workers int) *Verifier {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Verifier{workers: workers}
}

// Workers returns the worker limit.
func (v *Verifier) Workers() int {
	return v.workers
}

// Run verifies every job under flags. It returns the failure of the lowest
// failing job index, or ctx.Err() if the context ends first. Jobs above a
// known failure are skipped; jobs below it always run, so the reported
// reason does not depend on scheduling.
func (v *Verifier) Run(ctx context.Context, jobs []ScriptJob, flags script.VerifyFlags) error {
	if len(jobs) == 0 {
		return ctx.Err()
	}
	if v.workers == 1 || len(jobs) == 1 {
		for i := range jobs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := jobs[i].Run(flags); err != nil {
				return fmt.Errorf("tx %d: %w", jobs[i].TxIndex, err)
			}
		}
		return nil
	}

	var firstBad atomic.Int64
	firstBad.Store(int64(len(jobs)))
	errs := make([]error, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i := range jobs {
		if gctx.Err() != nil || int64(i) > firstBad.Load() {
			break
		}
		j := &jobs[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if int64(i) > firstBad.Load() {
				return nil
			}
			if err := j.Run(flags); err != nil {
				errs[i] = fmt.Errorf("tx %d: %w", j.TxIndex, err)
				for {
					cur := firstBad.Load()
					if int64(i) >= cur || firstBad.CompareAndSwap(cur, int64(i)) {
						break
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
