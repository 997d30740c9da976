package executor

import (
	"context"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/collections"
	"golang.org/x/sync/errgroup"
)

// Executor fans a per-target operation out over a list of targets. A failing target
// never stops or cancels the remaining targets. The returned map holds the error of
// every target that failed.
type Executor interface {
	Each(ctx context.Context, targets []string, fn func(ctx context.Context, target string) error) map[string]error
}

// New returns the sequential executor for a parallelism of 1 or less, otherwise a bounded one.
func New(parallelism int) Executor {
	if parallelism <= 1 {
		return Sequential{}
	}
	return Bounded{Limit: parallelism}
}

// Sequential processes targets one at a time in list order.
type Sequential struct {
}

func (s Sequential) Each(ctx context.Context, targets []string, fn func(ctx context.Context, target string) error) map[string]error {
	failures := map[string]error{}
	for _, target := range targets {
		if err := fn(ctx, target); err != nil {
			failures[target] = err
		}
	}
	return failures
}

// Bounded processes at most Limit targets at the same time.
type Bounded struct {
	Limit int
}

func (b Bounded) Each(ctx context.Context, targets []string, fn func(ctx context.Context, target string) error) map[string]error {
	failures := collections.SafeErrorMap{}

	// No shared context: a failing target must not cancel the others
	group := errgroup.Group{}
	group.SetLimit(b.Limit)

	for _, target := range targets {
		target := target
		group.Go(func() error {
			if err := fn(ctx, target); err != nil {
				failures.Put(target, err)
			}
			return nil
		})
	}

	_ = group.Wait()

	return failures.GetCopy()
}
