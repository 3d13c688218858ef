package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunFunc harvests one institution.
type RunFunc func(ctx context.Context, hostname string) (Summary, error)

// Fleet runs several institutions in parallel. Each run is independent: one
// failing institution neither cancels nor delays the others.
type Fleet struct {
	run     RunFunc
	workers int
	logger  *zap.Logger
}

// NewFleet creates a Fleet running at most workers institutions at once.
func NewFleet(run RunFunc, workers int, logger *zap.Logger) *Fleet {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Fleet{run: run, workers: workers, logger: logger.Named("fleet")}
}

// Run harvests every distinct hostname once. Summaries line up with the
// deduplicated hostnames and the error joins every failed run.
func (f *Fleet) Run(ctx context.Context, hostnames []string) ([]Summary, error) {
	hosts := dedupe(hostnames)
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no institutions to harvest")
	}
	f.logger.Info("starting fleet", zap.Int("institutions", len(hosts)), zap.Int("workers", f.workers))

	summaries := make([]Summary, len(hosts))
	errs := make([]error, len(hosts))

	var g errgroup.Group
	g.SetLimit(f.workers)
	for i, host := range hosts {
		if ctx.Err() != nil {
			errs[i] = fmt.Errorf("%s: %w", host, ctx.Err())
			continue
		}
		g.Go(func() error {
			sum, err := f.run(ctx, host)
			summaries[i] = sum
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", host, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	f.logger.Info("fleet finished", zap.Int("institutions", len(hosts)), zap.Bool("failed", err != nil))
	return summaries, err
}

func dedupe(hostnames []string) []string {
	seen := make(map[string]struct{}, len(hostnames))
	out := make([]string, 0, len(hostnames))
	for _, h := range hostnames {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
