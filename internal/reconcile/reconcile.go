// Package reconcile decides, for one source calendar, which events must be
// created in or updated on the destination.
package reconcile

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"icssync/internal/diff"
	"icssync/internal/models"
)

// DefaultWorkers bounds the number of events classified concurrently.
const DefaultWorkers = 4

// Options tune a reconciliation run.
type Options struct {
	Workers int
}

// Reconcile matches every source event against the destination snapshot by UID
// and returns one operation per source event, in source order.
//
// The destination slice is only read. Events are classified independently of
// each other, so the work is spread over Options.Workers goroutines.
func Reconcile(ctx context.Context, src, dst []*models.Event, opts Options) ([]models.Operation, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	byUID := make(map[string][]*models.Event, len(dst))
	for _, ev := range dst {
		byUID[ev.UID] = append(byUID[ev.UID], ev)
	}

	ops := make([]models.Operation, len(src))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ev := range src {
		i, ev := i, ev
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ops[i] = classify(ev, byUID[ev.UID])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reconcile aborted: %w", err)
	}
	return ops, nil
}

// classify decides what to do with one source event given the destination
// entries sharing its UID.
func classify(ev *models.Event, matches []*models.Event) models.Operation {
	switch len(matches) {
	case 0:
		return models.Create(ev)
	case 1:
		changed, merged := diff.Diff(ev, matches[0])
		if len(changed) == 0 {
			return models.Skip(ev, models.ReasonNoChange)
		}
		return models.Update(merged, changed)
	default:
		return models.Ambiguous(ev, fmt.Sprintf("ambiguous: %d duplicate destination entries", len(matches)))
	}
}
