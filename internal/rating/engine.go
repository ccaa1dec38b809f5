package rating

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"freightaudit/internal/freight"
	"freightaudit/internal/tariff"
)

const defaultWorkers = 8

// Engine rates a batch of shipments against one snapshot.
type Engine struct {
	sel     Selector
	workers int
	log     *zap.Logger
}

func NewEngine(p Pricer, workers int, log *zap.Logger) *Engine {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{sel: Selector{Pricer: p}, workers: workers, log: log}
}

// Result is the output of one rating pass. Outcomes is indexed like the
// input shipments.
type Result struct {
	Outcomes []freight.RatingOutcome
	Groups   []freight.ConsolidationGroup
}

// Run selects a carrier for every shipment in parallel and, once all of them
// are done, runs consolidation. A cancelled ctx aborts the run and returns
// no result.
func (e *Engine) Run(ctx context.Context, snap *tariff.Snapshot, shipments []freight.Shipment) (Result, error) {
	start := time.Now()
	outcomes := make([]freight.RatingOutcome, len(shipments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range shipments {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := shipments[i]
			o := Outcome(s, e.sel.Select(snap, s))
			o.Flags = Flags(s)
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	groups := e.sel.Consolidate(snap, shipments, outcomes)
	e.log.Debug("rating pass complete",
		zap.Int("shipments", len(shipments)),
		zap.Int("tariffs", snap.Len()),
		zap.Int("groups", len(groups)),
		zap.Duration("took", time.Since(start)))
	return Result{Outcomes: outcomes, Groups: groups}, nil
}

// Quote prices a single shipment without consolidation.
func (e *Engine) Quote(snap *tariff.Snapshot, s freight.Shipment) freight.RatingOutcome {
	o := Outcome(s, e.sel.Select(snap, s))
	o.Flags = Flags(s)
	return o
}
