// Package audit exposes the rerate and refresh operations and the read
// accessors that reporting consumes.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freightaudit/internal/freight"
	"freightaudit/internal/rating"
	"freightaudit/internal/tariff"
)

const defaultTopN = 15

// Repository persists audit runs. CommitResults must replace every prior
// result of the run atomically; on error nothing may change.
type Repository interface {
	LoadShipments(ctx context.Context, runID uuid.UUID) ([]freight.Shipment, error)
	LoadOutcomes(ctx context.Context, runID uuid.UUID) ([]freight.RatingOutcome, error)
	LoadGroups(ctx context.Context, runID uuid.UUID) ([]freight.ConsolidationGroup, error)
	LoadLaneStats(ctx context.Context, runID uuid.UUID) ([]freight.LaneStat, error)
	LoadSummary(ctx context.Context, runID uuid.UUID) (freight.SummaryMetrics, error)
	CommitResults(ctx context.Context, c Commit) error
}

// Notifier tells other instances to drop their tariff snapshot.
type Notifier interface {
	PublishRefresh(ctx context.Context) error
}

// Commit is everything a rerate writes for one run.
type Commit struct {
	RunID     uuid.UUID
	Outcomes  []freight.RatingOutcome
	Groups    []freight.ConsolidationGroup
	LaneStats []freight.LaneStat
	Summary   freight.SummaryMetrics
}

// Result is returned by Rerate.
type Result struct {
	RunID       uuid.UUID                    `json:"audit_run_id"`
	RatedCount  int                          `json:"rerated_shipments"`
	TariffCount int                          `json:"tariff_count"`
	Summary     freight.SummaryMetrics       `json:"summary"`
	Outcomes    []freight.RatingOutcome      `json:"-"`
	Groups      []freight.ConsolidationGroup `json:"-"`
	Took        time.Duration                `json:"-"`
}

type Options struct {
	// TopN caps the consolidation groups kept in the summary.
	TopN     int
	Notifier Notifier
}

type Service struct {
	repo     Repository
	cache    *tariff.Cache
	engine   *rating.Engine
	notifier Notifier
	topN     int
	log      *zap.Logger
}

func NewService(repo Repository, cache *tariff.Cache, engine *rating.Engine, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TopN <= 0 {
		opts.TopN = defaultTopN
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		engine:   engine,
		notifier: opts.Notifier,
		topN:     opts.TopN,
		log:      log,
	}
}

// Rerate recomputes every outcome, consolidation group and summary of the
// run and replaces what was stored before. When tariffIDs is non-empty only
// those tariffs are used. Any error leaves the previous results in place.
func (s *Service) Rerate(ctx context.Context, runID uuid.UUID, tariffIDs []uuid.UUID) (*Result, error) {
	start := time.Now()
	log := s.log.With(zap.String("audit_run_id", runID.String()))

	shipments, err := s.repo.LoadShipments(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load shipments: %w", err)
	}
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		log.Error("tariff snapshot unavailable", zap.Error(err))
		return nil, err
	}
	snap = snap.Restrict(tariffIDs)

	res, err := s.engine.Run(ctx, snap, shipments)
	if err != nil {
		return nil, fmt.Errorf("rate shipments: %w", err)
	}
	c := Commit{
		RunID:     runID,
		Outcomes:  res.Outcomes,
		Groups:    res.Groups,
		LaneStats: LaneStats(shipments, res.Outcomes),
		Summary:   Summarize(shipments, res.Outcomes, res.Groups, s.topN),
	}
	if err := s.repo.CommitResults(ctx, c); err != nil {
		return nil, fmt.Errorf("commit results: %w", err)
	}

	took := time.Since(start)
	log.Info("rerate complete",
		zap.Int("shipments", len(shipments)),
		zap.Int("tariffs", snap.Len()),
		zap.Int("matched", c.Summary.MatchedCount),
		zap.Int("no_lane", c.Summary.NoLaneCount),
		zap.Int("no_tariff", c.Summary.NoTariffCount),
		zap.String("total_opportunity", c.Summary.TotalOpportunity.StringFixed(2)),
		zap.Duration("took", took))
	return &Result{
		RunID:       runID,
		RatedCount:  len(shipments),
		TariffCount: snap.Len(),
		Summary:     c.Summary,
		Outcomes:    res.Outcomes,
		Groups:      res.Groups,
		Took:        took,
	}, nil
}

// RefreshCache drops the tariff snapshot so the next rerate rebuilds it,
// and asks peer instances to do the same.
func (s *Service) RefreshCache(ctx context.Context) error {
	s.cache.Invalidate()
	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.PublishRefresh(ctx); err != nil {
		// The local cache is already invalidated; peers catch up on their
		// next refresh.
		s.log.Warn("tariff refresh broadcast failed", zap.Error(err))
		return fmt.Errorf("broadcast refresh: %w", err)
	}
	return nil
}

// Quote rates one ad-hoc shipment against the current snapshot.
func (s *Service) Quote(ctx context.Context, sh freight.Shipment) (freight.RatingOutcome, error) {
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		return freight.RatingOutcome{}, err
	}
	return s.engine.Quote(snap, sh), nil
}

func (s *Service) LaneStats(ctx context.Context, runID uuid.UUID) ([]freight.LaneStat, error) {
	return s.repo.LoadLaneStats(ctx, runID)
}

func (s *Service) Summary(ctx context.Context, runID uuid.UUID) (freight.SummaryMetrics, error) {
	return s.repo.LoadSummary(ctx, runID)
}

func (s *Service) Consolidation(ctx context.Context, runID uuid.UUID) ([]freight.ConsolidationGroup, error) {
	return s.repo.LoadGroups(ctx, runID)
}

// Exceptions lists the shipments of the run matching kind; see
// FilterExceptions.
func (s *Service) Exceptions(ctx context.Context, runID uuid.UUID, kind string) ([]Exception, error) {
	shipments, err := s.repo.LoadShipments(ctx, runID)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.repo.LoadOutcomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]freight.RatingOutcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.ShipmentID] = o
	}
	// Shipments that were never rated are left out.
	rated := make([]freight.Shipment, 0, len(shipments))
	aligned := make([]freight.RatingOutcome, 0, len(shipments))
	for _, sh := range shipments {
		o, ok := byID[sh.ID]
		if !ok {
			continue
		}
		rated = append(rated, sh)
		aligned = append(aligned, o)
	}
	return FilterExceptions(rated, aligned, kind)
}
