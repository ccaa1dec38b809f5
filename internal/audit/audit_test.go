package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"freightaudit/internal/freight"
	"freightaudit/internal/rate"
	"freightaudit/internal/rating"
	"freightaudit/internal/tariff"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(d(s)) }

var tuesday = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

type memRepo struct {
	mu        sync.Mutex
	shipments map[uuid.UUID][]freight.Shipment
	commits   map[uuid.UUID]Commit
	commitErr error
}

func newMemRepo() *memRepo {
	return &memRepo{shipments: map[uuid.UUID][]freight.Shipment{}, commits: map[uuid.UUID]Commit{}}
}

func (m *memRepo) LoadShipments(_ context.Context, runID uuid.UUID) ([]freight.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[runID]
	if !ok {
		return nil, freight.ErrRunNotFound
	}
	return s, nil
}

func (m *memRepo) committed(runID uuid.UUID) (Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shipments[runID]; !ok {
		return Commit{}, freight.ErrRunNotFound
	}
	return m.commits[runID], nil
}

func (m *memRepo) LoadOutcomes(_ context.Context, runID uuid.UUID) ([]freight.RatingOutcome, error) {
	c, err := m.committed(runID)
	return c.Outcomes, err
}

func (m *memRepo) LoadGroups(_ context.Context, runID uuid.UUID) ([]freight.ConsolidationGroup, error) {
	c, err := m.committed(runID)
	return c.Groups, err
}

func (m *memRepo) LoadLaneStats(_ context.Context, runID uuid.UUID) ([]freight.LaneStat, error) {
	c, err := m.committed(runID)
	return c.LaneStats, err
}

func (m *memRepo) LoadSummary(_ context.Context, runID uuid.UUID) (freight.SummaryMetrics, error) {
	c, err := m.committed(runID)
	return c.Summary, err
}

func (m *memRepo) CommitResults(_ context.Context, c Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits[c.RunID] = c
	return nil
}

type staticSource struct {
	mu      sync.Mutex
	tariffs []freight.Tariff
}

func (s *staticSource) LoadTariffs(context.Context) ([]freight.Tariff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tariffs, nil
}

func (s *staticSource) set(t ...freight.Tariff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tariffs = t
}

type countingNotifier struct{ n int }

func (c *countingNotifier) PublishRefresh(context.Context) error {
	c.n++
	return nil
}

func flatCWT(carrier, rate, min string) freight.Tariff {
	return freight.Tariff{
		ID:          uuid.New(),
		Carrier:     carrier,
		OriginDepot: "SCARB",
		Type:        freight.TariffCWT,
		Lanes: []freight.TariffLane{{
			DestProvince: "ON",
			MinCharge:    d(min),
			Breaks:       []freight.WeightBreak{{From: d("0"), RatePerCWT: d(rate)}},
		}},
	}
}

func ship(city, prov, weight, actual string) freight.Shipment {
	return freight.Shipment{
		ID:           uuid.New(),
		OriginDepot:  "SCARB",
		DestCity:     city,
		DestProvince: prov,
		DestRegion:   "EAST",
		ScaleWeight:  nd(weight),
		Pallets:      nd("1"),
		ActualCharge: nd(actual),
		ShipDate:     tuesday,
	}
}

func newService(repo Repository, src tariff.Source, n Notifier) *Service {
	engine := rating.NewEngine(&rate.Calculator{}, 4, nil)
	return NewService(repo, tariff.NewCache(src, nil), engine, nil, Options{Notifier: n})
}

func TestRerate_CommitsOutcomesAndSummary(t *testing.T) {
	repo := newMemRepo()
	runID := uuid.New()
	repo.shipments[runID] = []freight.Shipment{
		ship("Ottawa", "ON", "400", "60"),
		ship("Ottawa", "ON", "400", "60"),
		ship("Ottawa", "ON", "300", "60"),
		ship("Calgary", "AB", "300", "80"),
	}
	svc := newService(repo, &staticSource{tariffs: []freight.Tariff{flatCWT("A", "10", "45"), flatCWT("B", "12", "40")}}, nil)

	res, err := svc.Rerate(context.Background(), runID, nil)
	if err != nil {
		t.Fatalf("Rerate: %v", err)
	}
	if res.RatedCount != 4 || res.TariffCount != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	sum, err := svc.Summary(context.Background(), runID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.MatchedCount != 3 || sum.NoLaneCount != 1 {
		t.Fatalf("counts: %+v", sum)
	}
	// 400 lb: A=45, B=48 → 45; 300 lb: A=45, B=40 → 40. Savings vs $60 each.
	if !sum.CarrierBestTotal.Equal(d("130")) || !sum.CarrierSavingsTotal.Equal(d("50")) {
		t.Fatalf("carrier totals: best %s savings %s", sum.CarrierBestTotal, sum.CarrierSavingsTotal)
	}
	// Combined 1100 lb: A=110, B=132 → 110 vs 130 baseline.
	if sum.ConsolidationGroupCount != 1 || !sum.ConsolidationSavingsTotal.Equal(d("20")) {
		t.Fatalf("consolidation: %+v", sum)
	}
	if !sum.TotalOpportunity.Equal(d("70")) || !sum.TotalSpend.Equal(d("260")) {
		t.Fatalf("opportunity %s spend %s", sum.TotalOpportunity, sum.TotalSpend)
	}
	if !sum.SavingsPct.Equal(d("26.92")) {
		t.Fatalf("savings pct = %s", sum.SavingsPct)
	}
	if len(sum.TopConsolidation) != 1 || len(sum.OriginBreakdown) != 1 || len(sum.RegionBreakdown) != 1 {
		t.Fatalf("breakdowns: %+v", sum)
	}

	lanes, _ := svc.LaneStats(context.Background(), runID)
	if len(lanes) != 2 || lanes[0].DestProvince != "AB" || lanes[1].ShipmentCount != 3 {
		t.Fatalf("lane stats: %+v", lanes)
	}
	if lanes[0].TheoreticalBestSpend.Valid {
		t.Fatalf("lane without a match has no theoretical best")
	}
	if !lanes[1].TheoreticalSavings.Decimal.Equal(d("50")) || !lanes[1].SavingsPct.Decimal.Equal(d("27.78")) {
		t.Fatalf("ottawa lane: %+v", lanes[1])
	}

	groups, _ := svc.Consolidation(context.Background(), runID)
	if len(groups) != 1 || !groups[0].IncrementalSavings.Equal(d("20")) {
		t.Fatalf("groups: %+v", groups)
	}
}

func TestRerate_InvalidTariffKeepsPriorResults(t *testing.T) {
	repo := newMemRepo()
	runID := uuid.New()
	repo.shipments[runID] = []freight.Shipment{ship("Ottawa", "ON", "400", "60")}
	src := &staticSource{tariffs: []freight.Tariff{flatCWT("A", "10", "45")}}
	svc := newService(repo, src, nil)

	if _, err := svc.Rerate(context.Background(), runID, nil); err != nil {
		t.Fatalf("first Rerate: %v", err)
	}
	before, _ := svc.Summary(context.Background(), runID)

	broken := flatCWT("B", "10", "45")
	broken.Lanes[0].Breaks = nil
	src.set(flatCWT("A", "5", "0"), broken)
	if err := svc.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	_, err := svc.Rerate(context.Background(), runID, nil)
	if !errors.Is(err, freight.ErrInvalidTariff) {
		t.Fatalf("expected ErrInvalidTariff, got %v", err)
	}
	after, _ := svc.Summary(context.Background(), runID)
	if !after.CarrierBestTotal.Equal(before.CarrierBestTotal) {
		t.Fatalf("prior results changed: %s -> %s", before.CarrierBestTotal, after.CarrierBestTotal)
	}
}

func TestRerate_CommitFailure(t *testing.T) {
	repo := newMemRepo()
	runID := uuid.New()
	repo.shipments[runID] = []freight.Shipment{ship("Ottawa", "ON", "400", "60")}
	repo.commitErr = errors.New("tx aborted")
	svc := newService(repo, &staticSource{}, nil)
	if _, err := svc.Rerate(context.Background(), runID, nil); err == nil {
		t.Fatalf("expected commit error")
	}
	if _, ok := repo.commits[runID]; ok {
		t.Fatalf("nothing should be committed")
	}
}

func TestRerate_ZeroTariffsDegradesToNoLane(t *testing.T) {
	repo := newMemRepo()
	runID := uuid.New()
	repo.shipments[runID] = []freight.Shipment{ship("Ottawa", "ON", "400", "60"), ship("Kingston", "ON", "400", "60")}
	svc := newService(repo, &staticSource{}, nil)
	res, err := svc.Rerate(context.Background(), runID, nil)
	if err != nil {
		t.Fatalf("Rerate: %v", err)
	}
	if res.Summary.NoLaneCount != 2 || !res.Summary.TotalOpportunity.IsZero() {
		t.Fatalf("summary: %+v", res.Summary)
	}
}

func TestRerate_UnknownRun(t *testing.T) {
	svc := newService(newMemRepo(), &staticSource{}, nil)
	if _, err := svc.Rerate(context.Background(), uuid.New(), nil); !errors.Is(err, freight.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRerate_RestrictedToTariffIDs(t *testing.T) {
	repo := newMemRepo()
	runID := uuid.New()
	repo.shipments[runID] = []freight.Shipment{ship("Ottawa", "ON", "1000", "200")}
	cheap, dear := flatCWT("Cheap", "5", "0"), flatCWT("Dear", "15", "0")
	svc := newService(repo, &staticSource{tariffs: []freight.Tariff{cheap, dear}}, nil)
	res, err := svc.Rerate(context.Background(), runID, []uuid.UUID{dear.ID})
	if err != nil {
		t.Fatalf("Rerate: %v", err)
	}
	if res.TariffCount != 1 || res.Outcomes[0].BestCarrier != "Dear" {
		t.Fatalf("unexpected outcome %+v", res.Outcomes[0])
	}
}

func TestRefreshCache_PicksUpNewTariffsAndNotifies(t *testing.T) {
	repo := newMemRepo()
	runID := uuid.New()
	repo.shipments[runID] = []freight.Shipment{ship("Ottawa", "ON", "1000", "200")}
	src := &staticSource{tariffs: []freight.Tariff{flatCWT("A", "10", "0")}}
	n := &countingNotifier{}
	svc := newService(repo, src, n)

	first, _ := svc.Rerate(context.Background(), runID, nil)
	src.set(flatCWT("A", "8", "0"))
	stale, _ := svc.Rerate(context.Background(), runID, nil)
	if !stale.Summary.CarrierBestTotal.Equal(first.Summary.CarrierBestTotal) {
		t.Fatalf("snapshot must not change without a refresh")
	}
	if err := svc.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	fresh, _ := svc.Rerate(context.Background(), runID, nil)
	if !fresh.Summary.CarrierBestTotal.Equal(d("80")) || n.n != 1 {
		t.Fatalf("best %s, notifications %d", fresh.Summary.CarrierBestTotal, n.n)
	}
}

func TestExceptions(t *testing.T) {
	repo := newMemRepo()
	runID := uuid.New()
	zero := ship("Ottawa", "ON", "400", "0")
	heavy := ship("Ottawa", "ON", "100", "90")
	heavy.DimWeight = nd("300")
	lost := ship("Calgary", "AB", "100", "50")
	repo.shipments[runID] = []freight.Shipment{ship("Ottawa", "ON", "400", "60"), zero, heavy, lost}
	svc := newService(repo, &staticSource{tariffs: []freight.Tariff{flatCWT("A", "10", "45")}}, nil)
	if _, err := svc.Rerate(context.Background(), runID, nil); err != nil {
		t.Fatalf("Rerate: %v", err)
	}

	for kind, want := range map[string]uuid.UUID{
		"zero_charge": zero.ID,
		"DIMHEAVY":    heavy.ID,
		"no_lane":     lost.ID,
		"unmatched":   lost.ID,
	} {
		got, err := svc.Exceptions(context.Background(), runID, kind)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if len(got) != 1 || got[0].ShipmentID != want {
			t.Fatalf("%s: got %+v", kind, got)
		}
	}
	all, _ := svc.Exceptions(context.Background(), runID, "")
	if len(all) != 3 {
		t.Fatalf("all: got %d exceptions", len(all))
	}
	outliers, _ := svc.Exceptions(context.Background(), runID, "outliers")
	if len(outliers) != 4 || outliers[0].ShipmentID != heavy.ID {
		t.Fatalf("outliers: %+v", outliers)
	}
	var unknown UnknownExceptionError
	if _, err := svc.Exceptions(context.Background(), runID, "late"); !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownExceptionError, got %v", err)
	}
}

func TestSummarize_TopN(t *testing.T) {
	groups := make([]freight.ConsolidationGroup, 20)
	for i := range groups {
		groups[i] = freight.ConsolidationGroup{IncrementalSavings: decimal.NewFromInt(int64(20 - i)), Qualified: true}
	}
	m := Summarize(nil, nil, groups, 15)
	if len(m.TopConsolidation) != 15 || m.ConsolidationGroupCount != 20 || !m.ConsolidationSavingsTotal.Equal(d("210")) {
		t.Fatalf("summary: top %d count %d total %s", len(m.TopConsolidation), m.ConsolidationGroupCount, m.ConsolidationSavingsTotal)
	}
	if m.AvgCostPerShipment.Valid || m.AvgCostPerLb.Valid {
		t.Fatalf("averages over no shipments must be null")
	}
}
