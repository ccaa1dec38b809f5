// Package tariff builds the immutable, validated view of carrier tariffs
// that every rating call reads from.
package tariff

import (
	"sort"

	"github.com/google/uuid"

	"freightaudit/internal/freight"
)

type laneKey struct {
	city     string
	province string
}

// Entry is one validated tariff with its lanes indexed for lookup.
type Entry struct {
	Tariff     freight.Tariff
	byCity     map[laneKey]*freight.TariffLane
	byProvince map[string]*freight.TariffLane
}

// Lane returns the exact city+province lane when one exists, otherwise the
// province-wide lane. A blank province never matches.
func (e *Entry) Lane(city, province string) (*freight.TariffLane, bool) {
	prov := freight.NormalizeKey(province)
	if prov == "" {
		return nil, false
	}
	if c := freight.NormalizeKey(city); c != "" {
		if l, ok := e.byCity[laneKey{city: c, province: prov}]; ok {
			return l, true
		}
	}
	l, ok := e.byProvince[prov]
	return l, ok
}

// Snapshot is a read-only set of tariffs. It is never mutated after Build
// returns; a refresh builds a new one.
type Snapshot struct {
	entries  []*Entry
	byOrigin map[string][]*Entry
}

// Build validates the tariffs and indexes them. Any validation failure
// aborts the build.
func Build(tariffs []freight.Tariff) (*Snapshot, error) {
	s := &Snapshot{byOrigin: make(map[string][]*Entry)}
	for _, src := range tariffs {
		t := clone(src)
		if err := Validate(t); err != nil {
			return nil, err
		}
		e := &Entry{
			Tariff:     t,
			byCity:     make(map[laneKey]*freight.TariffLane),
			byProvince: make(map[string]*freight.TariffLane),
		}
		for i := range t.Lanes {
			l := &t.Lanes[i]
			prov := freight.NormalizeKey(l.DestProvince)
			if city := freight.NormalizeKey(l.DestCity); city != "" {
				e.byCity[laneKey{city: city, province: prov}] = l
			} else {
				e.byProvince[prov] = l
			}
		}
		s.entries = append(s.entries, e)
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		a, b := s.entries[i].Tariff, s.entries[j].Tariff
		if a.Carrier != b.Carrier {
			return a.Carrier < b.Carrier
		}
		return a.ID.String() < b.ID.String()
	})
	for _, e := range s.entries {
		origin := freight.NormalizeKey(e.Tariff.OriginDepot)
		s.byOrigin[origin] = append(s.byOrigin[origin], e)
	}
	return s, nil
}

// ForOrigin returns the tariffs departing from origin, in carrier order.
func (s *Snapshot) ForOrigin(origin string) []*Entry {
	if s == nil {
		return nil
	}
	return s.byOrigin[freight.NormalizeKey(origin)]
}

// Len is the number of tariffs in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Restrict returns a snapshot holding only the listed tariffs. An empty id
// list returns s unchanged.
func (s *Snapshot) Restrict(ids []uuid.UUID) *Snapshot {
	if len(ids) == 0 || s == nil {
		return s
	}
	out := &Snapshot{byOrigin: make(map[string][]*Entry)}
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, e := range s.entries {
		if _, ok := want[e.Tariff.ID]; !ok {
			continue
		}
		out.entries = append(out.entries, e)
		origin := freight.NormalizeKey(e.Tariff.OriginDepot)
		out.byOrigin[origin] = append(out.byOrigin[origin], e)
	}
	return out
}
