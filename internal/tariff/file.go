package tariff

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"freightaudit/internal/freight"
)

// fileDoc is the on-disk layout of a tariff definition file:
//
//	tariffs:
//	  - carrier: Rosedale
//	    origin: SCARB
//	    type: cwt
//	    lanes:
//	      - city: Ottawa
//	        province: ON
//	        min_charge: "45.00"
//	        breaks:
//	          - {from: 0, to: 500, rate: "8.00"}
//	          - {from: 500, rate: "7.10"}
type fileDoc struct {
	Tariffs []fileTariff `yaml:"tariffs"`
}

type fileTariff struct {
	ID            string     `yaml:"id"`
	Carrier       string     `yaml:"carrier"`
	Origin        string     `yaml:"origin"`
	Type          string     `yaml:"type"`
	EffectiveFrom string     `yaml:"effective_from"`
	EffectiveTo   string     `yaml:"effective_to"`
	Lanes         []fileLane `yaml:"lanes"`
}

type fileLane struct {
	City      string            `yaml:"city"`
	Province  string            `yaml:"province"`
	MinCharge string            `yaml:"min_charge"`
	Breaks    []fileBreak       `yaml:"breaks"`
	Spots     map[string]string `yaml:"spots"`
}

type fileBreak struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Rate string `yaml:"rate"`
}

// FileSource reads tariffs from a YAML definition file on every load, so a
// refresh picks up edits.
type FileSource struct {
	Path string
}

func (f FileSource) LoadTariffs(_ context.Context) ([]freight.Tariff, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(b)
}

// ParseYAML decodes tariff definitions. It only checks that values parse;
// coverage rules are enforced by Build.
func ParseYAML(b []byte) ([]freight.Tariff, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode tariff yaml: %w", err)
	}
	out := make([]freight.Tariff, 0, len(doc.Tariffs))
	for i, ft := range doc.Tariffs {
		t, err := ft.toDomain()
		if err != nil {
			return nil, fmt.Errorf("tariff %d (%s/%s): %w", i, ft.Carrier, ft.Origin, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (ft fileTariff) toDomain() (freight.Tariff, error) {
	typ, ok := freight.ParseTariffType(ft.Type)
	if !ok {
		return freight.Tariff{}, fmt.Errorf("unknown tariff type %q", ft.Type)
	}
	t := freight.Tariff{
		Carrier:     ft.Carrier,
		OriginDepot: ft.Origin,
		Type:        typ,
	}
	if ft.ID != "" {
		id, err := uuid.Parse(ft.ID)
		if err != nil {
			return t, fmt.Errorf("id: %w", err)
		}
		t.ID = id
	} else {
		// Stable ids keep file-backed runs reproducible across reloads.
		t.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(ft.Carrier+"|"+ft.Origin+"|"+ft.Type))
	}
	var err error
	if t.EffectiveFrom, err = parseDate(ft.EffectiveFrom); err != nil {
		return t, fmt.Errorf("effective_from: %w", err)
	}
	if t.EffectiveTo, err = parseDate(ft.EffectiveTo); err != nil {
		return t, fmt.Errorf("effective_to: %w", err)
	}

	for _, fl := range ft.Lanes {
		l := freight.TariffLane{DestCity: fl.City, DestProvince: fl.Province}
		if fl.MinCharge != "" {
			if l.MinCharge, err = decimal.NewFromString(fl.MinCharge); err != nil {
				return t, fmt.Errorf("lane %s/%s min_charge: %w", fl.City, fl.Province, err)
			}
		}
		for _, fb := range fl.Breaks {
			b, err := fb.toDomain()
			if err != nil {
				return t, fmt.Errorf("lane %s/%s: %w", fl.City, fl.Province, err)
			}
			l.Breaks = append(l.Breaks, b)
		}
		if len(fl.Spots) > 0 {
			l.SpotCharges = make(map[int]decimal.Decimal, len(fl.Spots))
			for k, v := range fl.Spots {
				n, err := strconv.Atoi(k)
				if err != nil {
					return t, fmt.Errorf("lane %s/%s spot count %q: %w", fl.City, fl.Province, k, err)
				}
				charge, err := decimal.NewFromString(v)
				if err != nil {
					return t, fmt.Errorf("lane %s/%s spot %d charge: %w", fl.City, fl.Province, n, err)
				}
				l.SpotCharges[n] = charge
			}
		}
		t.Lanes = append(t.Lanes, l)
	}
	return t, nil
}

func (fb fileBreak) toDomain() (freight.WeightBreak, error) {
	var b freight.WeightBreak
	var err error
	if fb.From != "" {
		if b.From, err = decimal.NewFromString(fb.From); err != nil {
			return b, fmt.Errorf("break from: %w", err)
		}
	}
	if fb.To != "" {
		to, err := decimal.NewFromString(fb.To)
		if err != nil {
			return b, fmt.Errorf("break to: %w", err)
		}
		b.To = &to
	}
	if b.RatePerCWT, err = decimal.NewFromString(fb.Rate); err != nil {
		return b, fmt.Errorf("break rate: %w", err)
	}
	return b, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
