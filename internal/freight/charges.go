package freight

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// CarrierCharge is one entry of a CarrierCharges map.
type CarrierCharge struct {
	Carrier string
	Charge  decimal.Decimal
}

// CarrierCharges is a carrier → charge mapping kept sorted by carrier name,
// so iteration, minimization and JSON encoding are deterministic.
type CarrierCharges []CarrierCharge

// Set records a charge for carrier. When the carrier already has a charge
// the lower one is kept.
func (c *CarrierCharges) Set(carrier string, charge decimal.Decimal) {
	cc := *c
	i := sort.Search(len(cc), func(i int) bool { return cc[i].Carrier >= carrier })
	if i < len(cc) && cc[i].Carrier == carrier {
		if charge.LessThan(cc[i].Charge) {
			cc[i].Charge = charge
		}
		return
	}
	cc = append(cc, CarrierCharge{})
	copy(cc[i+1:], cc[i:])
	cc[i] = CarrierCharge{Carrier: carrier, Charge: charge}
	*c = cc
}

// Get returns the charge recorded for carrier.
func (c CarrierCharges) Get(carrier string) (decimal.Decimal, bool) {
	i := sort.Search(len(c), func(i int) bool { return c[i].Carrier >= carrier })
	if i < len(c) && c[i].Carrier == carrier {
		return c[i].Charge, true
	}
	return decimal.Zero, false
}

// Best returns the cheapest entry. Ties go to the carrier that sorts first.
func (c CarrierCharges) Best() (CarrierCharge, bool) {
	if len(c) == 0 {
		return CarrierCharge{}, false
	}
	best := c[0]
	for _, e := range c[1:] {
		if e.Charge.LessThan(best.Charge) {
			best = e
		}
	}
	return best, true
}

// MarshalJSON encodes the charges as a JSON object with keys in carrier
// order.
func (c CarrierCharges) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Carrier)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.WriteString(e.Charge.StringFixed(2))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the object form written by MarshalJSON.
func (c *CarrierCharges) UnmarshalJSON(b []byte) error {
	var m map[string]decimal.Decimal
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	out := make(CarrierCharges, 0, len(m))
	for k, v := range m {
		out = append(out, CarrierCharge{Carrier: k, Charge: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Carrier < out[j].Carrier })
	*c = out
	return nil
}
