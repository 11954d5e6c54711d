// Package registry defines the canonical world tables: commodities,
// locations, agents, inventory, and the generic world-state store.
package registry

import "github.com/talgya/bazaar/internal/ledger"

// Commodity is a tradeable good. CurrentPrice is recomputed every tick;
// Supply moves with trades.
type Commodity struct {
	Slug         string  `db:"slug" json:"slug"`
	DisplayName  string  `db:"display_name" json:"display_name"`
	BasePrice    string  `db:"base_price" json:"base_price"`
	CurrentPrice string  `db:"current_price" json:"current_price"`
	Supply       int64   `db:"supply" json:"supply"`
	Volatility   float64 `db:"volatility" json:"volatility"`
	Perishable   bool    `db:"perishable" json:"perishable"`
	DecayRate    float64 `db:"decay_rate" json:"decay_rate"`
}

// PriceFloor returns the lowest price a commodity may reach: 10% of base.
// Commodities never go to zero value.
func (c Commodity) PriceFloor() ledger.Amount {
	return ledger.Money(c.BasePrice).MulFloat(0.1)
}

// ClampPrice floors p at the commodity's price floor.
func (c Commodity) ClampPrice(p ledger.Amount) ledger.Amount {
	if floor := c.PriceFloor(); p.Cmp(floor) < 0 {
		return floor
	}
	return p
}
