// Price recalculation — mean reversion plus noise minus perishable decay.
package engine

import (
	"github.com/talgya/bazaar/internal/ledger"
	"github.com/talgya/bazaar/internal/registry"
)

// meanReversionRate pulls 2% of the gap back toward base price each tick.
const meanReversionRate = 0.02

// NextPrice computes one tick of price movement for a commodity given a
// uniform draw u in [0, 1). The result never drops below 10% of base.
//
//	new = current + (base − current) * 0.02 + (u − 0.5) * volatility * 0.1 * base − decay
func NextPrice(c registry.Commodity, u float64) ledger.Amount {
	current := ledger.Money(c.CurrentPrice)
	base := ledger.Money(c.BasePrice)

	meanReversion := base.Sub(current).MulFloat(meanReversionRate)
	noise := ledger.FromFloat((u-0.5)*c.Volatility*0.1*base.Float64(), ledger.MoneyPlaces)

	decay := ledger.Zero(ledger.MoneyPlaces)
	if c.Perishable {
		decay = current.MulFloat(c.DecayRate)
	}

	next := current.Add(meanReversion).Add(noise).Sub(decay)
	return c.ClampPrice(next)
}

// InvertPrice reflects a commodity's current price around its base:
// trends reverse. Floored like every other price write.
func InvertPrice(c registry.Commodity) ledger.Amount {
	current := ledger.Money(c.CurrentPrice)
	base := ledger.Money(c.BasePrice)
	return c.ClampPrice(base.Sub(current.Sub(base)))
}
