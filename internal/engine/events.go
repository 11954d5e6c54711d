// World-event roll — an ordered table of independent Bernoulli trials,
// first success wins, at most one event per tick.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/ledger"
	"github.com/talgya/bazaar/internal/llm"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/registry"
)

// eventDef pairs a trigger probability with an effect. The table order
// is load-bearing: trials run top to bottom and stop at the first hit,
// so a tick fires zero or one event, never more.
type eventDef struct {
	Type        string
	Probability float64
	Run         func(e *Engine, ctx context.Context, tick int64) (string, map[string]any, error)
}

func eventTable() []eventDef {
	return []eventDef{
		{"inventory-reshuffle", 0.08, (*Engine).inventoryReshuffle},
		{"price-inversion", 0.06, (*Engine).priceInversion},
		{"flat-tax", 0.10, (*Engine).flatTax},
		{"price-spike", 0.10, (*Engine).priceSpike},
		{"decay-shock", 0.08, (*Engine).decayShock},
		{"windfall", 0.08, (*Engine).windfall},
		{"inactivity-penalty", 0.06, (*Engine).inactivityPenalty},
	}
}

// rollEvent runs the trials and appends at most one world event record.
// Returns the fired event type, or "" when every trial failed.
func (e *Engine) rollEvent(ctx context.Context, tick int64) string {
	for _, def := range eventTable() {
		if e.rng.Float() >= def.Probability {
			continue
		}

		desc, effects, err := def.Run(e, ctx, tick)
		if err != nil {
			slog.Error("world event failed", "type", def.Type, "error", err)
			return ""
		}
		// Best-effort gossip rewrite; the effect above is already applied.
		desc = llm.EventFlavor(ctx, e.Oracle, def.Type, desc)

		payload, err := json.Marshal(effects)
		if err != nil {
			payload = []byte("{}")
		}
		ev := registry.WorldEvent{
			Type:        def.Type,
			Description: desc,
			Effects:     string(payload),
			Tick:        tick,
			CreatedAt:   e.now().Unix(),
		}
		if err := e.store.AppendWorldEvent(ctx, ev); err != nil {
			slog.Error("append world event", "type", def.Type, "error", err)
			return def.Type
		}
		slog.Info("world event", "type", def.Type, "tick", tick, "description", desc)
		if e.OnEvent != nil {
			e.OnEvent(ev)
		}
		return def.Type
	}
	return ""
}

// inventoryReshuffle picks up to 3 random agents and swaps one randomly
// chosen inventory entry between each adjacent pair. Pairs lacking stock
// are skipped silently.
func (e *Engine) inventoryReshuffle(ctx context.Context, tick int64) (string, map[string]any, error) {
	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return "", nil, err
	}

	// Fisher-Yates off the injected source, then take up to 3.
	for i := len(agents) - 1; i > 0; i-- {
		j := entropy.Intn(e.rng, i+1)
		agents[i], agents[j] = agents[j], agents[i]
	}
	if len(agents) > 3 {
		agents = agents[:3]
	}

	swapped := 0
	var pairs []map[string]string
	err = e.store.Tx(ctx, func(tx *persistence.Tx) error {
		for i := 0; i+1 < len(agents); i++ {
			a, b := agents[i], agents[i+1]
			invA, err := tx.ListAgentInventory(ctx, a.ID)
			if err != nil {
				return err
			}
			invB, err := tx.ListAgentInventory(ctx, b.ID)
			if err != nil {
				return err
			}
			if len(invA) == 0 || len(invB) == 0 {
				continue // pair lacks stock
			}

			ea := invA[entropy.Intn(e.rng, len(invA))]
			eb := invB[entropy.Intn(e.rng, len(invB))]
			qa := ledger.Quantity(ea.Quantity)
			qb := ledger.Quantity(eb.Quantity)

			// Entry from a crosses to b and vice versa, whole quantities.
			if _, err := tx.AddInventory(ctx, a.ID, ea.CommoditySlug, ea.Counterfeit, qa.MulFloat(-1)); err != nil {
				return err
			}
			if _, err := tx.AddInventory(ctx, b.ID, ea.CommoditySlug, ea.Counterfeit, qa); err != nil {
				return err
			}
			if _, err := tx.AddInventory(ctx, b.ID, eb.CommoditySlug, eb.Counterfeit, qb.MulFloat(-1)); err != nil {
				return err
			}
			if _, err := tx.AddInventory(ctx, a.ID, eb.CommoditySlug, eb.Counterfeit, qb); err != nil {
				return err
			}
			swapped++
			pairs = append(pairs, map[string]string{
				"from": a.ID, "gave": ea.CommoditySlug,
				"to": b.ID, "got": eb.CommoditySlug,
			})
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	if swapped == 0 {
		return "A great confusion sweeps the stalls, but nothing changes hands.",
			map[string]any{"result": "not enough agents/inventory"}, nil
	}
	return fmt.Sprintf("A great confusion sweeps the stalls: %d swaps among strangers.", swapped),
		map[string]any{"swaps": pairs}, nil
}

// priceInversion reflects every commodity's price around its base.
func (e *Engine) priceInversion(ctx context.Context, tick int64) (string, map[string]any, error) {
	commodities, err := e.store.ListCommodities(ctx)
	if err != nil {
		return "", nil, err
	}

	changed := map[string]any{}
	for _, c := range commodities {
		next := InvertPrice(c)
		if err := e.store.UpdateCommodityPrice(ctx, c.Slug, next.String()); err != nil {
			slog.Warn("price inversion: skip commodity", "slug", c.Slug, "error", err)
			continue
		}
		changed[c.Slug] = map[string]string{"from": ledger.Format(c.CurrentPrice, ledger.MoneyPlaces), "to": next.String()}
	}
	return "Every trend in the Bazaar reverses at once.", map[string]any{"inverted": changed}, nil
}

// flatTax seizes a random 10-30% of every agent's holding of one random
// commodity. Entries that hit zero are deleted.
func (e *Engine) flatTax(ctx context.Context, tick int64) (string, map[string]any, error) {
	c, err := e.randomCommodity(ctx)
	if err != nil {
		return "", nil, err
	}
	rate := entropy.Between(e.rng, 0.10, 0.30)

	holders, err := e.store.ListHolders(ctx, c.Slug)
	if err != nil {
		return "", nil, err
	}

	seized := ledger.Zero(ledger.QuantityPlaces)
	taxed := 0
	err = e.store.Tx(ctx, func(tx *persistence.Tx) error {
		for _, h := range holders {
			cut := ledger.Quantity(h.Quantity).MulFloat(rate)
			if !cut.IsPositive() {
				continue
			}
			if _, err := tx.AddInventory(ctx, h.AgentID, h.CommoditySlug, h.Counterfeit, cut.MulFloat(-1)); err != nil {
				return fmt.Errorf("seize from %s: %w", h.AgentID, err)
			}
			seized = seized.Add(cut)
			taxed++
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	return fmt.Sprintf("The palace levies a sudden tax on %s.", c.DisplayName), map[string]any{
		"commodity": c.Slug,
		"rate":      fmt.Sprintf("%.2f", rate),
		"seized":    seized.String(),
		"holders":   taxed,
	}, nil
}

// priceSpike adds a random 50-150% of one commodity's current price to
// itself.
func (e *Engine) priceSpike(ctx context.Context, tick int64) (string, map[string]any, error) {
	c, err := e.randomCommodity(ctx)
	if err != nil {
		return "", nil, err
	}
	mult := entropy.Between(e.rng, 0.5, 1.5)
	old := ledger.Money(c.CurrentPrice)
	next := old.Add(old.MulFloat(mult))
	if err := e.store.UpdateCommodityPrice(ctx, c.Slug, next.String()); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Panic buying sends %s soaring.", c.DisplayName), map[string]any{
		"commodity": c.Slug,
		"old_price": old.String(),
		"new_price": next.String(),
	}, nil
}

// decayShock knocks 30% off every perishable commodity immediately, on
// top of the normal per-tick decay already applied this cycle.
func (e *Engine) decayShock(ctx context.Context, tick int64) (string, map[string]any, error) {
	commodities, err := e.store.ListCommodities(ctx)
	if err != nil {
		return "", nil, err
	}

	hit := map[string]any{}
	for _, c := range commodities {
		if !c.Perishable {
			continue
		}
		next := c.ClampPrice(ledger.Money(c.CurrentPrice).MulFloat(0.7))
		if err := e.store.UpdateCommodityPrice(ctx, c.Slug, next.String()); err != nil {
			slog.Warn("decay shock: skip commodity", "slug", c.Slug, "error", err)
			continue
		}
		hit[c.Slug] = next.String()
	}
	return "A heat wave rolls through: everything perishable spoils faster.",
		map[string]any{"shocked": hit}, nil
}

// windfall grants one random agent a 50-200 crown bonus.
func (e *Engine) windfall(ctx context.Context, tick int64) (string, map[string]any, error) {
	agents, err := e.store.ListAgents(ctx)
	if err != nil {
		return "", nil, err
	}
	if len(agents) == 0 {
		return "A forgotten purse lies unclaimed in the dust.",
			map[string]any{"result": "no agents"}, nil
	}

	a := agents[entropy.Intn(e.rng, len(agents))]
	bonus := ledger.FromFloat(entropy.Between(e.rng, 50, 200), ledger.MoneyPlaces)
	a.Balance = ledger.Money(a.Balance).Add(bonus).String()
	if err := e.store.UpdateAgent(ctx, a); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s finds a stranger's purse, heavy with coin.", a.Name), map[string]any{
		"agent": a.ID,
		"bonus": bonus.String(),
	}, nil
}

// inactivityPenalty fines every agent idle for the last 3 ticks
// min(10% of balance, 20 crowns).
func (e *Engine) inactivityPenalty(ctx context.Context, tick int64) (string, map[string]any, error) {
	idle, err := e.store.ListInactiveAgents(ctx, tick-InactivityWindow)
	if err != nil {
		return "", nil, err
	}

	limit := ledger.Money("20.00")
	fined := map[string]any{}
	for _, a := range idle {
		balance := ledger.Money(a.Balance)
		if !balance.IsPositive() {
			continue
		}
		penalty := balance.MulFloat(0.1)
		if penalty.Cmp(limit) > 0 {
			penalty = limit
		}
		a.Balance = balance.Sub(penalty).String()
		if err := e.store.UpdateAgent(ctx, a); err != nil {
			slog.Warn("inactivity penalty: skip agent", "agent", a.ID, "error", err)
			continue
		}
		fined[a.ID] = penalty.String()
	}
	return "Idle stalls pay the market wardens their due.",
		map[string]any{"fined": fined}, nil
}

// randomCommodity picks one commodity uniformly via the injected source.
func (e *Engine) randomCommodity(ctx context.Context) (registry.Commodity, error) {
	commodities, err := e.store.ListCommodities(ctx)
	if err != nil {
		return registry.Commodity{}, err
	}
	if len(commodities) == 0 {
		return registry.Commodity{}, fmt.Errorf("no commodities")
	}
	return commodities[entropy.Intn(e.rng, len(commodities))], nil
}
