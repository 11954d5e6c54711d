// Package engine advances world time. One tick is a fixed sequence of
// phases: clock advance, price recalculation, ritual expiry, influence
// decay and tithes, ruling-cult recomputation, the world-event roll, and
// the jail release sweep. A failure on one entity is logged and skipped;
// only a failure to move the clock itself aborts the cycle.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/ledger"
	"github.com/talgya/bazaar/internal/llm"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/registry"
)

// InactivityWindow is how many ticks without an action mark an agent
// inactive for the penalty event.
const InactivityWindow = 3

// Engine executes ticks against the store.
type Engine struct {
	store *persistence.Store
	rng   entropy.Source
	now   func() time.Time

	// OnEvent, when set, receives every appended world event. Used by
	// the live feed; must not block.
	OnEvent func(registry.WorldEvent)

	// Oracle, when set, rewrites event descriptions as market gossip.
	// Nil keeps the plain description.
	Oracle *llm.Client
}

// New wires an engine. rng drives noise and event rolls; now is the
// clock seam for tests.
func New(store *persistence.Store, rng entropy.Source, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, rng: rng, now: now}
}

// RunTick advances the world by exactly one tick and returns the new
// tick number. Phases run in fixed order; each consumes the results of
// the prior phase within the same tick.
func (e *Engine) RunTick(ctx context.Context) (int64, error) {
	started := e.now()

	tick, err := e.advanceClock(ctx)
	if err != nil {
		return 0, fmt.Errorf("advance clock: %w", err)
	}

	repriced := e.recalcPrices(ctx)
	expired := e.expireRituals(ctx)
	e.decayCults(ctx)
	e.recomputeRuling(ctx)
	eventType := e.rollEvent(ctx, tick)
	released := e.releaseJailed(ctx)

	slog.Info("tick complete",
		"tick", tick,
		"repriced", repriced,
		"rituals_expired", expired,
		"jailed_released", released,
		"event", eventType,
		"elapsed", time.Since(started),
	)
	return tick, nil
}

// advanceClock increments the tick counter in its own transaction. This
// is the only phase whose failure is fatal for the cycle.
func (e *Engine) advanceClock(ctx context.Context) (int64, error) {
	var tick int64
	err := e.store.Tx(ctx, func(tx *persistence.Tx) error {
		raw, err := tx.GetState(ctx, registry.KeyTick)
		switch {
		case err == nil:
			tick, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt tick counter %q: %w", raw, err)
			}
		case errors.Is(err, persistence.ErrNotFound):
			tick = 0
		default:
			return err
		}
		tick++
		return tx.SetState(ctx, registry.KeyTick, strconv.FormatInt(tick, 10))
	})
	return tick, err
}

// recalcPrices reprices every commodity independently; one bad row never
// stalls the rest.
func (e *Engine) recalcPrices(ctx context.Context) int {
	commodities, err := e.store.ListCommodities(ctx)
	if err != nil {
		slog.Error("price phase: list commodities", "error", err)
		return 0
	}

	repriced := 0
	for _, c := range commodities {
		next := NextPrice(c, e.rng.Float())
		if err := e.store.UpdateCommodityPrice(ctx, c.Slug, next.String()); err != nil {
			slog.Warn("price phase: skip commodity", "slug", c.Slug, "error", err)
			continue
		}
		repriced++
	}
	return repriced
}

// expireRituals sweeps pending rituals past their deadline into expired.
func (e *Engine) expireRituals(ctx context.Context) int64 {
	n, err := e.store.ExpirePendingBefore(ctx, e.now().Unix())
	if err != nil {
		slog.Error("ritual expiry sweep", "error", err)
		return 0
	}
	return n
}

// decayCults reduces each cult's influence by 1 (floored at 0) and
// collects tithes from members. Each cult runs in its own transaction.
func (e *Engine) decayCults(ctx context.Context) {
	cults, err := e.store.ListCults(ctx)
	if err != nil {
		slog.Error("influence phase: list cults", "error", err)
		return
	}

	for _, c := range cults {
		err := e.store.Tx(ctx, func(tx *persistence.Tx) error {
			cult, err := tx.GetCult(ctx, c.ID)
			if err != nil {
				return err
			}
			if cult.Influence > 0 {
				cult.Influence--
			}
			if cult.TitheRate > 0 {
				if err := collectTithes(ctx, tx, &cult); err != nil {
					return err
				}
			}
			return tx.UpdateCult(ctx, cult)
		})
		if err != nil {
			slog.Warn("influence phase: skip cult", "cult", c.Name, "error", err)
		}
	}
}

// collectTithes moves balance * titheRate (at least 0.01, never more
// than the member holds) from each member into the cult treasury.
func collectTithes(ctx context.Context, tx *persistence.Tx, cult *registry.Cult) error {
	members, err := tx.ListCultMembers(ctx, cult.ID)
	if err != nil {
		return err
	}

	treasury := ledger.Money(cult.Treasury)
	minTithe := ledger.Money("0.01")
	for _, m := range members {
		balance := ledger.Money(m.Balance)
		if !balance.IsPositive() {
			continue
		}
		tithe := balance.MulFloat(cult.TitheRate)
		if tithe.Cmp(minTithe) < 0 {
			tithe = minTithe
		}
		if tithe.Cmp(balance) > 0 {
			tithe = balance
		}
		m.Balance = balance.Sub(tithe).String()
		if err := tx.UpdateAgent(ctx, m); err != nil {
			return fmt.Errorf("tithe from %s: %w", m.ID, err)
		}
		treasury = treasury.Add(tithe)
	}
	cult.Treasury = treasury.String()
	return nil
}

// recomputeRuling snapshots the top-influence cult into world state.
// Ties break toward the first-founded cult.
func (e *Engine) recomputeRuling(ctx context.Context) {
	cults, err := e.store.ListCults(ctx)
	if err != nil {
		slog.Error("ruling phase: list cults", "error", err)
		return
	}
	if len(cults) == 0 {
		return
	}

	top := cults[0]
	for _, c := range cults[1:] {
		if c.Influence > top.Influence {
			top = c
		}
	}

	snapshot, err := json.Marshal(registry.RulingCult{
		ID:        top.ID,
		Name:      top.Name,
		Influence: top.Influence,
	})
	if err != nil {
		slog.Error("ruling phase: marshal snapshot", "error", err)
		return
	}
	if err := e.store.SetState(ctx, registry.KeyRulingCult, string(snapshot)); err != nil {
		slog.Error("ruling phase: write snapshot", "error", err)
	}
}

// releaseJailed clears jail timestamps that have passed.
func (e *Engine) releaseJailed(ctx context.Context) int64 {
	n, err := e.store.ReleaseJailedBefore(ctx, e.now().Unix())
	if err != nil {
		slog.Error("jail release sweep", "error", err)
		return 0
	}
	return n
}
