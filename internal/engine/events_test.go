package engine

import (
	"context"
	"testing"

	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/ledger"
	"github.com/talgya/bazaar/internal/registry"
)

// The trial order is inventory-reshuffle, price-inversion, flat-tax,
// price-spike, decay-shock, windfall, inactivity-penalty. A draw of
// `quiet` misses any trial; `hit` lands any of them.
const hit = 0.01

func missesThen(n int, rest ...float64) []float64 {
	vals := make([]float64, 0, n+len(rest))
	for i := 0; i < n; i++ {
		vals = append(vals, quiet)
	}
	return append(vals, rest...)
}

func TestRollEventNoFire(t *testing.T) {
	s := newTestStore(t)
	e := New(s, &entropy.Fixed{Values: []float64{quiet}}, fixedNow(1000))
	ctx := context.Background()

	if got := e.rollEvent(ctx, 1); got != "" {
		t.Fatalf("event fired with losing draws: %q", got)
	}
	n, _ := s.CountEventsAtTick(ctx, 1)
	if n != 0 {
		t.Fatalf("events logged: %d, want 0", n)
	}
}

func TestRollEventFirstHitWins(t *testing.T) {
	s := newTestStore(t)
	// A draw that would win every trial still fires only the first one.
	e := New(s, &entropy.Fixed{Values: []float64{hit}}, fixedNow(1000))
	ctx := context.Background()

	if got := e.rollEvent(ctx, 1); got != "inventory-reshuffle" {
		t.Fatalf("fired %q, want inventory-reshuffle", got)
	}
	n, _ := s.CountEventsAtTick(ctx, 1)
	if n != 1 {
		t.Fatalf("events logged: %d, want exactly 1", n)
	}
}

func TestRollEventKeepsPlainDescriptionWithoutOracle(t *testing.T) {
	s := newTestStore(t)
	// No oracle configured: the gossip rewrite must hand back the canned
	// description unchanged on its way into the log.
	e := New(s, &entropy.Fixed{Values: []float64{hit}}, fixedNow(1000))
	ctx := context.Background()

	if got := e.rollEvent(ctx, 1); got != "inventory-reshuffle" {
		t.Fatalf("fired %q", got)
	}
	events, _ := s.ListRecentEvents(ctx, 1)
	if len(events) != 1 {
		t.Fatalf("events logged: %d", len(events))
	}
	want := "A great confusion sweeps the stalls, but nothing changes hands."
	if events[0].Description != want {
		t.Fatalf("description = %q, want %q", events[0].Description, want)
	}
}

func TestInventoryReshuffleWithoutStock(t *testing.T) {
	s := newTestStore(t)
	e := New(s, &entropy.Fixed{Values: []float64{hit}}, fixedNow(1000))
	ctx := context.Background()

	// One agent, no inventory: the event fires but nothing changes hands.
	if err := s.InsertAgent(ctx, registry.Agent{ID: "a1", Name: "Solo", Location: "docks", Balance: "10.00", CreatedAt: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if got := e.rollEvent(ctx, 1); got != "inventory-reshuffle" {
		t.Fatalf("fired %q", got)
	}
	events, _ := s.ListRecentEvents(ctx, 1)
	if len(events) != 1 || events[0].Effects != `{"result":"not enough agents/inventory"}` {
		t.Fatalf("effects payload: %+v", events)
	}
}

func TestInventoryReshuffleSwapsWholeEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, a := range []registry.Agent{
		{ID: "a1", Name: "One", Location: "docks", Balance: "0.00", CreatedAt: 1},
		{ID: "a2", Name: "Two", Location: "docks", Balance: "0.00", CreatedAt: 2},
	} {
		if err := s.InsertAgent(ctx, a); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := s.AddInventory(ctx, "a1", "silk", false, ledger.Quantity("3.0000")); err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	if _, err := s.AddInventory(ctx, "a2", "spice", false, ledger.Quantity("5.0000")); err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	// Draws: trial hit, one shuffle swap, two entry picks (single-entry
	// inventories, so any value lands on the only row).
	e := New(s, &entropy.Fixed{Values: []float64{hit, 0.0, 0.0, 0.0}}, fixedNow(1000))
	if got := e.rollEvent(ctx, 1); got != "inventory-reshuffle" {
		t.Fatalf("fired %q", got)
	}

	// Whole entries cross over, whatever the shuffle order was.
	invA, _ := s.ListAgentInventory(ctx, "a1")
	invB, _ := s.ListAgentInventory(ctx, "a2")
	if len(invA) != 1 || len(invB) != 1 {
		t.Fatalf("inventory rows after swap: a1=%d a2=%d", len(invA), len(invB))
	}
	holdings := map[string]string{
		invA[0].CommoditySlug: invA[0].Quantity,
		invB[0].CommoditySlug: invB[0].Quantity,
	}
	if holdings["silk"] != "3.0000" || holdings["spice"] != "5.0000" {
		t.Fatalf("quantities mangled by swap: %v", holdings)
	}
	if invA[0].CommoditySlug == "silk" {
		t.Fatalf("swap did not move entries")
	}
}

func TestPriceInversionEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertCommodity(ctx, registry.Commodity{
		Slug: "silk", DisplayName: "Silk", BasePrice: "10.00", CurrentPrice: "14.00", Volatility: 1,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	e := New(s, &entropy.Fixed{Values: missesThen(1, hit)}, fixedNow(1000))
	if got := e.rollEvent(ctx, 1); got != "price-inversion" {
		t.Fatalf("fired %q, want price-inversion", got)
	}

	c, _ := s.GetCommodity(ctx, "silk")
	if c.CurrentPrice != "6.00" {
		t.Fatalf("inverted price = %s, want 6.00", c.CurrentPrice)
	}
}

func TestFlatTaxEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertCommodity(ctx, registry.Commodity{
		Slug: "silk", DisplayName: "Silk", BasePrice: "10.00", CurrentPrice: "10.00", Volatility: 1,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.AddInventory(ctx, "a1", "silk", false, ledger.Quantity("10.0000")); err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	// Two misses, the flat-tax hit, the commodity pick, then a mid-range
	// draw for the rate: 0.10 + 0.5*0.20 = 20%.
	e := New(s, &entropy.Fixed{Values: missesThen(2, hit, 0.0, 0.5)}, fixedNow(1000))
	if got := e.rollEvent(ctx, 1); got != "flat-tax" {
		t.Fatalf("fired %q, want flat-tax", got)
	}

	entry, err := s.GetInventory(ctx, "a1", "silk", false)
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if entry.Quantity != "8.0000" {
		t.Fatalf("after 20%% tax: %s, want 8.0000", entry.Quantity)
	}
}

func TestPriceSpikeEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertCommodity(ctx, registry.Commodity{
		Slug: "silk", DisplayName: "Silk", BasePrice: "10.00", CurrentPrice: "10.00", Volatility: 1,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Mid-range multiplier draw: 0.5 + 0.5*1.0 = 1.0, so the price doubles.
	e := New(s, &entropy.Fixed{Values: missesThen(3, hit, 0.0, 0.5)}, fixedNow(1000))
	if got := e.rollEvent(ctx, 1); got != "price-spike" {
		t.Fatalf("fired %q, want price-spike", got)
	}

	c, _ := s.GetCommodity(ctx, "silk")
	if c.CurrentPrice != "20.00" {
		t.Fatalf("spiked price = %s, want 20.00", c.CurrentPrice)
	}
}

func TestDecayShockHitsOnlyPerishables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, c := range []registry.Commodity{
		{Slug: "fish", DisplayName: "Fish", BasePrice: "10.00", CurrentPrice: "10.00", Volatility: 1, Perishable: true, DecayRate: 0.05},
		{Slug: "iron", DisplayName: "Iron", BasePrice: "10.00", CurrentPrice: "10.00", Volatility: 1},
	} {
		if err := s.InsertCommodity(ctx, c); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	e := New(s, &entropy.Fixed{Values: missesThen(4, hit)}, fixedNow(1000))
	if got := e.rollEvent(ctx, 1); got != "decay-shock" {
		t.Fatalf("fired %q, want decay-shock", got)
	}

	fish, _ := s.GetCommodity(ctx, "fish")
	if fish.CurrentPrice != "7.00" {
		t.Fatalf("fish price = %s, want 7.00", fish.CurrentPrice)
	}
	iron, _ := s.GetCommodity(ctx, "iron")
	if iron.CurrentPrice != "10.00" {
		t.Fatalf("iron price moved: %s", iron.CurrentPrice)
	}
}

func TestWindfallEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertAgent(ctx, registry.Agent{ID: "a1", Name: "Lucky", Location: "docks", Balance: "100.00", CreatedAt: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Agent pick, then mid-range bonus: 50 + 0.5*150 = 125 crowns.
	e := New(s, &entropy.Fixed{Values: missesThen(5, hit, 0.0, 0.5)}, fixedNow(1000))
	if got := e.rollEvent(ctx, 1); got != "windfall" {
		t.Fatalf("fired %q, want windfall", got)
	}

	a, _ := s.GetAgent(ctx, "a1")
	if a.Balance != "225.00" {
		t.Fatalf("balance = %s, want 225.00", a.Balance)
	}
}

func TestInactivityPenaltyCapped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, a := range []registry.Agent{
		// Idle and rich: 10% would be 50, capped at 20 crowns.
		{ID: "rich", Name: "Rich", Location: "docks", Balance: "500.00", LastActionTick: 0, CreatedAt: 1},
		// Idle and modest: 10% of 50 is below the cap.
		{ID: "modest", Name: "Modest", Location: "docks", Balance: "50.00", LastActionTick: 0, CreatedAt: 1},
		// Recently active: untouched.
		{ID: "busy", Name: "Busy", Location: "docks", Balance: "100.00", LastActionTick: 10, CreatedAt: 1},
	} {
		if err := s.InsertAgent(ctx, a); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	e := New(s, &entropy.Fixed{Values: missesThen(6, hit)}, fixedNow(1000))
	if got := e.rollEvent(ctx, 10); got != "inactivity-penalty" {
		t.Fatalf("fired %q, want inactivity-penalty", got)
	}

	for id, want := range map[string]string{
		"rich":   "480.00",
		"modest": "45.00",
		"busy":   "100.00",
	} {
		a, _ := s.GetAgent(ctx, id)
		if a.Balance != want {
			t.Fatalf("%s balance = %s, want %s", id, a.Balance, want)
		}
	}
}
