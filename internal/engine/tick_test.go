package engine

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/registry"
)

func newTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	s, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// quiet is a draw that misses every event trial and adds positive noise.
const quiet = 0.99

func fixedNow(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

func TestRunTickIncrementsClock(t *testing.T) {
	s := newTestStore(t)
	e := New(s, &entropy.Fixed{Values: []float64{quiet}}, fixedNow(1000))
	ctx := context.Background()

	tick, err := e.RunTick(ctx)
	if err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if tick != 1 {
		t.Fatalf("first tick = %d, want 1", tick)
	}

	tick, err = e.RunTick(ctx)
	if err != nil || tick != 2 {
		t.Fatalf("second tick = %d, %v", tick, err)
	}

	raw, err := s.GetState(ctx, registry.KeyTick)
	if err != nil || raw != "2" {
		t.Fatalf("persisted tick = %q, %v", raw, err)
	}
}

func TestRunTickZeroNoiseHoldsPrice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := registry.Commodity{
		Slug: "paradox", DisplayName: "Bottled Paradox",
		BasePrice: "25.00", CurrentPrice: "25.00", Volatility: 1.8,
	}
	if err := s.InsertCommodity(ctx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// u = 0.5 zeroes the noise term; at base, mean reversion is zero too.
	e := New(s, &entropy.Fixed{}, fixedNow(1000))
	if _, err := e.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, _ := s.GetCommodity(ctx, "paradox")
	if got.CurrentPrice != "25.00" {
		t.Fatalf("price moved without noise: %s", got.CurrentPrice)
	}
}

func TestRunTickMeanReversion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := registry.Commodity{
		Slug: "silk", DisplayName: "Silk",
		BasePrice: "10.00", CurrentPrice: "20.00", Volatility: 0,
	}
	if err := s.InsertCommodity(ctx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Zero volatility isolates the reversion term: 20 + (10-20)*0.02 = 19.80.
	e := New(s, &entropy.Fixed{}, fixedNow(1000))
	if _, err := e.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, _ := s.GetCommodity(ctx, "silk")
	if got.CurrentPrice != "19.80" {
		t.Fatalf("price = %s, want 19.80", got.CurrentPrice)
	}
}

func TestPriceNeverBelowFloor(t *testing.T) {
	c := registry.Commodity{
		Slug: "fish", BasePrice: "10.00", CurrentPrice: "1.50",
		Volatility: 0, Perishable: true, DecayRate: 0.9,
	}
	// Heavy decay would take the price negative; the floor holds at 1.00.
	next := NextPrice(c, 0.5)
	if next.String() != "1.00" {
		t.Fatalf("floored price = %s, want 1.00", next)
	}
}

func TestInvertPrice(t *testing.T) {
	c := registry.Commodity{Slug: "silk", BasePrice: "10.00", CurrentPrice: "14.00"}
	if got := InvertPrice(c); got.String() != "6.00" {
		t.Fatalf("inverted = %s, want 6.00", got)
	}

	// An extreme high reflects below the floor and clamps.
	c.CurrentPrice = "25.00"
	if got := InvertPrice(c); got.String() != "1.00" {
		t.Fatalf("clamped inversion = %s, want 1.00", got)
	}
}

func TestRunTickReleasesJailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := int64(500)
	a := registry.Agent{ID: "a1", Name: "Mirza", Location: "docks", Balance: "0.00", JailedUntil: &past, CreatedAt: 1}
	if err := s.InsertAgent(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}

	e := New(s, &entropy.Fixed{Values: []float64{quiet}}, fixedNow(1000))
	if _, err := e.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, _ := s.GetAgent(ctx, "a1")
	if got.JailedUntil != nil {
		t.Fatalf("agent still jailed after sentence passed")
	}
}

func TestRunTickDecaysInfluence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cults := []registry.Cult{
		{ID: "c1", Name: "Ledger", FounderID: "a1", Treasury: "0.00", Influence: 3, MemberCount: 1, CreatedAt: 1},
		{ID: "c2", Name: "Lamp", FounderID: "a2", Treasury: "0.00", Influence: 0, MemberCount: 1, CreatedAt: 2},
	}
	for _, c := range cults {
		if err := s.InsertCult(ctx, c); err != nil {
			t.Fatalf("insert cult: %v", err)
		}
	}

	e := New(s, &entropy.Fixed{Values: []float64{quiet}}, fixedNow(1000))
	if _, err := e.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	c1, _ := s.GetCult(ctx, "c1")
	if c1.Influence != 2 {
		t.Fatalf("c1 influence = %d, want 2", c1.Influence)
	}
	// Influence never goes negative.
	c2, _ := s.GetCult(ctx, "c2")
	if c2.Influence != 0 {
		t.Fatalf("c2 influence = %d, want 0", c2.Influence)
	}
}

func TestRunTickCollectsTithes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cultID := "c1"
	if err := s.InsertCult(ctx, registry.Cult{
		ID: cultID, Name: "Ledger", FounderID: "a1", Treasury: "0.00",
		Influence: 5, TitheRate: 0.1, MemberCount: 2, CreatedAt: 1,
	}); err != nil {
		t.Fatalf("insert cult: %v", err)
	}
	for _, a := range []registry.Agent{
		{ID: "a1", Name: "Rich", Location: "docks", Balance: "100.00", CultID: &cultID, CreatedAt: 1},
		{ID: "a2", Name: "Broke", Location: "docks", Balance: "0.00", CultID: &cultID, CreatedAt: 1},
	} {
		if err := s.InsertAgent(ctx, a); err != nil {
			t.Fatalf("insert agent: %v", err)
		}
	}

	e := New(s, &entropy.Fixed{Values: []float64{quiet}}, fixedNow(1000))
	if _, err := e.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	rich, _ := s.GetAgent(ctx, "a1")
	if rich.Balance != "90.00" {
		t.Fatalf("tithed balance = %s, want 90.00", rich.Balance)
	}
	// A penniless member owes nothing.
	broke, _ := s.GetAgent(ctx, "a2")
	if broke.Balance != "0.00" {
		t.Fatalf("broke balance = %s, want 0.00", broke.Balance)
	}
	c, _ := s.GetCult(ctx, cultID)
	if c.Treasury != "10.00" {
		t.Fatalf("treasury = %s, want 10.00", c.Treasury)
	}
}

func TestRunTickSnapshotsRulingCult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Equal influence after decay: the first-founded cult wins the tie.
	for _, c := range []registry.Cult{
		{ID: "young", Name: "Young", FounderID: "a1", Treasury: "0.00", Influence: 4, MemberCount: 1, CreatedAt: 50},
		{ID: "elder", Name: "Elder", FounderID: "a2", Treasury: "0.00", Influence: 4, MemberCount: 1, CreatedAt: 10},
	} {
		if err := s.InsertCult(ctx, c); err != nil {
			t.Fatalf("insert cult: %v", err)
		}
	}

	e := New(s, &entropy.Fixed{Values: []float64{quiet}}, fixedNow(1000))
	if _, err := e.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	raw, err := s.GetState(ctx, registry.KeyRulingCult)
	if err != nil {
		t.Fatalf("ruling snapshot: %v", err)
	}
	if want := `"name":"Elder"`; !strings.Contains(raw, want) {
		t.Fatalf("ruling snapshot %q does not contain %q", raw, want)
	}
}

func TestTickerSpeedConcurrentAccess(t *testing.T) {
	s := newTestStore(t)
	tk := NewTicker(New(s, &entropy.Fixed{}, fixedNow(1000)), time.Minute)

	if tk.Speed() != 1.0 {
		t.Fatalf("initial speed = %v, want 1.0", tk.Speed())
	}

	// Admin speed changes race against the scheduler's reads; both go
	// through the guarded accessors.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			tk.SetSpeed(v)
			_ = tk.Speed()
		}(float64(i))
	}
	wg.Wait()

	tk.SetSpeed(0)
	if tk.Speed() != 0 {
		t.Fatalf("paused speed = %v, want 0", tk.Speed())
	}
}

func TestRunTickExpiresRituals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertRitual(ctx, registry.Ritual{
		ID: "r1", CultID: "c1", Type: registry.RitualSummoning,
		Required: 3, Status: registry.RitualPending, ExpiresAt: 900,
	}); err != nil {
		t.Fatalf("insert ritual: %v", err)
	}

	e := New(s, &entropy.Fixed{Values: []float64{quiet}}, fixedNow(1000))
	if _, err := e.RunTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	r, _ := s.GetRitual(ctx, "r1")
	if r.Status != registry.RitualExpired {
		t.Fatalf("ritual status = %s, want expired", r.Status)
	}
}
