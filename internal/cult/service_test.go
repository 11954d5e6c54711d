package cult

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/registry"
)

func newTestService(t *testing.T, rng entropy.Source) (*Service, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if rng == nil {
		rng = &entropy.Fixed{}
	}
	now := func() time.Time { return time.Unix(1000, 0) }
	return NewService(store, rng, now), store
}

func seedAgents(t *testing.T, store *persistence.Store, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("agent-%d", i)
		a := registry.Agent{
			ID:        ids[i],
			Name:      fmt.Sprintf("Trader %d", i),
			Location:  "grand-bazaar",
			Balance:   "100.00",
			CreatedAt: int64(i),
		}
		if err := store.InsertAgent(ctx, a); err != nil {
			t.Fatalf("insert agent %d: %v", i, err)
		}
	}
	return ids
}

func TestFoundAndJoin(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	ids := seedAgents(t, store, 3)

	c, err := svc.Found(ctx, ids[0], "Order of the Ledger", "Buy low.", 0.1)
	if err != nil {
		t.Fatalf("found: %v", err)
	}

	founder, _ := store.GetAgent(ctx, ids[0])
	if founder.CultID == nil || *founder.CultID != c.ID {
		t.Fatalf("founder not enrolled: %+v", founder)
	}

	if err := svc.Join(ctx, ids[1], c.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	got, _ := store.GetCult(ctx, c.ID)
	if got.MemberCount != 2 {
		t.Fatalf("member count = %d, want 2", got.MemberCount)
	}

	// One cult per agent.
	if err := svc.Join(ctx, ids[1], c.ID); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("double join: got %v, want ErrAlreadyMember", err)
	}
	if _, err := svc.Found(ctx, ids[0], "Second Order", "", 0); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("founder founding twice: got %v, want ErrAlreadyMember", err)
	}

	// Names are unique.
	if _, err := svc.Found(ctx, ids[2], "Order of the Ledger", "", 0); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("name collision: got %v, want ErrNameTaken", err)
	}
}

func TestFoundRejectsBadTitheRate(t *testing.T) {
	svc, store := newTestService(t, nil)
	ids := seedAgents(t, store, 1)

	if _, err := svc.Found(context.Background(), ids[0], "Greedy", "", 0.6); err == nil {
		t.Fatalf("tithe rate above 0.5 accepted")
	}
}

func TestLeaveDissolvesEmptyCult(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	ids := seedAgents(t, store, 1)

	c, err := svc.Found(ctx, ids[0], "Brief Flame", "", 0)
	if err != nil {
		t.Fatalf("found: %v", err)
	}
	if err := svc.Leave(ctx, ids[0]); err != nil {
		t.Fatalf("leave: %v", err)
	}

	if _, err := store.GetCult(ctx, c.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("empty cult survived: %v", err)
	}
	a, _ := store.GetAgent(ctx, ids[0])
	if a.CultID != nil {
		t.Fatalf("agent still enrolled after leave")
	}
	if err := svc.Leave(ctx, ids[0]); !errors.Is(err, ErrNotMember) {
		t.Fatalf("second leave: got %v, want ErrNotMember", err)
	}
}

func TestRitualQuorum(t *testing.T) {
	// Mid-range draw keeps the manipulation swing at exactly 1.0.
	svc, store := newTestService(t, &entropy.Fixed{})
	ctx := context.Background()
	ids := seedAgents(t, store, 5)

	if err := store.InsertCommodity(ctx, registry.Commodity{
		Slug: "silk", DisplayName: "Silk", BasePrice: "10.00", CurrentPrice: "14.00", Volatility: 1,
	}); err != nil {
		t.Fatalf("insert commodity: %v", err)
	}

	c, err := svc.Found(ctx, ids[0], "Order of the Ledger", "", 0)
	if err != nil {
		t.Fatalf("found: %v", err)
	}
	for _, id := range ids[1:] {
		if err := svc.Join(ctx, id, c.ID); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	target := "silk"
	out, err := svc.Request(ctx, c.ID, registry.RitualMarketManipulation, &target, ids[0])
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if !out.Created || out.Completed {
		t.Fatalf("first join outcome: %+v", out)
	}
	ritualID := out.Ritual.ID

	// A second request of the same type coalesces into the pending ritual.
	out, err = svc.Request(ctx, c.ID, registry.RitualMarketManipulation, &target, ids[1])
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if out.Created || out.Ritual.ID != ritualID || out.Ritual.Participants != 2 {
		t.Fatalf("second join outcome: %+v", out)
	}

	// Joining twice is rejected.
	if _, err := svc.JoinRitual(ctx, ritualID, ids[1]); !errors.Is(err, persistence.ErrAlreadyJoined) {
		t.Fatalf("repeat join: got %v, want ErrAlreadyJoined", err)
	}

	// The third participant reaches quorum and fires the effect.
	out, err = svc.JoinRitual(ctx, ritualID, ids[2])
	if err != nil {
		t.Fatalf("third join: %v", err)
	}
	if !out.Completed || out.Effect != "market-manipulation" {
		t.Fatalf("quorum outcome: %+v", out)
	}

	r, _ := store.GetRitual(ctx, ritualID)
	if r.Status != registry.RitualCompleted {
		t.Fatalf("ritual status = %s", r.Status)
	}
	got, _ := store.GetCult(ctx, c.ID)
	if got.Influence != InfluenceReward {
		t.Fatalf("influence = %d, want %d", got.Influence, InfluenceReward)
	}

	// A completed ritual accepts no one.
	if _, err := svc.JoinRitual(ctx, ritualID, ids[3]); !errors.Is(err, ErrRitualClosed) {
		t.Fatalf("join completed ritual: got %v, want ErrRitualClosed", err)
	}

	// The swing at u=0.5 is exactly 1.0, so the price is unchanged; the
	// effect still ran and clamped against the floor.
	commodity, _ := store.GetCommodity(ctx, "silk")
	if commodity.CurrentPrice != "14.00" {
		t.Fatalf("price after neutral swing: %s", commodity.CurrentPrice)
	}

	// With the old ritual closed, a new request opens a fresh one.
	out, err = svc.Request(ctx, c.ID, registry.RitualMarketManipulation, &target, ids[3])
	if err != nil || !out.Created {
		t.Fatalf("fresh ritual after completion: %+v, %v", out, err)
	}
}

func TestRitualTargetRequired(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	ids := seedAgents(t, store, 1)

	c, err := svc.Found(ctx, ids[0], "Order", "", 0)
	if err != nil {
		t.Fatalf("found: %v", err)
	}

	if _, err := svc.Request(ctx, c.ID, registry.RitualMarketManipulation, nil, ids[0]); !errors.Is(err, ErrTargetRequired) {
		t.Fatalf("manipulation without target: got %v, want ErrTargetRequired", err)
	}
	// Summoning conjures its own target.
	if _, err := svc.Request(ctx, c.ID, registry.RitualSummoning, nil, ids[0]); err != nil {
		t.Fatalf("summoning without target: %v", err)
	}
}

func TestExcommunicationRitual(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	ids := seedAgents(t, store, 4)

	c, err := svc.Found(ctx, ids[0], "Order", "", 0)
	if err != nil {
		t.Fatalf("found: %v", err)
	}
	for _, id := range ids[1:] {
		if err := svc.Join(ctx, id, c.ID); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	outcast := ids[3]
	var out Outcome
	for _, id := range ids[:3] {
		out, err = svc.Request(ctx, c.ID, registry.RitualExcommunication, &outcast, id)
		if err != nil {
			t.Fatalf("request by %s: %v", id, err)
		}
	}
	if !out.Completed {
		t.Fatalf("quorum of 3 did not complete: %+v", out)
	}

	a, _ := store.GetAgent(ctx, outcast)
	if a.CultID != nil {
		t.Fatalf("outcast still enrolled")
	}
	if a.Reputation != -10 {
		t.Fatalf("outcast reputation = %d, want -10", a.Reputation)
	}
	got, _ := store.GetCult(ctx, c.ID)
	if got.MemberCount != 3 {
		t.Fatalf("member count = %d, want 3", got.MemberCount)
	}
}

func TestSummoningGrantsToParticipants(t *testing.T) {
	svc, store := newTestService(t, &entropy.Fixed{})
	ctx := context.Background()
	ids := seedAgents(t, store, 3)

	c, err := svc.Found(ctx, ids[0], "Order", "", 0)
	if err != nil {
		t.Fatalf("found: %v", err)
	}
	for _, id := range ids[1:] {
		if err := svc.Join(ctx, id, c.ID); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	name := "Glass Lion"
	var out Outcome
	for _, id := range ids {
		out, err = svc.Request(ctx, c.ID, registry.RitualSummoning, &name, id)
		if err != nil {
			t.Fatalf("request by %s: %v", id, err)
		}
	}
	if !out.Completed || out.Effect != "summoning" {
		t.Fatalf("summoning outcome: %+v", out)
	}

	slug := out.EffectDetail["commodity"]
	commodity, err := store.GetCommodity(ctx, slug)
	if err != nil {
		t.Fatalf("summoned commodity: %v", err)
	}
	if commodity.DisplayName != name {
		t.Fatalf("display name = %s, want %s", commodity.DisplayName, name)
	}
	// Mid-range draw: base 10 + 0.5*90 = 55 crowns.
	if commodity.BasePrice != "55.00" {
		t.Fatalf("base price = %s, want 55.00", commodity.BasePrice)
	}
	if commodity.Supply != 3 {
		t.Fatalf("supply = %d, want 3", commodity.Supply)
	}

	for _, id := range ids {
		entry, err := store.GetInventory(ctx, id, slug, false)
		if err != nil || entry.Quantity != "1.0000" {
			t.Fatalf("grant to %s: %+v, %v", id, entry, err)
		}
	}
}

func TestWarSymmetry(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	ids := seedAgents(t, store, 3)

	a, err := svc.Found(ctx, ids[0], "Hawks", "", 0)
	if err != nil {
		t.Fatalf("found hawks: %v", err)
	}
	b, err := svc.Found(ctx, ids[1], "Doves", "", 0)
	if err != nil {
		t.Fatalf("found doves: %v", err)
	}
	c, err := svc.Found(ctx, ids[2], "Owls", "", 0)
	if err != nil {
		t.Fatalf("found owls: %v", err)
	}

	if err := svc.DeclareWar(ctx, a.ID, a.ID); !errors.Is(err, ErrSelfWar) {
		t.Fatalf("self war: got %v, want ErrSelfWar", err)
	}
	if err := svc.DeclareWar(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("declare war: %v", err)
	}

	hawks, _ := store.GetCult(ctx, a.ID)
	doves, _ := store.GetCult(ctx, b.ID)
	if hawks.AtWarWith == nil || *hawks.AtWarWith != b.ID {
		t.Fatalf("hawks war ref: %+v", hawks.AtWarWith)
	}
	if doves.AtWarWith == nil || *doves.AtWarWith != a.ID {
		t.Fatalf("doves war ref: %+v", doves.AtWarWith)
	}

	// One war at a time, on either side.
	if err := svc.DeclareWar(ctx, a.ID, c.ID); !errors.Is(err, ErrAlreadyAtWar) {
		t.Fatalf("second war: got %v, want ErrAlreadyAtWar", err)
	}
	if err := svc.DeclareWar(ctx, c.ID, b.ID); !errors.Is(err, ErrAlreadyAtWar) {
		t.Fatalf("war on busy enemy: got %v, want ErrAlreadyAtWar", err)
	}

	if err := svc.Truce(ctx, b.ID); err != nil {
		t.Fatalf("truce: %v", err)
	}
	hawks, _ = store.GetCult(ctx, a.ID)
	doves, _ = store.GetCult(ctx, b.ID)
	if hawks.AtWarWith != nil || doves.AtWarWith != nil {
		t.Fatalf("war refs survive truce: %+v %+v", hawks.AtWarWith, doves.AtWarWith)
	}
	if err := svc.Truce(ctx, a.ID); !errors.Is(err, ErrNotAtWar) {
		t.Fatalf("truce at peace: got %v, want ErrNotAtWar", err)
	}
}

func TestWarReleasedWhenCultDissolves(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	ids := seedAgents(t, store, 2)

	a, err := svc.Found(ctx, ids[0], "Hawks", "", 0)
	if err != nil {
		t.Fatalf("found: %v", err)
	}
	b, err := svc.Found(ctx, ids[1], "Doves", "", 0)
	if err != nil {
		t.Fatalf("found: %v", err)
	}
	if err := svc.DeclareWar(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("declare war: %v", err)
	}

	// The Hawks' last member walks out; the Doves' war ends with them.
	if err := svc.Leave(ctx, ids[0]); err != nil {
		t.Fatalf("leave: %v", err)
	}
	doves, _ := store.GetCult(ctx, b.ID)
	if doves.AtWarWith != nil {
		t.Fatalf("doves still at war with a dissolved cult")
	}
}
