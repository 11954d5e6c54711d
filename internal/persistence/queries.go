package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/talgya/bazaar/internal/ledger"
	"github.com/talgya/bazaar/internal/registry"
)

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ── World state ──────────────────────────────────────────────────────

// GetState reads a world-state value. Missing keys return ErrNotFound.
func (p q) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := sqlx.GetContext(ctx, p.ext, &value,
		p.ext.Rebind(`SELECT value FROM world_state WHERE key = ?`), key)
	if err != nil {
		return "", notFound(err)
	}
	return value, nil
}

// SetState writes a world-state value, inserting or replacing.
func (p q) SetState(ctx context.Context, key, value string) error {
	_, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`INSERT INTO world_state (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`), key, value)
	return err
}

// ── Agents ───────────────────────────────────────────────────────────

func (p q) InsertAgent(ctx context.Context, a registry.Agent) error {
	_, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`INSERT INTO agents
		 (id, name, location, balance, reputation, cult_id, jailed_until, last_action_tick, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.Name, a.Location, a.Balance, a.Reputation, a.CultID,
		a.JailedUntil, a.LastActionTick, a.CreatedAt)
	return err
}

func (p q) GetAgent(ctx context.Context, id string) (registry.Agent, error) {
	var a registry.Agent
	err := sqlx.GetContext(ctx, p.ext, &a,
		p.ext.Rebind(`SELECT * FROM agents WHERE id = ?`), id)
	return a, notFound(err)
}

// UpdateAgent writes every mutable agent column.
func (p q) UpdateAgent(ctx context.Context, a registry.Agent) error {
	res, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`UPDATE agents SET location = ?, balance = ?, reputation = ?, cult_id = ?,
		 jailed_until = ?, last_action_tick = ? WHERE id = ?`),
		a.Location, a.Balance, a.Reputation, a.CultID, a.JailedUntil, a.LastActionTick, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p q) ListAgents(ctx context.Context) ([]registry.Agent, error) {
	var out []registry.Agent
	err := sqlx.SelectContext(ctx, p.ext, &out,
		`SELECT * FROM agents ORDER BY created_at, id`)
	return out, err
}

// ListCultMembers returns the agents belonging to a cult.
func (p q) ListCultMembers(ctx context.Context, cultID string) ([]registry.Agent, error) {
	var out []registry.Agent
	err := sqlx.SelectContext(ctx, p.ext, &out,
		p.ext.Rebind(`SELECT * FROM agents WHERE cult_id = ? ORDER BY created_at, id`), cultID)
	return out, err
}

// ListInactiveAgents returns agents whose last action predates the cutoff
// tick.
func (p q) ListInactiveAgents(ctx context.Context, cutoffTick int64) ([]registry.Agent, error) {
	var out []registry.Agent
	err := sqlx.SelectContext(ctx, p.ext, &out,
		p.ext.Rebind(`SELECT * FROM agents WHERE last_action_tick <= ? ORDER BY created_at, id`), cutoffTick)
	return out, err
}

// ReleaseJailedBefore clears jailed_until for every agent whose sentence
// has passed. Returns the number of agents released.
func (p q) ReleaseJailedBefore(ctx context.Context, now int64) (int64, error) {
	res, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`UPDATE agents SET jailed_until = NULL
		 WHERE jailed_until IS NOT NULL AND jailed_until <= ?`), now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ── Commodities ──────────────────────────────────────────────────────

func (p q) InsertCommodity(ctx context.Context, c registry.Commodity) error {
	_, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`INSERT INTO commodities
		 (slug, display_name, base_price, current_price, supply, volatility, perishable, decay_rate)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		c.Slug, c.DisplayName, c.BasePrice, c.CurrentPrice, c.Supply,
		c.Volatility, c.Perishable, c.DecayRate)
	return err
}

func (p q) GetCommodity(ctx context.Context, slug string) (registry.Commodity, error) {
	var c registry.Commodity
	err := sqlx.GetContext(ctx, p.ext, &c,
		p.ext.Rebind(`SELECT * FROM commodities WHERE slug = ?`), slug)
	return c, notFound(err)
}

func (p q) ListCommodities(ctx context.Context) ([]registry.Commodity, error) {
	var out []registry.Commodity
	err := sqlx.SelectContext(ctx, p.ext, &out, `SELECT * FROM commodities ORDER BY slug`)
	return out, err
}

// UpdateCommodityPrice writes only the recalculated price.
func (p q) UpdateCommodityPrice(ctx context.Context, slug, price string) error {
	res, err := p.ext.ExecContext(ctx,
		p.ext.Rebind(`UPDATE commodities SET current_price = ? WHERE slug = ?`), price, slug)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustSupply moves a commodity's supply counter by delta.
func (p q) AdjustSupply(ctx context.Context, slug string, delta int64) error {
	_, err := p.ext.ExecContext(ctx,
		p.ext.Rebind(`UPDATE commodities SET supply = supply + ? WHERE slug = ?`), delta, slug)
	return err
}

// CountCommodities reports how many commodities exist.
func (p q) CountCommodities(ctx context.Context) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, p.ext, &n, `SELECT COUNT(*) FROM commodities`)
	return n, err
}

// ── Inventory ────────────────────────────────────────────────────────

func (p q) GetInventory(ctx context.Context, agentID, slug string, counterfeit bool) (registry.InventoryEntry, error) {
	var e registry.InventoryEntry
	err := sqlx.GetContext(ctx, p.ext, &e, p.ext.Rebind(
		`SELECT * FROM inventory WHERE agent_id = ? AND commodity_slug = ? AND counterfeit = ?`),
		agentID, slug, counterfeit)
	return e, notFound(err)
}

func (p q) ListAgentInventory(ctx context.Context, agentID string) ([]registry.InventoryEntry, error) {
	var out []registry.InventoryEntry
	err := sqlx.SelectContext(ctx, p.ext, &out, p.ext.Rebind(
		`SELECT * FROM inventory WHERE agent_id = ? ORDER BY commodity_slug, counterfeit`), agentID)
	return out, err
}

// ListHolders returns every inventory entry of a commodity across agents.
func (p q) ListHolders(ctx context.Context, slug string) ([]registry.InventoryEntry, error) {
	var out []registry.InventoryEntry
	err := sqlx.SelectContext(ctx, p.ext, &out, p.ext.Rebind(
		`SELECT * FROM inventory WHERE commodity_slug = ? ORDER BY agent_id, counterfeit`), slug)
	return out, err
}

// AddInventory applies a signed quantity delta to an (agent, commodity,
// counterfeit) entry, creating it on first deposit and deleting it when
// the quantity reaches zero or below. Returns the resulting quantity.
func (p q) AddInventory(ctx context.Context, agentID, slug string, counterfeit bool, delta ledger.Amount) (ledger.Amount, error) {
	current := ledger.Zero(ledger.QuantityPlaces)
	entry, err := p.GetInventory(ctx, agentID, slug, counterfeit)
	switch {
	case err == nil:
		current = ledger.Quantity(entry.Quantity)
	case errors.Is(err, ErrNotFound):
	default:
		return current, err
	}

	next := current.Add(delta)
	if !next.IsPositive() {
		_, err := p.ext.ExecContext(ctx, p.ext.Rebind(
			`DELETE FROM inventory WHERE agent_id = ? AND commodity_slug = ? AND counterfeit = ?`),
			agentID, slug, counterfeit)
		return ledger.Zero(ledger.QuantityPlaces), err
	}

	_, err = p.ext.ExecContext(ctx, p.ext.Rebind(
		`INSERT INTO inventory (agent_id, commodity_slug, counterfeit, quantity)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (agent_id, commodity_slug, counterfeit)
		 DO UPDATE SET quantity = excluded.quantity`),
		agentID, slug, counterfeit, next.String())
	return next, err
}

// ── Cults ────────────────────────────────────────────────────────────

func (p q) InsertCult(ctx context.Context, c registry.Cult) error {
	_, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`INSERT INTO cults
		 (id, name, doctrine, founder_id, treasury, influence, tithe_rate, member_count, at_war_with, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Name, c.Doctrine, c.FounderID, c.Treasury, c.Influence,
		c.TitheRate, c.MemberCount, c.AtWarWith, c.CreatedAt)
	return err
}

func (p q) GetCult(ctx context.Context, id string) (registry.Cult, error) {
	var c registry.Cult
	err := sqlx.GetContext(ctx, p.ext, &c,
		p.ext.Rebind(`SELECT * FROM cults WHERE id = ?`), id)
	return c, notFound(err)
}

func (p q) GetCultByName(ctx context.Context, name string) (registry.Cult, error) {
	var c registry.Cult
	err := sqlx.GetContext(ctx, p.ext, &c,
		p.ext.Rebind(`SELECT * FROM cults WHERE name = ?`), name)
	return c, notFound(err)
}

// ListCults returns cults in stable first-founded order; the ruling-cult
// tie-break depends on it.
func (p q) ListCults(ctx context.Context) ([]registry.Cult, error) {
	var out []registry.Cult
	err := sqlx.SelectContext(ctx, p.ext, &out, `SELECT * FROM cults ORDER BY created_at, id`)
	return out, err
}

func (p q) UpdateCult(ctx context.Context, c registry.Cult) error {
	res, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`UPDATE cults SET doctrine = ?, treasury = ?, influence = ?, tithe_rate = ?,
		 member_count = ?, at_war_with = ? WHERE id = ?`),
		c.Doctrine, c.Treasury, c.Influence, c.TitheRate, c.MemberCount, c.AtWarWith, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p q) DeleteCult(ctx context.Context, id string) error {
	_, err := p.ext.ExecContext(ctx, p.ext.Rebind(`DELETE FROM cults WHERE id = ?`), id)
	return err
}

// ── Rituals ──────────────────────────────────────────────────────────

func (p q) InsertRitual(ctx context.Context, r registry.Ritual) error {
	_, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`INSERT INTO rituals
		 (id, cult_id, type, target, required, status, expires_at, created_tick, participants)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.CultID, r.Type, r.Target, r.Required, r.Status,
		r.ExpiresAt, r.CreatedTick, r.Participants)
	return err
}

func (p q) GetRitual(ctx context.Context, id string) (registry.Ritual, error) {
	var r registry.Ritual
	err := sqlx.GetContext(ctx, p.ext, &r,
		p.ext.Rebind(`SELECT * FROM rituals WHERE id = ?`), id)
	return r, notFound(err)
}

// GetPendingRitual finds the single pending ritual for a (cult, type)
// pair, if any.
func (p q) GetPendingRitual(ctx context.Context, cultID, ritualType string) (registry.Ritual, error) {
	var r registry.Ritual
	err := sqlx.GetContext(ctx, p.ext, &r, p.ext.Rebind(
		`SELECT * FROM rituals WHERE cult_id = ? AND type = ? AND status = ?`),
		cultID, ritualType, registry.RitualPending)
	return r, notFound(err)
}

func (p q) ListRitualsByStatus(ctx context.Context, status string) ([]registry.Ritual, error) {
	var out []registry.Ritual
	err := sqlx.SelectContext(ctx, p.ext, &out,
		p.ext.Rebind(`SELECT * FROM rituals WHERE status = ? ORDER BY expires_at, id`), status)
	return out, err
}

func (p q) UpdateRitualStatus(ctx context.Context, id, status string) error {
	res, err := p.ext.ExecContext(ctx,
		p.ext.Rebind(`UPDATE rituals SET status = ? WHERE id = ?`), status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpirePendingBefore marks every pending ritual past its deadline as
// expired in one pass. No side effects beyond the status change.
func (p q) ExpirePendingBefore(ctx context.Context, now int64) (int64, error) {
	res, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`UPDATE rituals SET status = ? WHERE status = ? AND expires_at <= ?`),
		registry.RitualExpired, registry.RitualPending, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AddRitualParticipant records an agent joining a ritual and bumps the
// participant count. A repeat join returns ErrAlreadyJoined.
func (p q) AddRitualParticipant(ctx context.Context, ritualID, agentID string) (int64, error) {
	res, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`INSERT INTO ritual_participants (ritual_id, agent_id) VALUES (?, ?)
		 ON CONFLICT (ritual_id, agent_id) DO NOTHING`), ritualID, agentID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrAlreadyJoined
	}
	if _, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`UPDATE rituals SET participants = participants + 1 WHERE id = ?`), ritualID); err != nil {
		return 0, err
	}
	var count int64
	err = sqlx.GetContext(ctx, p.ext, &count,
		p.ext.Rebind(`SELECT participants FROM rituals WHERE id = ?`), ritualID)
	return count, err
}

func (p q) ListRitualParticipants(ctx context.Context, ritualID string) ([]string, error) {
	var out []string
	err := sqlx.SelectContext(ctx, p.ext, &out, p.ext.Rebind(
		`SELECT agent_id FROM ritual_participants WHERE ritual_id = ? ORDER BY agent_id`), ritualID)
	return out, err
}

// ErrAlreadyJoined is returned when an agent joins the same ritual twice.
var ErrAlreadyJoined = errors.New("agent already joined ritual")

// ── Offers ───────────────────────────────────────────────────────────

func (p q) InsertOffer(ctx context.Context, o registry.Offer) error {
	_, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`INSERT INTO offers (id, seller_id, commodity_slug, counterfeit, quantity, price, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		o.ID, o.SellerID, o.CommoditySlug, o.Counterfeit, o.Quantity, o.Price, o.Status, o.CreatedAt)
	return err
}

func (p q) GetOffer(ctx context.Context, id string) (registry.Offer, error) {
	var o registry.Offer
	err := sqlx.GetContext(ctx, p.ext, &o,
		p.ext.Rebind(`SELECT * FROM offers WHERE id = ?`), id)
	return o, notFound(err)
}

func (p q) ListOpenOffers(ctx context.Context) ([]registry.Offer, error) {
	var out []registry.Offer
	err := sqlx.SelectContext(ctx, p.ext, &out, p.ext.Rebind(
		`SELECT * FROM offers WHERE status = ? ORDER BY created_at, id`), registry.OfferOpen)
	return out, err
}

// CloseOffer transitions an open offer to the given terminal status,
// failing if the offer is no longer open.
func (p q) CloseOffer(ctx context.Context, id, status string) error {
	res, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`UPDATE offers SET status = ? WHERE id = ? AND status = ?`),
		status, id, registry.OfferOpen)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ── World events ─────────────────────────────────────────────────────

// AppendWorldEvent adds one entry to the append-only event log.
func (p q) AppendWorldEvent(ctx context.Context, ev registry.WorldEvent) error {
	_, err := p.ext.ExecContext(ctx, p.ext.Rebind(
		`INSERT INTO world_events (type, description, effects, tick, created_at)
		 VALUES (?, ?, ?, ?, ?)`),
		ev.Type, ev.Description, ev.Effects, ev.Tick, ev.CreatedAt)
	return err
}

func (p q) ListRecentEvents(ctx context.Context, limit int) ([]registry.WorldEvent, error) {
	var out []registry.WorldEvent
	err := sqlx.SelectContext(ctx, p.ext, &out,
		p.ext.Rebind(`SELECT * FROM world_events ORDER BY id DESC LIMIT ?`), limit)
	return out, err
}

// CountEventsAtTick reports how many events were logged for one tick.
func (p q) CountEventsAtTick(ctx context.Context, tick int64) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, p.ext, &n,
		p.ext.Rebind(`SELECT COUNT(*) FROM world_events WHERE tick = ?`), tick)
	return n, err
}

// ListEventsBefore returns events older than the given tick, oldest
// first. Used by the archive exporter.
func (p q) ListEventsBefore(ctx context.Context, tick int64) ([]registry.WorldEvent, error) {
	var out []registry.WorldEvent
	err := sqlx.SelectContext(ctx, p.ext, &out,
		p.ext.Rebind(`SELECT * FROM world_events WHERE tick < ? ORDER BY id`), tick)
	return out, err
}

// DeleteEventsBefore drops archived events from the live table.
func (p q) DeleteEventsBefore(ctx context.Context, tick int64) (int64, error) {
	res, err := p.ext.ExecContext(ctx,
		p.ext.Rebind(`DELETE FROM world_events WHERE tick < ?`), tick)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SeedCommodities inserts catalog commodities that do not exist yet.
func (p q) SeedCommodities(ctx context.Context, catalog []registry.Commodity) (int, error) {
	seeded := 0
	for _, c := range catalog {
		_, err := p.GetCommodity(ctx, c.Slug)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return seeded, fmt.Errorf("check commodity %s: %w", c.Slug, err)
		}
		if err := p.InsertCommodity(ctx, c); err != nil {
			return seeded, fmt.Errorf("seed commodity %s: %w", c.Slug, err)
		}
		seeded++
	}
	return seeded, nil
}
