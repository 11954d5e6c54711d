package cult

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/ledger"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/registry"
)

// Outcome describes what one join did to a ritual.
type Outcome struct {
	Ritual       registry.Ritual   `json:"ritual"`
	Created      bool              `json:"created"`   // a new pending ritual was opened
	Completed    bool              `json:"completed"` // this join reached quorum
	Effect       string            `json:"effect,omitempty"`
	EffectDetail map[string]string `json:"effect_detail,omitempty"`
}

// Request coalesces a ritual request into the pending ritual for the
// (cult, type) pair, creating one if none exists, and joins the agent to
// it. Reaching quorum executes the ritual's effect in the same
// transaction.
func (s *Service) Request(ctx context.Context, cultID, ritualType string, target *string, agentID string) (Outcome, error) {
	if !registry.ValidRitualType(ritualType) {
		return Outcome{}, fmt.Errorf("unknown ritual type %q", ritualType)
	}
	if ritualType != registry.RitualSummoning && (target == nil || *target == "") {
		return Outcome{}, ErrTargetRequired
	}

	var out Outcome
	err := s.store.Tx(ctx, func(tx *persistence.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return fmt.Errorf("agent: %w", err)
		}
		if agent.CultID == nil || *agent.CultID != cultID {
			return ErrNotMember
		}

		r, err := tx.GetPendingRitual(ctx, cultID, ritualType)
		switch {
		case errors.Is(err, persistence.ErrNotFound):
			r = registry.Ritual{
				ID:          uuid.NewString(),
				CultID:      cultID,
				Type:        ritualType,
				Target:      target,
				Required:    RitualQuorum,
				Status:      registry.RitualPending,
				ExpiresAt:   s.now().Add(RitualTTL).Unix(),
				CreatedTick: currentTick(ctx, tx),
			}
			if err := tx.InsertRitual(ctx, r); err != nil {
				return fmt.Errorf("insert ritual: %w", err)
			}
			out.Created = true
		case err != nil:
			return fmt.Errorf("pending ritual: %w", err)
		}

		return s.join(ctx, tx, &r, agentID, &out)
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// JoinRitual joins an agent to a specific ritual by id. Joining a
// completed or expired ritual is rejected.
func (s *Service) JoinRitual(ctx context.Context, ritualID, agentID string) (Outcome, error) {
	var out Outcome
	err := s.store.Tx(ctx, func(tx *persistence.Tx) error {
		r, err := tx.GetRitual(ctx, ritualID)
		if err != nil {
			return fmt.Errorf("ritual: %w", err)
		}
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return fmt.Errorf("agent: %w", err)
		}
		if agent.CultID == nil || *agent.CultID != r.CultID {
			return ErrNotMember
		}
		return s.join(ctx, tx, &r, agentID, &out)
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// join is the quorum state machine: pending → completed when the
// participant set reaches the threshold.
func (s *Service) join(ctx context.Context, tx *persistence.Tx, r *registry.Ritual, agentID string, out *Outcome) error {
	if r.Status != registry.RitualPending {
		return ErrRitualClosed
	}

	count, err := tx.AddRitualParticipant(ctx, r.ID, agentID)
	if err != nil {
		return err
	}
	r.Participants = count
	out.Ritual = *r

	if count < r.Required {
		return nil
	}

	// Quorum reached: execute the effect, mark completed, reward influence.
	if err := tx.UpdateRitualStatus(ctx, r.ID, registry.RitualCompleted); err != nil {
		return err
	}
	r.Status = registry.RitualCompleted
	out.Completed = true
	out.Ritual = *r

	effect, detail, err := s.execute(ctx, tx, r)
	if err != nil {
		return fmt.Errorf("ritual effect: %w", err)
	}
	out.Effect = effect
	out.EffectDetail = detail

	c, err := tx.GetCult(ctx, r.CultID)
	if errors.Is(err, persistence.ErrNotFound) {
		// Excommunication can dissolve the cult mid-ritual.
		return nil
	}
	if err != nil {
		return err
	}
	c.Influence += InfluenceReward
	return tx.UpdateCult(ctx, c)
}

// execute applies the type-specific effect of a completed ritual.
func (s *Service) execute(ctx context.Context, tx *persistence.Tx, r *registry.Ritual) (string, map[string]string, error) {
	switch r.Type {
	case registry.RitualMarketManipulation:
		return s.manipulateMarket(ctx, tx, r)
	case registry.RitualExcommunication:
		return s.excommunicate(ctx, tx, r)
	case registry.RitualSummoning:
		return s.summon(ctx, tx, r)
	}
	return "", nil, fmt.Errorf("unknown ritual type %q", r.Type)
}

// manipulateMarket swings the target commodity's price by a factor in
// [0.5, 1.5), clamped to the 10%-of-base floor.
func (s *Service) manipulateMarket(ctx context.Context, tx *persistence.Tx, r *registry.Ritual) (string, map[string]string, error) {
	c, err := tx.GetCommodity(ctx, *r.Target)
	if err != nil {
		return "", nil, fmt.Errorf("target commodity: %w", err)
	}
	swing := entropy.Between(s.rng, 0.5, 1.5)
	old := ledger.Money(c.CurrentPrice)
	next := c.ClampPrice(old.MulFloat(swing))
	if err := tx.UpdateCommodityPrice(ctx, c.Slug, next.String()); err != nil {
		return "", nil, err
	}
	return "market-manipulation", map[string]string{
		"commodity": c.Slug,
		"old_price": old.String(),
		"new_price": next.String(),
	}, nil
}

// excommunicate casts the target agent out of the cult and docks their
// reputation. A target who already left completes the ritual as a no-op.
func (s *Service) excommunicate(ctx context.Context, tx *persistence.Tx, r *registry.Ritual) (string, map[string]string, error) {
	const reputationPenalty = 10

	agent, err := tx.GetAgent(ctx, *r.Target)
	if errors.Is(err, persistence.ErrNotFound) {
		return "excommunication", map[string]string{"result": "target unknown"}, nil
	}
	if err != nil {
		return "", nil, err
	}
	if agent.CultID == nil || *agent.CultID != r.CultID {
		return "excommunication", map[string]string{"result": "target not a member"}, nil
	}

	agent.CultID = nil
	agent.Reputation -= reputationPenalty
	if err := tx.UpdateAgent(ctx, agent); err != nil {
		return "", nil, err
	}
	if err := removeMember(ctx, tx, r.CultID); err != nil {
		return "", nil, err
	}
	return "excommunication", map[string]string{
		"agent":              agent.ID,
		"reputation_penalty": "10",
	}, nil
}

// summon materializes a new commodity and grants each participant one
// unit of it.
func (s *Service) summon(ctx context.Context, tx *persistence.Tx, r *registry.Ritual) (string, map[string]string, error) {
	slug := "summoned-" + uuid.NewString()[:8]
	name := "Summoned Wonder"
	if r.Target != nil && *r.Target != "" {
		name = *r.Target
	}
	base := ledger.FromFloat(entropy.Between(s.rng, 10, 100), ledger.MoneyPlaces)

	c := registry.Commodity{
		Slug:         slug,
		DisplayName:  name,
		BasePrice:    base.String(),
		CurrentPrice: base.String(),
		Volatility:   1.0,
	}
	if err := tx.InsertCommodity(ctx, c); err != nil {
		return "", nil, fmt.Errorf("insert commodity: %w", err)
	}

	participants, err := tx.ListRitualParticipants(ctx, r.ID)
	if err != nil {
		return "", nil, err
	}
	grant := ledger.Quantity("1.0000")
	for _, agentID := range participants {
		if _, err := tx.AddInventory(ctx, agentID, slug, false, grant); err != nil {
			return "", nil, fmt.Errorf("grant to %s: %w", agentID, err)
		}
	}
	if err := tx.AdjustSupply(ctx, slug, int64(len(participants))); err != nil {
		return "", nil, err
	}

	return "summoning", map[string]string{
		"commodity":  slug,
		"base_price": base.String(),
		"granted":    fmt.Sprintf("%d x 1.0000", len(participants)),
	}, nil
}

// currentTick reads the tick counter for stamping, tolerating a world
// that has not ticked yet.
func currentTick(ctx context.Context, tx *persistence.Tx) int64 {
	v, err := tx.GetState(ctx, registry.KeyTick)
	if err != nil {
		return 0
	}
	var tick int64
	fmt.Sscanf(v, "%d", &tick)
	return tick
}
