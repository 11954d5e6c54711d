// Package cult implements factions: membership, quorum-gated rituals,
// and inter-cult war. All multi-entity transitions run inside a single
// transaction so partial states never land.
package cult

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/registry"
)

// Validation failures surfaced to callers.
var (
	ErrAlreadyMember  = errors.New("agent already belongs to a cult")
	ErrNotMember      = errors.New("agent is not a member of this cult")
	ErrNameTaken      = errors.New("cult name already taken")
	ErrRitualClosed   = errors.New("ritual is no longer pending")
	ErrAlreadyAtWar   = errors.New("cult is already at war")
	ErrNotAtWar       = errors.New("cult is not at war")
	ErrSelfWar        = errors.New("a cult cannot declare war on itself")
	ErrTargetRequired = errors.New("ritual type requires a target")
)

// RitualQuorum is the participant threshold for newly created rituals.
const RitualQuorum = 3

// RitualTTL is how long a pending ritual waits for quorum before the
// tick engine's sweep expires it.
const RitualTTL = 30 * time.Minute

// InfluenceReward is added to a cult's influence when a ritual completes.
const InfluenceReward = 5

// Service owns cult state transitions.
type Service struct {
	store *persistence.Store
	rng   entropy.Source
	now   func() time.Time
}

// NewService wires a cult service. rng drives ritual effect magnitudes;
// now is the clock seam for tests.
func NewService(store *persistence.Store, rng entropy.Source, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, rng: rng, now: now}
}

// Found creates a cult with the founder as its first member.
func (s *Service) Found(ctx context.Context, founderID, name, doctrine string, titheRate float64) (registry.Cult, error) {
	if titheRate < 0 || titheRate > 0.5 {
		return registry.Cult{}, fmt.Errorf("tithe rate %.2f out of range [0, 0.5]", titheRate)
	}

	c := registry.Cult{
		ID:          uuid.NewString(),
		Name:        name,
		Doctrine:    doctrine,
		FounderID:   founderID,
		Treasury:    "0.00",
		TitheRate:   titheRate,
		MemberCount: 1,
		CreatedAt:   s.now().Unix(),
	}

	err := s.store.Tx(ctx, func(tx *persistence.Tx) error {
		agent, err := tx.GetAgent(ctx, founderID)
		if err != nil {
			return fmt.Errorf("founder: %w", err)
		}
		if agent.CultID != nil {
			return ErrAlreadyMember
		}
		if _, err := tx.GetCultByName(ctx, name); err == nil {
			return ErrNameTaken
		} else if !errors.Is(err, persistence.ErrNotFound) {
			return err
		}
		if err := tx.InsertCult(ctx, c); err != nil {
			return fmt.Errorf("insert cult: %w", err)
		}
		agent.CultID = &c.ID
		return tx.UpdateAgent(ctx, agent)
	})
	if err != nil {
		return registry.Cult{}, err
	}
	return c, nil
}

// Join adds an agent to a cult.
func (s *Service) Join(ctx context.Context, agentID, cultID string) error {
	return s.store.Tx(ctx, func(tx *persistence.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return fmt.Errorf("agent: %w", err)
		}
		if agent.CultID != nil {
			return ErrAlreadyMember
		}
		c, err := tx.GetCult(ctx, cultID)
		if err != nil {
			return fmt.Errorf("cult: %w", err)
		}
		agent.CultID = &c.ID
		if err := tx.UpdateAgent(ctx, agent); err != nil {
			return err
		}
		c.MemberCount++
		return tx.UpdateCult(ctx, c)
	})
}

// Leave removes an agent from its cult. The cult is deleted when its
// member count drops to zero; the treasury is forfeited with it.
func (s *Service) Leave(ctx context.Context, agentID string) error {
	return s.store.Tx(ctx, func(tx *persistence.Tx) error {
		agent, err := tx.GetAgent(ctx, agentID)
		if err != nil {
			return fmt.Errorf("agent: %w", err)
		}
		if agent.CultID == nil {
			return ErrNotMember
		}
		cultID := *agent.CultID
		agent.CultID = nil
		if err := tx.UpdateAgent(ctx, agent); err != nil {
			return err
		}
		return removeMember(ctx, tx, cultID)
	})
}

// removeMember decrements a cult's member count, deleting the cult at
// zero. Any war the dissolving cult was in is released on the other side.
func removeMember(ctx context.Context, tx *persistence.Tx, cultID string) error {
	c, err := tx.GetCult(ctx, cultID)
	if err != nil {
		return fmt.Errorf("cult: %w", err)
	}
	c.MemberCount--
	if c.MemberCount > 0 {
		return tx.UpdateCult(ctx, c)
	}
	if c.AtWarWith != nil {
		enemy, err := tx.GetCult(ctx, *c.AtWarWith)
		if err == nil {
			enemy.AtWarWith = nil
			if err := tx.UpdateCult(ctx, enemy); err != nil {
				return err
			}
		} else if !errors.Is(err, persistence.ErrNotFound) {
			return err
		}
	}
	return tx.DeleteCult(ctx, c.ID)
}
