package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/ledger"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/registry"
)

// Steal attempts to lift a random inventory entry from a victim in the
// same district. Success odds improve with the thief's reputation edge;
// failure means jail and a reputation hit. Nobody steals on temple-row.
func (s *Service) Steal(ctx context.Context, thiefID, victimID string) (Result, error) {
	thief, err := s.begin(ctx, thiefID)
	if err != nil {
		return Result{}, err
	}
	if thiefID == victimID {
		return Result{}, fmt.Errorf("cannot steal from yourself")
	}
	if thief.Location == string(registry.TempleRow) {
		return Result{}, ErrWrongLocation
	}

	victim, err := s.store.GetAgent(ctx, victimID)
	if errors.Is(err, persistence.ErrNotFound) {
		return Result{}, fmt.Errorf("victim %s: %w", victimID, ErrUnknownEntity)
	}
	if err != nil {
		return Result{}, err
	}
	if victim.Location != thief.Location {
		return Result{}, ErrWrongLocation
	}

	loot, err := s.store.ListAgentInventory(ctx, victimID)
	if err != nil {
		return Result{}, err
	}
	if len(loot) == 0 {
		return Result{}, ErrInsufficientStock
	}

	// Base 40% success, nudged by the reputation gap, clamped to 10-75%.
	odds := 0.4 + float64(thief.Reputation-victim.Reputation)*0.01
	if odds < 0.10 {
		odds = 0.10
	}
	if odds > 0.75 {
		odds = 0.75
	}

	tick := s.currentTick(ctx)

	if s.rng.Float() >= odds {
		release := s.now().Add(JailTerm).Unix()
		err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
			thief.JailedUntil = &release
			thief.Reputation -= 5
			thief.LastActionTick = tick
			return tx.UpdateAgent(ctx, thief)
		})
		if err != nil {
			return Result{}, err
		}
		return Result{
			Action: "steal",
			Agent:  thief.ID,
			Detail: map[string]string{"result": "caught", "jailed_until": fmt.Sprint(release)},
		}, nil
	}

	entry := loot[entropy.Intn(s.rng, len(loot))]
	q := ledger.Quantity(entry.Quantity)
	err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
		if _, err := tx.AddInventory(ctx, victimID, entry.CommoditySlug, entry.Counterfeit, q.MulFloat(-1)); err != nil {
			return err
		}
		if _, err := tx.AddInventory(ctx, thiefID, entry.CommoditySlug, entry.Counterfeit, q); err != nil {
			return err
		}
		thief.LastActionTick = tick
		return tx.UpdateAgent(ctx, thief)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Action: "steal",
		Agent:  thief.ID,
		Detail: map[string]string{"result": "success", "commodity": entry.CommoditySlug, "quantity": q.String(), "victim": victimID},
	}, nil
}

// Forge mints one counterfeit unit of a commodity in the undercroft.
// A quarter of attempts end with the wardens kicking the door in.
func (s *Service) Forge(ctx context.Context, agentID, slug string) (Result, error) {
	a, err := s.begin(ctx, agentID)
	if err != nil {
		return Result{}, err
	}
	if a.Location != string(registry.Undercroft) {
		return Result{}, ErrWrongLocation
	}
	if _, err := s.store.GetCommodity(ctx, slug); errors.Is(err, persistence.ErrNotFound) {
		return Result{}, fmt.Errorf("commodity %s: %w", slug, ErrUnknownEntity)
	} else if err != nil {
		return Result{}, err
	}

	tick := s.currentTick(ctx)

	if s.rng.Float() < 0.25 {
		release := s.now().Add(JailTerm).Unix()
		err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
			a.JailedUntil = &release
			a.Reputation -= 5
			a.LastActionTick = tick
			return tx.UpdateAgent(ctx, a)
		})
		if err != nil {
			return Result{}, err
		}
		return Result{
			Action: "forge",
			Agent:  a.ID,
			Detail: map[string]string{"result": "caught"},
		}, nil
	}

	err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
		if _, err := tx.AddInventory(ctx, a.ID, slug, true, ledger.Quantity("1.0000")); err != nil {
			return err
		}
		a.LastActionTick = tick
		return tx.UpdateAgent(ctx, a)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Action: "forge",
		Agent:  a.ID,
		Detail: map[string]string{"result": "minted", "commodity": slug, "quantity": "1.0000"},
	}, nil
}

// Challenge wagers crowns on a coin flip between two agents in the same
// district; the winner takes the whole pot in one settlement.
func (s *Service) Challenge(ctx context.Context, challengerID, opponentID, wager string) (Result, error) {
	challenger, err := s.begin(ctx, challengerID)
	if err != nil {
		return Result{}, err
	}
	if challengerID == opponentID {
		return Result{}, fmt.Errorf("cannot challenge yourself")
	}

	opponent, err := s.store.GetAgent(ctx, opponentID)
	if errors.Is(err, persistence.ErrNotFound) {
		return Result{}, fmt.Errorf("opponent %s: %w", opponentID, ErrUnknownEntity)
	}
	if err != nil {
		return Result{}, err
	}
	if opponent.Location != challenger.Location {
		return Result{}, ErrWrongLocation
	}
	if opponent.Jailed(s.now().Unix()) {
		return Result{}, fmt.Errorf("opponent: %w", ErrJailed)
	}

	stake, err := ledger.Parse(wager, ledger.MoneyPlaces)
	if err != nil || !stake.IsPositive() {
		return Result{}, fmt.Errorf("wager %q invalid", wager)
	}
	if ledger.Money(challenger.Balance).Cmp(stake) < 0 {
		return Result{}, ErrInsufficientFunds
	}
	if ledger.Money(opponent.Balance).Cmp(stake) < 0 {
		return Result{}, fmt.Errorf("opponent: %w", ErrInsufficientFunds)
	}

	challenger.LastActionTick = s.currentTick(ctx)

	winner, loser := challenger, opponent
	if s.rng.Float() < 0.5 {
		winner, loser = opponent, challenger
	}

	err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
		winner.Balance = ledger.Money(winner.Balance).Add(stake).String()
		loser.Balance = ledger.Money(loser.Balance).Sub(stake).String()
		if err := tx.UpdateAgent(ctx, winner); err != nil {
			return err
		}
		return tx.UpdateAgent(ctx, loser)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Action: "challenge",
		Agent:  challenger.ID,
		Detail: map[string]string{"opponent": opponentID, "wager": stake.String(), "winner": winner.ID},
	}, nil
}
