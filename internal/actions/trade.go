package actions

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/talgya/bazaar/internal/ledger"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/registry"
)

// parseQuantity validates a positive 4-place quantity string.
func parseQuantity(qty string) (ledger.Amount, error) {
	q, err := ledger.Parse(qty, ledger.QuantityPlaces)
	if err != nil {
		return q, fmt.Errorf("%w: %v", ErrBadQuantity, err)
	}
	if !q.IsPositive() {
		return q, ErrBadQuantity
	}
	return q, nil
}

// supplyUnits converts a traded quantity to whole supply-counter units.
func supplyUnits(q ledger.Amount) int64 {
	return int64(math.Round(q.Float64()))
}

// Buy purchases qty of a commodity from the open market at the current
// price. Only the market districts trade.
func (s *Service) Buy(ctx context.Context, agentID, slug, qty string) (Result, error) {
	a, err := s.begin(ctx, agentID)
	if err != nil {
		return Result{}, err
	}
	if !marketDistrict(a.Location) {
		return Result{}, ErrWrongLocation
	}
	q, err := parseQuantity(qty)
	if err != nil {
		return Result{}, err
	}

	c, err := s.store.GetCommodity(ctx, slug)
	if errors.Is(err, persistence.ErrNotFound) {
		return Result{}, fmt.Errorf("commodity %s: %w", slug, ErrUnknownEntity)
	}
	if err != nil {
		return Result{}, err
	}

	cost := ledger.Money(c.CurrentPrice).MulFloat(q.Float64())
	balance := ledger.Money(a.Balance)
	if balance.Cmp(cost) < 0 {
		return Result{}, ErrInsufficientFunds
	}

	tick := s.currentTick(ctx)
	err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
		a.Balance = balance.Sub(cost).String()
		a.LastActionTick = tick
		if err := tx.UpdateAgent(ctx, a); err != nil {
			return err
		}
		if _, err := tx.AddInventory(ctx, a.ID, c.Slug, false, q); err != nil {
			return err
		}
		return tx.AdjustSupply(ctx, c.Slug, supplyUnits(q))
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Action: "buy",
		Agent:  a.ID,
		Detail: map[string]string{"commodity": c.Slug, "quantity": q.String(), "cost": cost.String()},
	}, nil
}

// Sell liquidates qty of a holding at the current price. Selling
// counterfeit goods risks detection: the goods are confiscated, the
// seller's name suffers, and the wardens take them away for a spell.
func (s *Service) Sell(ctx context.Context, agentID, slug, qty string, counterfeit bool) (Result, error) {
	a, err := s.begin(ctx, agentID)
	if err != nil {
		return Result{}, err
	}
	if !marketDistrict(a.Location) {
		return Result{}, ErrWrongLocation
	}
	q, err := parseQuantity(qty)
	if err != nil {
		return Result{}, err
	}

	entry, err := s.store.GetInventory(ctx, agentID, slug, counterfeit)
	if errors.Is(err, persistence.ErrNotFound) {
		return Result{}, ErrInsufficientStock
	}
	if err != nil {
		return Result{}, err
	}
	held := ledger.Quantity(entry.Quantity)
	if held.Cmp(q) < 0 {
		return Result{}, ErrInsufficientStock
	}

	c, err := s.store.GetCommodity(ctx, slug)
	if err != nil {
		return Result{}, err
	}

	tick := s.currentTick(ctx)

	if counterfeit && s.rng.Float() < 0.3 {
		// Caught passing fakes: goods confiscated, no payment, jail.
		release := s.now().Add(JailTerm).Unix()
		err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
			if _, err := tx.AddInventory(ctx, a.ID, slug, true, q.MulFloat(-1)); err != nil {
				return err
			}
			a.Reputation -= 5
			a.JailedUntil = &release
			a.LastActionTick = tick
			return tx.UpdateAgent(ctx, a)
		})
		if err != nil {
			return Result{}, err
		}
		return Result{
			Action: "sell",
			Agent:  a.ID,
			Detail: map[string]string{"commodity": slug, "result": "counterfeit detected", "confiscated": q.String()},
		}, nil
	}

	revenue := ledger.Money(c.CurrentPrice).MulFloat(q.Float64())
	err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
		if _, err := tx.AddInventory(ctx, a.ID, slug, counterfeit, q.MulFloat(-1)); err != nil {
			return err
		}
		a.Balance = ledger.Money(a.Balance).Add(revenue).String()
		a.LastActionTick = tick
		if err := tx.UpdateAgent(ctx, a); err != nil {
			return err
		}
		// Counterfeits were never part of the genuine supply; only real
		// goods move the counter.
		if counterfeit {
			return nil
		}
		return tx.AdjustSupply(ctx, slug, -supplyUnits(q))
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Action: "sell",
		Agent:  a.ID,
		Detail: map[string]string{"commodity": slug, "quantity": q.String(), "revenue": revenue.String()},
	}, nil
}

// Craft consumes 2 units of a source commodity to produce 1 unit of a
// target worth at most 2.5x the source's base price.
func (s *Service) Craft(ctx context.Context, agentID, fromSlug, toSlug string) (Result, error) {
	a, err := s.begin(ctx, agentID)
	if err != nil {
		return Result{}, err
	}

	from, err := s.store.GetCommodity(ctx, fromSlug)
	if errors.Is(err, persistence.ErrNotFound) {
		return Result{}, fmt.Errorf("commodity %s: %w", fromSlug, ErrUnknownEntity)
	}
	if err != nil {
		return Result{}, err
	}
	to, err := s.store.GetCommodity(ctx, toSlug)
	if errors.Is(err, persistence.ErrNotFound) {
		return Result{}, fmt.Errorf("commodity %s: %w", toSlug, ErrUnknownEntity)
	}
	if err != nil {
		return Result{}, err
	}

	maxBase := ledger.Money(from.BasePrice).MulFloat(2.5)
	if ledger.Money(to.BasePrice).Cmp(maxBase) > 0 {
		return Result{}, fmt.Errorf("cannot craft %s from %s: too valuable", toSlug, fromSlug)
	}

	need := ledger.Quantity("2.0000")
	entry, err := s.store.GetInventory(ctx, agentID, fromSlug, false)
	if errors.Is(err, persistence.ErrNotFound) || (err == nil && ledger.Quantity(entry.Quantity).Cmp(need) < 0) {
		return Result{}, ErrInsufficientStock
	}
	if err != nil {
		return Result{}, err
	}

	tick := s.currentTick(ctx)
	err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
		if _, err := tx.AddInventory(ctx, a.ID, fromSlug, false, need.MulFloat(-1)); err != nil {
			return err
		}
		if _, err := tx.AddInventory(ctx, a.ID, toSlug, false, ledger.Quantity("1.0000")); err != nil {
			return err
		}
		a.LastActionTick = tick
		return tx.UpdateAgent(ctx, a)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Action: "craft",
		Agent:  a.ID,
		Detail: map[string]string{"consumed": "2.0000 " + fromSlug, "produced": "1.0000 " + toSlug},
	}, nil
}

// Offer escrows goods into an open sell order at an asking price.
func (s *Service) Offer(ctx context.Context, sellerID, slug, qty, askPrice string, counterfeit bool) (Result, error) {
	a, err := s.begin(ctx, sellerID)
	if err != nil {
		return Result{}, err
	}
	if !marketDistrict(a.Location) {
		return Result{}, ErrWrongLocation
	}
	q, err := parseQuantity(qty)
	if err != nil {
		return Result{}, err
	}
	price, err := ledger.Parse(askPrice, ledger.MoneyPlaces)
	if err != nil || !price.IsPositive() {
		return Result{}, fmt.Errorf("asking price %q invalid", askPrice)
	}

	entry, err := s.store.GetInventory(ctx, sellerID, slug, counterfeit)
	if errors.Is(err, persistence.ErrNotFound) {
		return Result{}, ErrInsufficientStock
	}
	if err != nil {
		return Result{}, err
	}
	if ledger.Quantity(entry.Quantity).Cmp(q) < 0 {
		return Result{}, ErrInsufficientStock
	}

	offer := registry.Offer{
		ID:            uuid.NewString(),
		SellerID:      sellerID,
		CommoditySlug: slug,
		Counterfeit:   counterfeit,
		Quantity:      q.String(),
		Price:         price.String(),
		Status:        registry.OfferOpen,
		CreatedAt:     s.now().Unix(),
	}

	tick := s.currentTick(ctx)
	err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
		// Escrow: goods leave the seller's stall while the offer stands.
		if _, err := tx.AddInventory(ctx, sellerID, slug, counterfeit, q.MulFloat(-1)); err != nil {
			return err
		}
		if err := tx.InsertOffer(ctx, offer); err != nil {
			return err
		}
		a.LastActionTick = tick
		return tx.UpdateAgent(ctx, a)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Action: "offer",
		Agent:  a.ID,
		Detail: map[string]string{"offer_id": offer.ID, "commodity": slug, "quantity": q.String(), "price": price.String()},
	}, nil
}

// AcceptOffer settles an open offer: buyer pays, seller is credited, and
// the escrowed goods land with the buyer — all in one transaction so no
// one-sided state survives a failure.
func (s *Service) AcceptOffer(ctx context.Context, buyerID, offerID string) (Result, error) {
	buyer, err := s.begin(ctx, buyerID)
	if err != nil {
		return Result{}, err
	}
	if !marketDistrict(buyer.Location) {
		return Result{}, ErrWrongLocation
	}

	offer, err := s.store.GetOffer(ctx, offerID)
	if errors.Is(err, persistence.ErrNotFound) {
		return Result{}, fmt.Errorf("offer %s: %w", offerID, ErrUnknownEntity)
	}
	if err != nil {
		return Result{}, err
	}
	if offer.Status != registry.OfferOpen {
		return Result{}, fmt.Errorf("offer %s: %w", offerID, ErrUnknownEntity)
	}
	if offer.SellerID == buyerID {
		return Result{}, fmt.Errorf("cannot accept own offer")
	}

	price := ledger.Money(offer.Price)
	if ledger.Money(buyer.Balance).Cmp(price) < 0 {
		return Result{}, ErrInsufficientFunds
	}

	tick := s.currentTick(ctx)
	err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
		// CloseOffer guards the status so two buyers cannot both settle.
		if err := tx.CloseOffer(ctx, offer.ID, registry.OfferAccepted); err != nil {
			return err
		}
		seller, err := tx.GetAgent(ctx, offer.SellerID)
		if err != nil {
			return err
		}
		seller.Balance = ledger.Money(seller.Balance).Add(price).String()
		if err := tx.UpdateAgent(ctx, seller); err != nil {
			return err
		}
		buyer.Balance = ledger.Money(buyer.Balance).Sub(price).String()
		buyer.LastActionTick = tick
		if err := tx.UpdateAgent(ctx, buyer); err != nil {
			return err
		}
		_, err = tx.AddInventory(ctx, buyer.ID, offer.CommoditySlug, offer.Counterfeit, ledger.Quantity(offer.Quantity))
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Action: "accept-offer",
		Agent:  buyer.ID,
		Detail: map[string]string{"offer_id": offer.ID, "commodity": offer.CommoditySlug, "paid": price.String()},
	}, nil
}

// RevokeOffer returns escrowed goods to the seller and closes the offer.
func (s *Service) RevokeOffer(ctx context.Context, sellerID, offerID string) (Result, error) {
	a, err := s.begin(ctx, sellerID)
	if err != nil {
		return Result{}, err
	}

	offer, err := s.store.GetOffer(ctx, offerID)
	if errors.Is(err, persistence.ErrNotFound) {
		return Result{}, fmt.Errorf("offer %s: %w", offerID, ErrUnknownEntity)
	}
	if err != nil {
		return Result{}, err
	}
	if offer.SellerID != sellerID {
		return Result{}, fmt.Errorf("offer %s is not yours", offerID)
	}

	err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
		if err := tx.CloseOffer(ctx, offer.ID, registry.OfferRevoked); err != nil {
			return err
		}
		_, err := tx.AddInventory(ctx, sellerID, offer.CommoditySlug, offer.Counterfeit, ledger.Quantity(offer.Quantity))
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Action: "revoke-offer",
		Agent:  a.ID,
		Detail: map[string]string{"offer_id": offer.ID},
	}, nil
}
