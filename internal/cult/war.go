package cult

import (
	"context"
	"fmt"

	"github.com/talgya/bazaar/internal/persistence"
)

// DeclareWar sets both cults' at-war references to each other in one
// transaction. A cult already at war must resolve it before declaring
// another.
func (s *Service) DeclareWar(ctx context.Context, cultID, enemyID string) error {
	if cultID == enemyID {
		return ErrSelfWar
	}
	return s.store.Tx(ctx, func(tx *persistence.Tx) error {
		a, err := tx.GetCult(ctx, cultID)
		if err != nil {
			return fmt.Errorf("cult: %w", err)
		}
		b, err := tx.GetCult(ctx, enemyID)
		if err != nil {
			return fmt.Errorf("enemy: %w", err)
		}
		if a.AtWarWith != nil || b.AtWarWith != nil {
			return ErrAlreadyAtWar
		}
		a.AtWarWith = &b.ID
		b.AtWarWith = &a.ID
		if err := tx.UpdateCult(ctx, a); err != nil {
			return err
		}
		return tx.UpdateCult(ctx, b)
	})
}

// Truce resolves a war, clearing both sides in one transaction.
func (s *Service) Truce(ctx context.Context, cultID string) error {
	return s.store.Tx(ctx, func(tx *persistence.Tx) error {
		a, err := tx.GetCult(ctx, cultID)
		if err != nil {
			return fmt.Errorf("cult: %w", err)
		}
		if a.AtWarWith == nil {
			return ErrNotAtWar
		}
		b, err := tx.GetCult(ctx, *a.AtWarWith)
		if err != nil {
			return fmt.Errorf("enemy: %w", err)
		}
		a.AtWarWith = nil
		b.AtWarWith = nil
		if err := tx.UpdateCult(ctx, a); err != nil {
			return err
		}
		return tx.UpdateCult(ctx, b)
	})
}
