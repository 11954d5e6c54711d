// Package actions implements player-initiated mutations: trading,
// crafting, crime, movement, and the oracle. Every action validates
// first, commits its state change in one transaction, and only then
// decorates the outcome with best-effort flavor text.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/ledger"
	"github.com/talgya/bazaar/internal/llm"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/registry"
)

// Validation failures — reported synchronously, no state mutated.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrWrongLocation     = errors.New("wrong location for this action")
	ErrUnknownEntity     = errors.New("unknown entity")
	ErrJailed            = errors.New("agent is jailed")
	ErrOnCooldown        = errors.New("action on cooldown")
	ErrBadQuantity       = errors.New("quantity must be positive")
)

// JailTerm is how long a caught thief or forger sits out.
const JailTerm = 15 * time.Minute

// Result is the structured outcome of a successful action.
type Result struct {
	Action string            `json:"action"`
	Agent  string            `json:"agent"`
	Detail map[string]string `json:"detail,omitempty"`
	Flavor string            `json:"flavor,omitempty"`
}

// Service executes player actions.
type Service struct {
	store     *persistence.Store
	rng       entropy.Source
	oracle    *llm.Client
	cooldowns *Cooldowns
	now       func() time.Time
}

// NewService wires the action handlers. oracle may be nil (flavor text
// falls back); cooldowns may be nil (no rate limit).
func NewService(store *persistence.Store, rng entropy.Source, oracle *llm.Client, cooldowns *Cooldowns, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, rng: rng, oracle: oracle, cooldowns: cooldowns, now: now}
}

// begin runs the shared preamble: cooldown, existence, jail check.
func (s *Service) begin(ctx context.Context, agentID string) (registry.Agent, error) {
	if !s.cooldowns.Ready(agentID, s.now()) {
		return registry.Agent{}, ErrOnCooldown
	}
	a, err := s.store.GetAgent(ctx, agentID)
	if errors.Is(err, persistence.ErrNotFound) {
		return registry.Agent{}, fmt.Errorf("agent %s: %w", agentID, ErrUnknownEntity)
	}
	if err != nil {
		return registry.Agent{}, err
	}
	if a.Jailed(s.now().Unix()) {
		return registry.Agent{}, ErrJailed
	}
	return a, nil
}

// currentTick reads the world clock for last-action stamping.
func (s *Service) currentTick(ctx context.Context) int64 {
	raw, err := s.store.GetState(ctx, registry.KeyTick)
	if err != nil {
		return 0
	}
	tick, _ := strconv.ParseInt(raw, 10, 64)
	return tick
}

// Move walks an agent to another district.
func (s *Service) Move(ctx context.Context, agentID, location string) (Result, error) {
	a, err := s.begin(ctx, agentID)
	if err != nil {
		return Result{}, err
	}
	if !registry.ValidLocation(location) {
		return Result{}, fmt.Errorf("location %q: %w", location, ErrUnknownEntity)
	}

	tick := s.currentTick(ctx)
	err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
		a.Location = location
		a.LastActionTick = tick
		return tx.UpdateAgent(ctx, a)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Action: "move",
		Agent:  a.ID,
		Detail: map[string]string{"location": location},
	}, nil
}

// Oracle sells a prophecy for 5 crowns at temple-row. The prophecy text
// is decoration: a dead oracle still takes the coin and hands back the
// stock answer.
func (s *Service) Oracle(ctx context.Context, agentID string) (Result, error) {
	const fee = "5.00"

	a, err := s.begin(ctx, agentID)
	if err != nil {
		return Result{}, err
	}
	if a.Location != string(registry.TempleRow) {
		return Result{}, ErrWrongLocation
	}
	balance := ledger.Money(a.Balance)
	price := ledger.Money(fee)
	if balance.Cmp(price) < 0 {
		return Result{}, ErrInsufficientFunds
	}

	tick := s.currentTick(ctx)
	err = s.store.Tx(ctx, func(tx *persistence.Tx) error {
		a.Balance = balance.Sub(price).String()
		a.LastActionTick = tick
		return tx.UpdateAgent(ctx, a)
	})
	if err != nil {
		return Result{}, err
	}

	ruling := ""
	if raw, err := s.store.GetState(ctx, registry.KeyRulingCult); err == nil {
		ruling = raw
	}
	return Result{
		Action: "oracle",
		Agent:  a.ID,
		Detail: map[string]string{"fee": fee},
		Flavor: llm.Prophecy(ctx, s.oracle, a.Name, ruling, tick),
	}, nil
}

// Register creates a new agent with the standard grubstake, standing in
// the Grand Bazaar.
func (s *Service) Register(ctx context.Context, name string) (registry.Agent, error) {
	const grubstake = "100.00"

	if name == "" {
		return registry.Agent{}, fmt.Errorf("agent name required")
	}
	a := registry.Agent{
		ID:        uuid.NewString(),
		Name:      name,
		Location:  string(registry.GrandBazaar),
		Balance:   grubstake,
		CreatedAt: s.now().Unix(),
	}
	if err := s.store.InsertAgent(ctx, a); err != nil {
		return registry.Agent{}, fmt.Errorf("register agent: %w", err)
	}
	return a, nil
}

// marketDistrict reports whether trading is allowed where the agent
// stands.
func marketDistrict(loc string) bool {
	return loc == string(registry.GrandBazaar) || loc == string(registry.Docks)
}
