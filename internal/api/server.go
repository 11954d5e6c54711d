// Package api serves the Bazaar over HTTP. GET endpoints are public
// observation; POST endpoints mutate through the action and cult
// services; admin endpoints require a bearer token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/talgya/bazaar/internal/actions"
	"github.com/talgya/bazaar/internal/cult"
	"github.com/talgya/bazaar/internal/engine"
	"github.com/talgya/bazaar/internal/llm"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/registry"
)

// Server serves market state and accepts player actions.
type Server struct {
	Store     *persistence.Store
	Engine    *engine.Engine
	Ticker    *engine.Ticker
	Actions   *actions.Service
	Cults     *cult.Service
	Oracle    *llm.Client
	Sentiment *llm.SentimentField
	Feed      *Feed
	Port      int
	AdminKey  string // bearer token for admin endpoints; empty disables them

	// Cached Herald issue, regenerated at most once per tick.
	chronicleMu   sync.Mutex
	cachedIssue   *llm.Chronicle
	lastIssueTick int64
}

// Start begins serving in a goroutine.
func (s *Server) Start() {
	chronicleLimiter := NewRateLimiter(30, time.Hour)
	oracleLimiter := NewRateLimiter(60, time.Hour)

	mux := http.NewServeMux()

	// Public observation.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/commodities", s.handleCommodities)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgentDetail)
	mux.HandleFunc("/api/v1/cults", s.handleCults)
	mux.HandleFunc("/api/v1/offers", s.handleOffers)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/chronicle", RateLimitMiddleware(chronicleLimiter, s.handleChronicle))

	// Player mutations.
	mux.HandleFunc("/api/v1/register", s.postOnly(s.handleRegister))
	mux.HandleFunc("/api/v1/action", s.postOnly(s.handleAction(oracleLimiter)))
	mux.HandleFunc("/api/v1/cult/found", s.postOnly(s.handleCultFound))
	mux.HandleFunc("/api/v1/cult/join", s.postOnly(s.handleCultJoin))
	mux.HandleFunc("/api/v1/cult/leave", s.postOnly(s.handleCultLeave))
	mux.HandleFunc("/api/v1/cult/ritual", s.postOnly(s.handleRitual))
	mux.HandleFunc("/api/v1/cult/war", s.postOnly(s.handleWar))
	mux.HandleFunc("/api/v1/cult/truce", s.postOnly(s.handleTruce))

	// Live event stream.
	if s.Feed != nil {
		mux.Handle("/ws/events", s.Feed)
	}

	// Admin control plane.
	mux.HandleFunc("/api/v1/admin/tick", s.adminOnly(s.handleForceTick))
	mux.HandleFunc("/api/v1/admin/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/admin/archive", s.adminOnly(s.handleArchive))

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := http.ListenAndServe(addr, corsMiddleware(mux)); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware allows browser frontends listed in CORS_ORIGINS plus
// localhost dev servers.
func corsMiddleware(next http.Handler) http.Handler {
	allowed := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowed[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// adminOnly requires a POST with the admin bearer token.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no BAZAAR_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.AdminKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

// writeError maps domain sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, actions.ErrUnknownEntity),
		errors.Is(err, persistence.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, actions.ErrOnCooldown):
		status = http.StatusTooManyRequests
	case errors.Is(err, actions.ErrInsufficientFunds),
		errors.Is(err, actions.ErrInsufficientStock),
		errors.Is(err, actions.ErrWrongLocation),
		errors.Is(err, actions.ErrJailed),
		errors.Is(err, actions.ErrBadQuantity),
		errors.Is(err, cult.ErrAlreadyMember),
		errors.Is(err, cult.ErrNotMember),
		errors.Is(err, cult.ErrNameTaken),
		errors.Is(err, cult.ErrRitualClosed),
		errors.Is(err, cult.ErrAlreadyAtWar),
		errors.Is(err, cult.ErrNotAtWar),
		errors.Is(err, cult.ErrSelfWar),
		errors.Is(err, cult.ErrTargetRequired),
		errors.Is(err, persistence.ErrAlreadyJoined):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

// ── Observation ──────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tick := int64(0)
	if raw, err := s.Store.GetState(ctx, registry.KeyTick); err == nil {
		tick, _ = strconv.ParseInt(raw, 10, 64)
	}

	var ruling *registry.RulingCult
	if raw, err := s.Store.GetState(ctx, registry.KeyRulingCult); err == nil {
		var rc registry.RulingCult
		if json.Unmarshal([]byte(raw), &rc) == nil {
			ruling = &rc
		}
	}

	agents, _ := s.Store.ListAgents(ctx)
	cults, _ := s.Store.ListCults(ctx)
	commodities, _ := s.Store.ListCommodities(ctx)

	status := map[string]any{
		"name":        "The Bazaar",
		"tick":        tick,
		"ruling_cult": ruling,
		"agents":      len(agents),
		"cults":       len(cults),
		"commodities": len(commodities),
	}
	if s.Ticker != nil {
		status["speed"] = s.Ticker.Speed()
		status["tick_interval"] = s.Ticker.Interval.String()
	}
	writeJSON(w, status)
}

func (s *Server) handleCommodities(w http.ResponseWriter, r *http.Request) {
	commodities, err := s.Store.ListCommodities(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	type board struct {
		registry.Commodity
		Omen string `json:"omen,omitempty"`
	}
	tick := s.currentTick(r.Context())
	out := make([]board, 0, len(commodities))
	for i, c := range commodities {
		b := board{Commodity: c}
		if s.Sentiment != nil {
			b.Omen = llm.Omen(s.Sentiment.At(i, tick))
		}
		out = append(out, b)
	}
	writeJSON(w, out)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.Store.ListAgents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	type summary struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Location   string `json:"location"`
		Balance    string `json:"balance"`
		Reputation int64  `json:"reputation"`
		Jailed     bool   `json:"jailed"`
	}
	now := time.Now().Unix()
	out := make([]summary, 0, len(agents))
	for _, a := range agents {
		out = append(out, summary{
			ID:         a.ID,
			Name:       a.Name,
			Location:   a.Location,
			Balance:    a.Balance,
			Reputation: a.Reputation,
			Jailed:     a.Jailed(now),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/agent/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "usage: /api/v1/agent/:id", http.StatusBadRequest)
		return
	}

	a, err := s.Store.GetAgent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	inventory, err := s.Store.ListAgentInventory(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"agent":     a,
		"inventory": inventory,
	})
}

func (s *Server) handleCults(w http.ResponseWriter, r *http.Request) {
	cults, err := s.Store.ListCults(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, cults)
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.Store.ListOpenOffers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, offers)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	events, err := s.Store.ListRecentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleChronicle(w http.ResponseWriter, r *http.Request) {
	s.chronicleMu.Lock()
	defer s.chronicleMu.Unlock()

	ctx := r.Context()
	tick := s.currentTick(ctx)
	if s.cachedIssue != nil && s.lastIssueTick == tick {
		writeJSON(w, s.cachedIssue)
		return
	}

	data := &llm.ChronicleData{Tick: tick}

	if raw, err := s.Store.GetState(ctx, registry.KeyRulingCult); err == nil {
		var rc registry.RulingCult
		if json.Unmarshal([]byte(raw), &rc) == nil {
			data.RulingCult = rc.Name
		}
	}

	commodities, _ := s.Store.ListCommodities(ctx)
	for i, c := range commodities {
		line := llm.PriceLine{
			Name:      c.DisplayName,
			Price:     c.CurrentPrice,
			BasePrice: c.BasePrice,
		}
		if s.Sentiment != nil {
			line.Omen = llm.Omen(s.Sentiment.At(i, tick))
		}
		data.Prices = append(data.Prices, line)
	}

	cults, _ := s.Store.ListCults(ctx)
	for _, c := range cults {
		data.Cults = append(data.Cults, llm.CultLine{
			Name:      c.Name,
			Influence: c.Influence,
			AtWar:     c.AtWarWith != nil,
		})
	}

	events, _ := s.Store.ListRecentEvents(ctx, 10)
	for _, e := range events {
		data.Events = append(data.Events, e.Description)
	}

	issue := llm.GenerateChronicle(ctx, s.Oracle, data)
	s.cachedIssue = issue
	s.lastIssueTick = tick
	writeJSON(w, issue)
}

func (s *Server) currentTick(ctx context.Context) int64 {
	raw, err := s.Store.GetState(ctx, registry.KeyTick)
	if err != nil {
		return 0
	}
	tick, _ := strconv.ParseInt(raw, 10, 64)
	return tick
}

// ── Player mutations ─────────────────────────────────────────────────

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := s.Actions.Register(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, a)
}

// handleAction dispatches one player action by type. Every action shares
// the same envelope; unused fields are ignored. Only oracle consultations
// draw on the oracle rate budget.
func (s *Server) handleAction(oracleLimiter *RateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AgentID     string `json:"agent_id"`
			Type        string `json:"type"`
			Location    string `json:"location,omitempty"`
			Commodity   string `json:"commodity,omitempty"`
			ToCommodity string `json:"to_commodity,omitempty"`
			Quantity    string `json:"quantity,omitempty"`
			Price       string `json:"price,omitempty"`
			Counterfeit bool   `json:"counterfeit,omitempty"`
			TargetID    string `json:"target_id,omitempty"`
			OfferID     string `json:"offer_id,omitempty"`
			Wager       string `json:"wager,omitempty"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		ctx := r.Context()
		var (
			result actions.Result
			err    error
		)
		switch req.Type {
		case "move":
			result, err = s.Actions.Move(ctx, req.AgentID, req.Location)
		case "buy":
			result, err = s.Actions.Buy(ctx, req.AgentID, req.Commodity, req.Quantity)
		case "sell":
			result, err = s.Actions.Sell(ctx, req.AgentID, req.Commodity, req.Quantity, req.Counterfeit)
		case "craft":
			result, err = s.Actions.Craft(ctx, req.AgentID, req.Commodity, req.ToCommodity)
		case "offer":
			result, err = s.Actions.Offer(ctx, req.AgentID, req.Commodity, req.Quantity, req.Price, req.Counterfeit)
		case "accept-offer":
			result, err = s.Actions.AcceptOffer(ctx, req.AgentID, req.OfferID)
		case "revoke-offer":
			result, err = s.Actions.RevokeOffer(ctx, req.AgentID, req.OfferID)
		case "steal":
			result, err = s.Actions.Steal(ctx, req.AgentID, req.TargetID)
		case "forge":
			result, err = s.Actions.Forge(ctx, req.AgentID, req.Commodity)
		case "challenge":
			result, err = s.Actions.Challenge(ctx, req.AgentID, req.TargetID, req.Wager)
		case "oracle":
			if oracleLimiter != nil {
				if ip := clientIP(r); !oracleLimiter.Allow(ip) {
					w.Header().Set("Retry-After", strconv.Itoa(oracleLimiter.RetryAfter(ip)))
					http.Error(w, "oracle rate limit exceeded", http.StatusTooManyRequests)
					return
				}
			}
			result, err = s.Actions.Oracle(ctx, req.AgentID)
		default:
			http.Error(w, fmt.Sprintf("unknown action type %q", req.Type), http.StatusBadRequest)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, result)
	}
}

func (s *Server) handleCultFound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FounderID string  `json:"founder_id"`
		Name      string  `json:"name"`
		Doctrine  string  `json:"doctrine,omitempty"`
		TitheRate float64 `json:"tithe_rate"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	doctrine := strings.TrimSpace(req.Doctrine)
	if doctrine == "" {
		founder := req.FounderID
		if a, err := s.Store.GetAgent(ctx, req.FounderID); err == nil {
			founder = a.Name
		}
		doctrine = llm.Doctrine(ctx, s.Oracle, req.Name, founder)
	}

	c, err := s.Cults.Found(ctx, req.FounderID, strings.TrimSpace(req.Name), doctrine, req.TitheRate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, c)
}

func (s *Server) handleCultJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
		CultID  string `json:"cult_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Cults.Join(r.Context(), req.AgentID, req.CultID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "joined"})
}

func (s *Server) handleCultLeave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Cults.Leave(r.Context(), req.AgentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "left"})
}

func (s *Server) handleRitual(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID  string  `json:"agent_id"`
		CultID   string  `json:"cult_id"`
		Type     string  `json:"type"`
		Target   *string `json:"target,omitempty"`
		RitualID string  `json:"ritual_id,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		out cult.Outcome
		err error
	)
	if req.RitualID != "" {
		out, err = s.Cults.JoinRitual(r.Context(), req.RitualID, req.AgentID)
	} else {
		out, err = s.Cults.Request(r.Context(), req.CultID, req.Type, req.Target, req.AgentID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleWar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CultID  string `json:"cult_id"`
		EnemyID string `json:"enemy_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Cults.DeclareWar(r.Context(), req.CultID, req.EnemyID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "at war"})
}

func (s *Server) handleTruce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CultID string `json:"cult_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Cults.Truce(r.Context(), req.CultID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "truce"})
}

// ── Admin ────────────────────────────────────────────────────────────

func (s *Server) handleForceTick(w http.ResponseWriter, r *http.Request) {
	tick, err := s.Engine.RunTick(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"tick": tick})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Speed < 0 || req.Speed > 1000 {
		http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
		return
	}
	if s.Ticker == nil {
		http.Error(w, "no scheduler running", http.StatusServiceUnavailable)
		return
	}
	s.Ticker.SetSpeed(req.Speed)
	slog.Info("speed changed", "speed", req.Speed)
	writeJSON(w, map[string]float64{"speed": s.Ticker.Speed()})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BeforeTick int64  `json:"before_tick"`
		Path       string `json:"path"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" || req.BeforeTick <= 0 {
		http.Error(w, "before_tick and path required", http.StatusBadRequest)
		return
	}
	n, err := s.Store.ArchiveEventsBefore(r.Context(), req.BeforeTick, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"archived": n})
}
