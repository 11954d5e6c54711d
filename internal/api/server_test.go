package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/bazaar/internal/actions"
	"github.com/talgya/bazaar/internal/entropy"
	"github.com/talgya/bazaar/internal/persistence"
	"github.com/talgya/bazaar/internal/registry"
)

func TestOracleBudgetScopedToOracleActions(t *testing.T) {
	store, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := actions.NewService(store, &entropy.Fixed{}, nil, nil, nil)
	srv := &Server{Store: store, Actions: svc}
	handler := srv.handleAction(NewRateLimiter(1, time.Hour))

	ctx := context.Background()
	a, err := svc.Register(ctx, "Seeker")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	a.Location = string(registry.TempleRow)
	if err := store.UpdateAgent(ctx, a); err != nil {
		t.Fatalf("move agent: %v", err)
	}

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/action", strings.NewReader(body))
		req.RemoteAddr = "192.0.2.1:5555"
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	oracle := fmt.Sprintf(`{"agent_id":%q,"type":"oracle"}`, a.ID)
	if rec := post(oracle); rec.Code != http.StatusOK {
		t.Fatalf("first consultation: %d %s", rec.Code, rec.Body)
	}
	rec := post(oracle)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second consultation: %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("no Retry-After header on 429")
	}

	// Ordinary actions never draw on the oracle budget.
	move := fmt.Sprintf(`{"agent_id":%q,"type":"move","location":"docks"}`, a.ID)
	if rec := post(move); rec.Code != http.StatusOK {
		t.Fatalf("move after oracle budget spent: %d %s", rec.Code, rec.Body)
	}
}
