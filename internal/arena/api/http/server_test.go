package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openagora/arena/internal/arena/core"
	"github.com/openagora/arena/internal/arena/decision"
	"github.com/openagora/arena/internal/arena/domain"
	"github.com/openagora/arena/internal/arena/economy"
	"github.com/openagora/arena/internal/arena/jobgen"
	"github.com/openagora/arena/internal/arena/payment"
	"github.com/openagora/arena/internal/arena/policy"
	"github.com/openagora/arena/internal/arena/quota"
	"github.com/openagora/arena/internal/arena/registry"
	"github.com/openagora/arena/internal/arena/round"
	"github.com/openagora/arena/internal/arena/storage/sqlite"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*Server, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	econ := economy.New(store, payment.NewStub(), economy.Config{})
	policies := policy.New(store, decision.NewStub(), policy.Config{
		ConsecutiveLossThreshold: 1000,
		QBRIntervalRounds:        1_000_000,
	})
	processor := round.New(store, registry.New(store), econ, policies, jobgen.New(store), round.Config{})
	guard := quota.New(store, quota.Config{Limit: 50})
	arena := core.New(store, processor, guard, core.Config{})

	srv, err := New(":0", arena, econ, AuthConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, store
}

func seedAgent(t *testing.T, store *sqlite.Store, agentID string) {
	t.Helper()
	now := time.Now().UTC()
	if err := store.PutAgent(context.Background(), domain.Agent{
		ID: agentID, Name: "agent " + agentID, WalletAddress: "0x" + agentID,
		Balance: decimal.NewFromInt(100), Reputation: 3.0,
		Status:       domain.AgentActive,
		TotalRevenue: decimal.Zero, TotalCosts: decimal.Zero,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed agent %s: %v", agentID, err)
	}
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func actorToken(t *testing.T, wallet string) string {
	t.Helper()
	token, err := IssueActorToken(testSecret, wallet, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, nethttp.MethodGet, "/healthz", "", nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAdvanceRequiresActor(t *testing.T) {
	srv, store := newTestServer(t)
	seedAgent(t, store, "a1")

	rec := doJSON(t, srv, nethttp.MethodPost, "/api/arena/advance", "", map[string]int{"rounds": 1})
	if rec.Code != nethttp.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, srv, nethttp.MethodPost, "/api/arena/advance", "not-a-token", map[string]int{"rounds": 1})
	if rec.Code != nethttp.StatusUnauthorized {
		t.Fatalf("status = %d for garbage token, want 401", rec.Code)
	}
}

func TestAdvanceHappyPath(t *testing.T) {
	srv, store := newTestServer(t)
	seedAgent(t, store, "a1")
	seedAgent(t, store, "a2")

	rec := doJSON(t, srv, nethttp.MethodPost, "/api/arena/advance", actorToken(t, "0xcaller"),
		map[string]int{"rounds": 2, "jobs_per_round": 2})
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}

	var resp struct {
		Success         bool  `json:"success"`
		RoundsCompleted int64 `json:"rounds_completed"`
		StartRound      int64 `json:"start_round"`
		EndRound        int64 `json:"end_round"`
		Rounds          []any `json:"rounds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.RoundsCompleted != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.StartRound != 1 || resp.EndRound != 2 {
		t.Fatalf("round range = %d..%d, want 1..2", resp.StartRound, resp.EndRound)
	}
	if len(resp.Rounds) != 2 {
		t.Fatalf("per-round results = %d, want 2", len(resp.Rounds))
	}
}

func TestRoundResponseCarriesPolicyEvents(t *testing.T) {
	result := round.Result{
		Round:        7,
		TotalRevenue: decimal.RequireFromString("3.25"),
		Events: []policy.Event{
			{AgentID: "a1", Trigger: domain.TriggerQBR, Version: 4, InvestorUpdate: "steady quarter"},
			{AgentID: "a2", Trigger: domain.TriggerException, Err: errors.New("producer unavailable")},
		},
	}

	resp := toRoundResponse(result)
	if len(resp.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(resp.Events))
	}
	if resp.Events[0].AgentID != "a1" || resp.Events[0].Trigger != "qbr" || resp.Events[0].Version != 4 {
		t.Fatalf("first event = %+v", resp.Events[0])
	}
	if resp.Events[0].InvestorUpdate != "steady quarter" {
		t.Fatalf("investor update = %q", resp.Events[0].InvestorUpdate)
	}
	// A failed revision surfaces its error; the version stays unset.
	if resp.Events[1].Error != "producer unavailable" || resp.Events[1].Version != 0 {
		t.Fatalf("second event = %+v", resp.Events[1])
	}
}

func TestAdvanceBusyMapsToConflict(t *testing.T) {
	srv, store := newTestServer(t)
	seedAgent(t, store, "a1")

	ok, err := store.AcquireLock(context.Background(), "other", time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}

	rec := doJSON(t, srv, nethttp.MethodPost, "/api/arena/advance", actorToken(t, "0xcaller"),
		map[string]int{"rounds": 1})
	if rec.Code != nethttp.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestAdvanceQuotaMapsToTooManyRequests(t *testing.T) {
	srv, store := newTestServer(t)
	seedAgent(t, store, "a1")

	if err := store.AppendUsage(context.Background(), "0xcaller", 50, time.Now().UTC()); err != nil {
		t.Fatalf("append usage: %v", err)
	}

	rec := doJSON(t, srv, nethttp.MethodPost, "/api/arena/advance", actorToken(t, "0xcaller"),
		map[string]int{"rounds": 1})
	if rec.Code != nethttp.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	var resp struct {
		Limit     int64 `json:"limit"`
		Remaining int64 `json:"remaining"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Limit != 50 || resp.Remaining != 0 {
		t.Fatalf("limit=%d remaining=%d, want 50/0", resp.Limit, resp.Remaining)
	}
}

func TestAdvanceNoAgentsMapsToUnprocessable(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, nethttp.MethodPost, "/api/arena/advance", actorToken(t, "0xcaller"),
		map[string]int{"rounds": 1})
	if rec.Code != nethttp.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestAutoRunRoundTrip(t *testing.T) {
	srv, store := newTestServer(t)

	rec := doJSON(t, srv, nethttp.MethodPut, "/api/arena/autorun", actorToken(t, "0xcaller"),
		map[string]any{"enabled": true, "interval_ms": 1000, "speed": 2.0})
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}

	persisted, err := store.AutoRun(context.Background())
	if err != nil {
		t.Fatalf("read autorun: %v", err)
	}
	if !persisted.Enabled || persisted.Interval != time.Second || persisted.Speed != 2.0 {
		t.Fatalf("persisted autorun = %+v", persisted)
	}

	rec = doJSON(t, srv, nethttp.MethodPut, "/api/arena/autorun", actorToken(t, "0xcaller"),
		map[string]any{"enabled": true, "interval_ms": 1})
	if rec.Code != nethttp.StatusBadRequest {
		t.Fatalf("status = %d for tiny interval, want 400", rec.Code)
	}
}

func TestStateAndSeasonsReadModels(t *testing.T) {
	srv, store := newTestServer(t)
	seedAgent(t, store, "a1")

	rec := doJSON(t, srv, nethttp.MethodPost, "/api/arena/advance", actorToken(t, "0xcaller"),
		map[string]int{"rounds": 1, "jobs_per_round": 1})
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("advance status = %d; body %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, srv, nethttp.MethodGet, "/api/arena/state", "", nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("state status = %d", rec.Code)
	}
	var state struct {
		CurrentRound int64 `json:"current_round"`
		Busy         bool  `json:"busy"`
		Agents       []any `json:"agents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.CurrentRound != 1 || state.Busy || len(state.Agents) != 1 {
		t.Fatalf("state = %+v", state)
	}

	rec = doJSON(t, srv, nethttp.MethodGet, "/api/arena/seasons", "", nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("seasons status = %d", rec.Code)
	}

	rec = doJSON(t, srv, nethttp.MethodGet, "/api/arena/snapshots?agent_id=a1", "", nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("snapshots status = %d", rec.Code)
	}
	var snaps struct {
		Snapshots []any `json:"snapshots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode snapshots: %v", err)
	}
	if len(snaps.Snapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps.Snapshots))
	}
}

func TestEscrowClaimEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	// Nothing accrued yet: conflict.
	rec := doJSON(t, srv, nethttp.MethodPost, "/api/arena/agents/a1/escrow/claim",
		actorToken(t, "0xinvestor"), nil)
	if rec.Code != nethttp.StatusConflict {
		t.Fatalf("status = %d for empty escrow, want 409", rec.Code)
	}

	if err := store.CreditEscrow(ctx, "a1", "0xinvestor", decimal.RequireFromString("2.5")); err != nil {
		t.Fatalf("credit escrow: %v", err)
	}

	rec = doJSON(t, srv, nethttp.MethodPost, "/api/arena/agents/a1/escrow/claim",
		actorToken(t, "0xinvestor"), nil)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Amount string `json:"amount"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Amount != "2.5" || resp.Status != "paid" {
		t.Fatalf("claim response = %+v", resp)
	}

	// Claiming again without new earnings is rejected.
	rec = doJSON(t, srv, nethttp.MethodPost, "/api/arena/agents/a1/escrow/claim",
		actorToken(t, "0xinvestor"), nil)
	if rec.Code != nethttp.StatusConflict {
		t.Fatalf("status = %d for repeat claim, want 409", rec.Code)
	}
}
