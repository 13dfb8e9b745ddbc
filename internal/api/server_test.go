package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"OrchestratorSiphon/internal/auth"
	"OrchestratorSiphon/internal/siphon"
)

type fakeController struct {
	snap   siphon.Snapshot
	wakes  int
	paused bool
}

func (f *fakeController) Snapshot() siphon.Snapshot {
	snap := f.snap
	snap.Paused = f.paused
	return snap
}
func (f *fakeController) Wake()        { f.wakes++ }
func (f *fakeController) Pause()       { f.paused = true }
func (f *fakeController) Resume()      { f.paused = false }
func (f *fakeController) Paused() bool { return f.paused }

func newTestServer() (*Server, *fakeController) {
	return newGuardedServer(nil)
}

func newGuardedServer(guard *auth.Guard) (*Server, *fakeController) {
	ctrl := &fakeController{snap: siphon.Snapshot{
		Ticks: 4,
		Round: siphon.RoundSnapshot{Round: 3100, Locked: true, Fetched: true},
		Accounts: []siphon.AccountSnapshot{{
			Name:         "orch",
			Address:      "0xAbCdEf0000000000000000000000000000000001",
			PendingStake: siphon.AmountView{Wei: "5", Amount: "0.000000000000000005", Fetched: true},
		}},
	}}
	return NewServer(":0", ctrl, guard), ctrl
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestAccountEndpoints(t *testing.T) {
	server, _ := newTestServer()

	rec := do(t, server, http.MethodGet, "/api/v1/accounts")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var accounts []siphon.AccountSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &accounts); err != nil || len(accounts) != 1 {
		t.Fatalf("decode accounts: %v %s", err, rec.Body.String())
	}

	rec = do(t, server, http.MethodGet, "/api/v1/accounts/0xabcdef0000000000000000000000000000000001")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"wei":"5"`) {
		t.Fatalf("lookup by lowercase address failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, server, http.MethodGet, "/api/v1/accounts/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = do(t, server, http.MethodGet, "/api/v1/round")
	var round siphon.RoundSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &round); err != nil || round.Round != 3100 || !round.Locked {
		t.Fatalf("unexpected round %s", rec.Body.String())
	}
}

func TestControlEndpoints(t *testing.T) {
	server, ctrl := newTestServer()

	if rec := do(t, server, http.MethodPost, "/api/v1/tick"); rec.Code != http.StatusAccepted || ctrl.wakes != 1 {
		t.Fatalf("tick should wake the engine: %d wakes=%d", rec.Code, ctrl.wakes)
	}
	if rec := do(t, server, http.MethodPost, "/api/v1/pause"); rec.Code != http.StatusOK || !ctrl.paused {
		t.Fatalf("pause failed: %d", rec.Code)
	}
	if rec := do(t, server, http.MethodPost, "/api/v1/tick"); rec.Code != http.StatusConflict {
		t.Fatalf("tick while paused should conflict, got %d", rec.Code)
	}
	rec := do(t, server, http.MethodGet, "/healthz")
	if !strings.Contains(rec.Body.String(), `"status":"paused"`) {
		t.Fatalf("health should report paused: %s", rec.Body.String())
	}
	if rec := do(t, server, http.MethodPost, "/api/v1/resume"); rec.Code != http.StatusOK || ctrl.paused {
		t.Fatalf("resume failed: %d", rec.Code)
	}
	if rec := do(t, server, http.MethodGet, "/api/v1/tick"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET tick should be rejected, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer()
	do(t, server, http.MethodGet, "/healthz")
	rec := do(t, server, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "siphon_http_requests_total") {
		t.Fatalf("metrics should include http counters: %d", rec.Code)
	}
}

func TestControlEndpointsRequireToken(t *testing.T) {
	server, ctrl := newGuardedServer(auth.NewGuard("s3cret"))

	if rec := do(t, server, http.MethodPost, "/api/v1/pause"); rec.Code != http.StatusUnauthorized || ctrl.paused {
		t.Fatalf("pause without token must be rejected, got %d", rec.Code)
	}
	if rec := do(t, server, http.MethodGet, "/api/v1/accounts"); rec.Code != http.StatusOK {
		t.Fatalf("read endpoints stay open, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pause", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !ctrl.paused {
		t.Fatalf("pause with token failed: %d", rec.Code)
	}
}
