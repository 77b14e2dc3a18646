package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AaronLay10/EnharmonicGap/internal/ledger"
	"github.com/AaronLay10/EnharmonicGap/internal/puzzle"
	"github.com/AaronLay10/EnharmonicGap/internal/storage/memory"
	"github.com/AaronLay10/EnharmonicGap/internal/version"
)

const testSeed = 65

// clearTLSEnvServer prevents TLS initialization from trying to load nonexistent certs.
func clearTLSEnvServer(t *testing.T) {
	t.Setenv("ENHARMONIC_TLS_CERT", "")
	t.Setenv("ENHARMONIC_TLS_KEY", "")
	t.Setenv("ENHARMONIC_TLS_CERT_FILE", "")
	t.Setenv("ENHARMONIC_TLS_KEY_FILE", "")
}

// newTestServer wires a server to an in-memory store with one initialized
// seed, a "gap" mint authorized by that seed and an empty "user" account.
func newTestServer(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	resetAuth()
	ctx := context.Background()

	d, err := ledger.NewHMACDeriver(ledger.DefaultNamespace, []byte("api-test-secret"))
	if err != nil {
		t.Fatalf("failed to create deriver: %v", err)
	}
	store := memory.New(d)
	if err := store.CreateMint(ctx, ledger.Mint{ID: "gap", Authority: d.Address(testSeed)}); err != nil {
		t.Fatalf("failed to create mint: %v", err)
	}
	if err := store.OpenAccount(ctx, ledger.TokenAccount{ID: "user", MintID: "gap", Owner: "user"}); err != nil {
		t.Fatalf("failed to open account: %v", err)
	}

	engine, err := puzzle.NewEngine(store, d, "gap")
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if _, err := engine.Initialize(ctx, testSeed, 65); err != nil {
		t.Fatalf("failed to initialize seed: %v", err)
	}

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	return NewServer(engine, store, metrics).Handler(), store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	clearTLSEnvServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", resp.Status)
	}
	if resp.Version != version.Version {
		t.Errorf("expected version %q, got %q", version.Version, resp.Version)
	}
}

func TestMetricsRoute(t *testing.T) {
	h, _ := newTestServer(t)

	w := do(t, h, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "# metrics") {
		t.Errorf("metrics handler not mounted: %q", w.Body.String())
	}
}

func TestCreateSeed(t *testing.T) {
	h, _ := newTestServer(t)

	w := do(t, h, "POST", "/seeds", `{"seed_id": 201, "difficulty": 3}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var st puzzle.State
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if st.SeedID != 201 || !st.IsActive || st.TotalBridges != 0 {
		t.Errorf("unexpected state: %+v", st)
	}

	w = do(t, h, "POST", "/seeds", `{"seed_id": 201}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate seed, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != puzzle.CodeAlreadyExists {
		t.Errorf("expected code %q, got %q", puzzle.CodeAlreadyExists, resp.Code)
	}
}

func TestCreateSeedRequiresAdmin(t *testing.T) {
	h, _ := newTestServer(t)
	enableTestAuth()
	defer resetAuth()

	r := httptest.NewRequest("POST", "/seeds", strings.NewReader(`{"seed_id": 7}`))
	r.SetBasicAuth("player", "plsecret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for player, got %d", w.Code)
	}

	r = httptest.NewRequest("POST", "/seeds", strings.NewReader(`{"seed_id": 7}`))
	r.SetBasicAuth("admin", "secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Errorf("expected 201 for admin, got %d", w.Code)
	}
}

func TestCreateSeedValidation(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing seed", `{"difficulty": 1}`},
		{"invalid json", `{"seed_id":`},
		{"unknown field", `{"seed_id": 1, "room": "x"}`},
		{"negative seed", `{"seed_id": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", "/seeds", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if resp := decodeError(t, w); resp.Code != "invalid_request" {
				t.Errorf("expected invalid_request, got %q", resp.Code)
			}
		})
	}
}

func TestGetSeed(t *testing.T) {
	h, _ := newTestServer(t)

	w := do(t, h, "GET", "/seeds/65", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var st puzzle.State
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if st.SeedID != testSeed || st.FragmentData != puzzle.FragmentData {
		t.Errorf("unexpected state: %+v", st)
	}

	if w := do(t, h, "GET", "/seeds/999", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown seed, got %d", w.Code)
	}
	if w := do(t, h, "GET", "/seeds/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric seed, got %d", w.Code)
	}
}

func TestBridgeSuccess(t *testing.T) {
	h, store := newTestServer(t)

	body := `{"context":"This is harmonic minor context","interval_name":"Augmented Second","resolution":"resolves upward to E","salt":12345,"token_account":"user"}`
	w := do(t, h, "POST", "/seeds/65/bridge", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var receipt puzzle.Receipt
	if err := json.NewDecoder(w.Body).Decode(&receipt); err != nil {
		t.Fatalf("failed to decode receipt: %v", err)
	}
	if receipt.Tag != puzzle.TagA || receipt.Reward != 65 || receipt.ID == "" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}

	acct, err := store.Account(context.Background(), "user")
	if err != nil {
		t.Fatalf("failed to load account: %v", err)
	}
	if acct.Amount != 65 {
		t.Errorf("expected balance 65, got %d", acct.Amount)
	}

	w = do(t, h, "GET", "/accounts/user", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for account, got %d", w.Code)
	}
	var got ledger.TokenAccount
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode account: %v", err)
	}
	if got.Amount != 65 {
		t.Errorf("expected account amount 65, got %d", got.Amount)
	}
}

func TestBridgeErrorStatuses(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		body      string
		status    int
		code      string
		retryable bool
	}{
		{
			name:   "invalid salt",
			path:   "/seeds/65/bridge",
			body:   `{"context":"This is harmonic minor context","interval_name":"Augmented Second","resolution":"resolves upward to E","salt":0,"token_account":"user"}`,
			status: http.StatusBadRequest,
			code:   puzzle.CodeInvalidProof,
		},
		{
			name:      "incoherent",
			path:      "/seeds/65/bridge",
			body:      `{"context":"random words","interval_name":"Augmented Second","resolution":"sideways","salt":9,"token_account":"user"}`,
			status:    http.StatusUnprocessableEntity,
			code:      puzzle.CodeContextualIncoherence,
			retryable: true,
		},
		{
			name:   "unknown seed",
			path:   "/seeds/404/bridge",
			body:   `{"context":"This is harmonic minor context","interval_name":"Augmented Second","resolution":"resolves upward to E","salt":1,"token_account":"user"}`,
			status: http.StatusNotFound,
			code:   puzzle.CodeSeedNotFound,
		},
		{
			name:   "missing account",
			path:   "/seeds/65/bridge",
			body:   `{"context":"This is harmonic minor context","interval_name":"Augmented Second","resolution":"resolves upward to E","salt":1,"token_account":"nobody"}`,
			status: http.StatusFailedDependency,
			code:   puzzle.CodeMintRejected,
		},
		{
			name:   "token account required",
			path:   "/seeds/65/bridge",
			body:   `{"context":"x","interval_name":"y","resolution":"z","salt":1}`,
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestServer(t)
			w := do(t, h, "POST", tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			resp := decodeError(t, w)
			if resp.Code != tt.code {
				t.Errorf("expected code %q, got %q", tt.code, resp.Code)
			}
			if resp.Retryable != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, resp.Retryable)
			}
		})
	}
}

func TestBridgeRejectionLeavesStateUnchanged(t *testing.T) {
	h, _ := newTestServer(t)

	body := `{"context":"random words","interval_name":"Augmented Second","resolution":"sideways","salt":9,"token_account":"user"}`
	if w := do(t, h, "POST", "/seeds/65/bridge", body); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}

	w := do(t, h, "GET", "/seeds/65", "")
	var st puzzle.State
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if st.TotalBridges != 0 || st.PathwayACount != 0 {
		t.Errorf("state changed after rejection: %+v", st)
	}
}

func TestScoreIsDryRun(t *testing.T) {
	h, store := newTestServer(t)

	body := `{"context":"This is harmonic minor context","interval_name":"Augmented Second","resolution":"resolves upward to E"}`
	w := do(t, h, "POST", "/score", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp ScoreResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode score: %v", err)
	}
	if resp.Total != 80 || !resp.Coherent || resp.Threshold != puzzle.CoherenceThreshold {
		t.Errorf("unexpected score: %+v", resp)
	}
	if resp.Pathway == nil || resp.Pathway.Tag != puzzle.TagA {
		t.Errorf("expected pathway A, got %+v", resp.Pathway)
	}

	acct, _ := store.Account(context.Background(), "user")
	if acct.Amount != 0 {
		t.Errorf("score must not mint, balance is %d", acct.Amount)
	}
}

func TestScoreUnrecognizedInterval(t *testing.T) {
	h, _ := newTestServer(t)

	w := do(t, h, "POST", "/score", `{"context":"a","interval_name":"tritone","resolution":"b"}`)
	var resp ScoreResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode score: %v", err)
	}
	if resp.Pathway != nil || resp.Coherent {
		t.Errorf("expected no pathway and incoherent, got %+v", resp)
	}
}

func TestAccountNotFound(t *testing.T) {
	h, _ := newTestServer(t)

	w := do(t, h, "GET", "/accounts/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != "account_not_found" {
		t.Errorf("expected account_not_found, got %q", resp.Code)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	h, _ := newTestServer(t)

	big := bytes.Repeat([]byte("a"), maxBodyBytes+1)
	body := `{"context":"` + string(big) + `","interval_name":"x","resolution":"y"}`
	if w := do(t, h, "POST", "/score", body); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized body, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{puzzle.CodeAlreadyExists, http.StatusConflict},
		{puzzle.CodeSeedInactive, http.StatusConflict},
		{puzzle.CodeSeedNotFound, http.StatusNotFound},
		{puzzle.CodeInvalidProof, http.StatusBadRequest},
		{puzzle.CodeContextualIncoherence, http.StatusUnprocessableEntity},
		{puzzle.CodeUnrecognizedInterpretation, http.StatusUnprocessableEntity},
		{puzzle.CodeMintRejected, http.StatusFailedDependency},
		{puzzle.CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.code); got != tt.status {
			t.Errorf("statusFor(%q) = %d, want %d", tt.code, got, tt.status)
		}
	}
}

func TestEventsStoreUnavailable(t *testing.T) {
	h, _ := newTestServer(t)

	w := do(t, h, "GET", "/events?source=store", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without an event store, got %d", w.Code)
	}
}
