package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AaronLay10/EnharmonicGap/internal/events"
	"github.com/AaronLay10/EnharmonicGap/internal/ledger"
	"github.com/AaronLay10/EnharmonicGap/internal/puzzle"
	"github.com/AaronLay10/EnharmonicGap/internal/storage/postgres"
	"github.com/AaronLay10/EnharmonicGap/internal/version"
)

const maxBodyBytes = 64 << 10

// Engine is the puzzle surface the HTTP handlers drive. *puzzle.Engine
// satisfies it.
type Engine interface {
	Initialize(ctx context.Context, seedID uint64, difficulty uint8) (puzzle.State, error)
	State(ctx context.Context, seedID uint64) (puzzle.State, error)
	Bridge(ctx context.Context, seedID uint64, tokenAccount string, claim puzzle.Claim) (puzzle.Receipt, error)
}

// eventQuerier is implemented by the Postgres event store.
type eventQuerier interface {
	Query(limit int) ([]postgres.EventRow, error)
}

// Server serves the puzzle API.
type Server struct {
	engine   Engine
	bank     ledger.Bank
	metrics  http.Handler
	validate *validator.Validate
}

// NewServer creates a server. metrics may be nil to disable /metrics.
func NewServer(engine Engine, bank ledger.Bank, metrics http.Handler) *Server {
	return &Server{
		engine:   engine,
		bank:     bank,
		metrics:  metrics,
		validate: validator.New(),
	}
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Version   string `json:"version"`
	Timestamp string `json:"ts"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	OK        bool   `json:"ok"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

type CreateSeedRequest struct {
	SeedID     *uint64 `json:"seed_id" validate:"required"`
	Difficulty uint8   `json:"difficulty"`
}

type BridgeRequest struct {
	Context      string `json:"context" validate:"max=4096"`
	IntervalName string `json:"interval_name" validate:"max=256"`
	Resolution   string `json:"resolution" validate:"max=4096"`
	Salt         uint64 `json:"salt"`
	TokenAccount string `json:"token_account" validate:"required,max=128"`
}

type ScoreRequest struct {
	Context      string `json:"context" validate:"max=4096"`
	IntervalName string `json:"interval_name" validate:"max=256"`
	Resolution   string `json:"resolution" validate:"max=4096"`
}

type ScoreResponse struct {
	puzzle.Breakdown
	Threshold int             `json:"threshold"`
	Coherent  bool            `json:"coherent"`
	Pathway   *puzzle.Pathway `json:"pathway,omitempty"`
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler)
	mux.HandleFunc("GET /events", RequireAnyRole(eventsHandler))
	mux.HandleFunc("GET /ws/events", RequireAnyRole(wsEventsHandler))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	mux.HandleFunc("POST /seeds", RequireAdmin(s.createSeedHandler))
	mux.HandleFunc("GET /seeds/{id}", RequireAnyRole(s.seedHandler))
	mux.HandleFunc("POST /seeds/{id}/bridge", RequireAnyRole(s.bridgeHandler))
	mux.HandleFunc("POST /score", RequireAnyRole(s.scoreHandler))
	mux.HandleFunc("GET /accounts/{id}", RequireAnyRole(s.accountHandler))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "enharmonic",
		Hostname:  host,
		Version:   version.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// eventsHandler returns the in-memory ring buffer, or persisted rows when
// ?source=store is given and a Postgres store is configured.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") != "store" {
		writeJSON(w, http.StatusOK, events.Snapshot())
		return
	}

	q, ok := events.GetStore().(eventQuerier)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Code: "store_unavailable", Error: "no event store configured"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := q.Query(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: puzzle.CodeInternal, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) createSeedHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSeedRequest
	if !s.decode(w, r, &req) {
		return
	}

	st, err := s.engine.Initialize(r.Context(), *req.SeedID, req.Difficulty)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) seedHandler(w http.ResponseWriter, r *http.Request) {
	seedID, ok := seedParam(w, r)
	if !ok {
		return
	}

	st, err := s.engine.State(r.Context(), seedID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) bridgeHandler(w http.ResponseWriter, r *http.Request) {
	seedID, ok := seedParam(w, r)
	if !ok {
		return
	}
	var req BridgeRequest
	if !s.decode(w, r, &req) {
		return
	}

	events.Emit("info", "claim.received", "", map[string]interface{}{
		"seed_id":       seedID,
		"token_account": req.TokenAccount,
		"transport":     "http",
	})

	receipt, err := s.engine.Bridge(r.Context(), seedID, req.TokenAccount, puzzle.Claim{
		Context:      req.Context,
		IntervalName: req.IntervalName,
		Resolution:   req.Resolution,
		Salt:         req.Salt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// scoreHandler evaluates a claim without touching any state.
func (s *Server) scoreHandler(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if !s.decode(w, r, &req) {
		return
	}

	b := puzzle.Evaluate(puzzle.Claim{
		Context:      req.Context,
		IntervalName: req.IntervalName,
		Resolution:   req.Resolution,
	})
	resp := ScoreResponse{
		Breakdown: b,
		Threshold: puzzle.CoherenceThreshold,
		Coherent:  b.Total >= puzzle.CoherenceThreshold,
	}
	if p, err := puzzle.Classify(req.IntervalName); err == nil {
		resp.Pathway = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) accountHandler(w http.ResponseWriter, r *http.Request) {
	a, err := s.bank.Account(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Code: "account_not_found", Error: err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// decode reads a JSON body into v and validates it, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "invalid_request", Error: "invalid JSON: " + err.Error()})
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "invalid_request", Error: err.Error()})
		return false
	}
	return true
}

func seedParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	seedID, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "invalid_request", Error: "seed id must be an unsigned integer"})
		return 0, false
	}
	return seedID, true
}

// statusFor maps an error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case puzzle.CodeAlreadyExists, puzzle.CodeSeedInactive:
		return http.StatusConflict
	case puzzle.CodeSeedNotFound:
		return http.StatusNotFound
	case puzzle.CodeInvalidProof:
		return http.StatusBadRequest
	case puzzle.CodeContextualIncoherence, puzzle.CodeUnrecognizedInterpretation:
		return http.StatusUnprocessableEntity
	case puzzle.CodeMintRejected:
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := puzzle.Code(err)
	writeJSON(w, statusFor(code), ErrorResponse{
		Code:      code,
		Error:     err.Error(),
		Retryable: puzzle.IsRetryableByCaller(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves the API on port until ctx is cancelled, then shuts
// down gracefully. TLS is used when configured with InitTLS.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	tlsCfg, err := LoadTLSConfig()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         tlsCfg,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			log.Printf("API listening on %s (TLS)\n", srv.Addr)
			err = srv.ListenAndServeTLS("", "")
		} else {
			log.Printf("API listening on %s\n", srv.Addr)
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events.CloseAllSubscribers()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
