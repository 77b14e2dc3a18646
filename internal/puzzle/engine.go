package puzzle

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AaronLay10/EnharmonicGap/internal/events"
	"github.com/AaronLay10/EnharmonicGap/internal/ledger"
)

const tracerName = "github.com/AaronLay10/EnharmonicGap/internal/puzzle"

// Ledger is the hosting runtime that owns puzzle records.
// Create must fail with ledger.ErrRecordExists when addr is taken; Load and
// Execute fail with ledger.ErrRecordNotFound when it is absent. Execute runs
// fn with exclusive access to the record and commits the state and any mint
// made through the Tx together, or nothing if fn returns an error.
type Ledger interface {
	Create(ctx context.Context, addr ledger.Address, st State) error
	Load(ctx context.Context, addr ledger.Address) (State, error)
	Execute(ctx context.Context, addr ledger.Address, fn func(tx Tx) error) error
}

// Tx is a single atomic unit of work against one puzzle record.
type Tx interface {
	// State returns the working copy of the record.
	State() *State
	// MintTo credits amount units of mintID to accountID, authorized by authority.
	MintTo(ctx context.Context, mintID, accountID string, amount uint64, authority ledger.Capability) error
}

// Observer is notified after each bridge attempt has committed or failed.
type Observer interface {
	BridgeCompleted(r Receipt)
	BridgeRejected(seedID uint64, err error)
}

// Receipt describes a committed bridge.
type Receipt struct {
	ID             string `json:"receipt_id"`
	SeedID         uint64 `json:"seed_id"`
	PathwayLabel   string `json:"pathway_label"`
	Tag            Tag    `json:"tag"`
	Reward         uint64 `json:"reward"`
	CoherenceScore uint8  `json:"coherence_score"`
	TokenAccount   string `json:"token_account"`
}

// Engine initializes puzzle states and bridges claims against them.
type Engine struct {
	ledger    Ledger
	deriver   ledger.Deriver
	mintID    string
	observers []Observer
	tracer    trace.Tracer

	// score is swapped in tests to pin scores at the threshold.
	score func(Claim) uint8
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers an observer for bridge outcomes.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithTracerProvider makes the engine create spans from tp instead of the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewEngine creates an engine that mints rewards from mintID.
func NewEngine(l Ledger, d ledger.Deriver, mintID string, opts ...Option) (*Engine, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if d == nil {
		return nil, errors.New("deriver is required")
	}
	if mintID == "" {
		return nil, errors.New("mint id is required")
	}

	e := &Engine{
		ledger:  l,
		deriver: d,
		mintID:  mintID,
		tracer:  otel.Tracer(tracerName),
		score:   Score,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Address returns the record address for seedID.
func (e *Engine) Address(seedID uint64) ledger.Address {
	return e.deriver.Address(seedID)
}

// MintID returns the mint rewards are paid from.
func (e *Engine) MintID() string {
	return e.mintID
}

// Initialize creates the puzzle state for seedID.
func (e *Engine) Initialize(ctx context.Context, seedID uint64, difficulty uint8) (State, error) {
	ctx, span := e.tracer.Start(ctx, "puzzle.Initialize", trace.WithAttributes(seedAttr(seedID)))
	defer span.End()

	addr := e.deriver.Address(seedID)
	st := NewState(seedID, difficulty)

	if err := e.ledger.Create(ctx, addr, st); err != nil {
		if errors.Is(err, ledger.ErrRecordExists) {
			err = fmt.Errorf("%w: seed %d", ErrAlreadyExists, seedID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, Code(err))
		return State{}, err
	}

	events.Emit("info", "seed.initialized",
		fmt.Sprintf("Seed %d initialized: the Enharmonic Gap is open.", seedID),
		map[string]interface{}{
			"seed_id":    seedID,
			"difficulty": difficulty,
			"address":    addr.String(),
		})

	return st, nil
}

// State returns the current puzzle state for seedID.
func (e *Engine) State(ctx context.Context, seedID uint64) (State, error) {
	st, err := e.ledger.Load(ctx, e.deriver.Address(seedID))
	if err != nil {
		if errors.Is(err, ledger.ErrRecordNotFound) {
			return State{}, fmt.Errorf("%w: seed %d", ErrSeedNotFound, seedID)
		}
		return State{}, err
	}
	return st, nil
}

// Bridge evaluates claim against the puzzle for seedID and, if it holds,
// mints the pathway reward to tokenAccount and records the bridge.
// Validation, scoring, classification, the mint and the counter update run
// inside one ledger transaction.
func (e *Engine) Bridge(ctx context.Context, seedID uint64, tokenAccount string, claim Claim) (Receipt, error) {
	ctx, span := e.tracer.Start(ctx, "puzzle.Bridge", trace.WithAttributes(seedAttr(seedID)))
	defer span.End()

	addr, authority := e.deriver.Derive(seedID)

	var receipt Receipt
	err := e.ledger.Execute(ctx, addr, func(tx Tx) error {
		st := tx.State()
		if !st.IsActive {
			return ErrSeedInactive
		}
		if claim.Salt == 0 {
			return ErrInvalidProof
		}

		score := e.score(claim)
		if score < CoherenceThreshold {
			return fmt.Errorf("%w: score %d < %d", ErrContextualIncoherence, score, CoherenceThreshold)
		}

		pathway, err := Classify(claim.IntervalName)
		if err != nil {
			return err
		}

		if err := tx.MintTo(ctx, e.mintID, tokenAccount, pathway.Reward, authority); err != nil {
			return fmt.Errorf("%w: %w", ErrMintRejected, err)
		}
		if err := st.Record(pathway.Tag); err != nil {
			return err
		}

		receipt = Receipt{
			ID:             uuid.NewString(),
			SeedID:         seedID,
			PathwayLabel:   pathway.Label,
			Tag:            pathway.Tag,
			Reward:         pathway.Reward,
			CoherenceScore: score,
			TokenAccount:   tokenAccount,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrRecordNotFound) {
			err = fmt.Errorf("%w: seed %d", ErrSeedNotFound, seedID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, Code(err))
		e.rejected(seedID, err)
		return Receipt{}, err
	}

	span.SetAttributes(
		attribute.String("puzzle.pathway", string(receipt.Tag)),
		attribute.Int("puzzle.coherence_score", int(receipt.CoherenceScore)),
	)
	e.completed(receipt)
	return receipt, nil
}

func (e *Engine) completed(r Receipt) {
	events.Emit("info", "bridge.completed",
		fmt.Sprintf("Gap bridged via %s! Reward: %d", r.PathwayLabel, r.Reward),
		map[string]interface{}{
			"receipt_id":      r.ID,
			"seed_id":         r.SeedID,
			"pathway":         r.PathwayLabel,
			"tag":             string(r.Tag),
			"reward":          r.Reward,
			"coherence_score": r.CoherenceScore,
			"token_account":   r.TokenAccount,
		})
	for _, o := range e.observers {
		o.BridgeCompleted(r)
	}
}

func (e *Engine) rejected(seedID uint64, err error) {
	events.Emit("warning", "bridge.rejected", err.Error(), map[string]interface{}{
		"seed_id": seedID,
		"code":    Code(err),
	})
	for _, o := range e.observers {
		o.BridgeRejected(seedID, err)
	}
}

func seedAttr(seedID uint64) attribute.KeyValue {
	return attribute.String("puzzle.seed_id", strconv.FormatUint(seedID, 10))
}
