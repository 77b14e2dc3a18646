// Package memory provides an in-process hosting runtime for puzzle records
// and token balances. All writes are serialized by a single store lock.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/AaronLay10/EnharmonicGap/internal/ledger"
	"github.com/AaronLay10/EnharmonicGap/internal/puzzle"
)

var (
	_ puzzle.Ledger = (*Store)(nil)
	_ ledger.Bank   = (*Store)(nil)
)

// Store keeps puzzle states, mints and token accounts in maps.
type Store struct {
	mu       sync.Mutex
	verifier ledger.Verifier
	states   map[ledger.Address]puzzle.State
	mints    map[string]ledger.Mint
	accounts map[string]ledger.TokenAccount
}

// New creates an empty store that checks mint capabilities with v.
func New(v ledger.Verifier) *Store {
	return &Store{
		verifier: v,
		states:   make(map[ledger.Address]puzzle.State),
		mints:    make(map[string]ledger.Mint),
		accounts: make(map[string]ledger.TokenAccount),
	}
}

func (s *Store) Create(ctx context.Context, addr ledger.Address, st puzzle.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := st.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[addr]; ok {
		return fmt.Errorf("%w: %s", ledger.ErrRecordExists, addr)
	}
	s.states[addr] = st
	return nil
}

func (s *Store) Load(ctx context.Context, addr ledger.Address) (puzzle.State, error) {
	if err := ctx.Err(); err != nil {
		return puzzle.State{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[addr]
	if !ok {
		return puzzle.State{}, fmt.Errorf("%w: %s", ledger.ErrRecordNotFound, addr)
	}
	return st, nil
}

// Execute runs fn against a copy of the record and commits the copy and any
// staged mint only if fn succeeds.
func (s *Store) Execute(ctx context.Context, addr ledger.Address, fn func(tx puzzle.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrRecordNotFound, addr)
	}

	tx := &memTx{
		store:    s,
		state:    st,
		mints:    make(map[string]ledger.Mint),
		accounts: make(map[string]ledger.TokenAccount),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.state.Validate(); err != nil {
		return err
	}

	s.states[addr] = tx.state
	for id, m := range tx.mints {
		s.mints[id] = m
	}
	for id, a := range tx.accounts {
		s.accounts[id] = a
	}
	return nil
}

func (s *Store) CreateMint(ctx context.Context, m ledger.Mint) error {
	if err := ledger.ValidateMint(m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mints[m.ID]; ok {
		return fmt.Errorf("%w: %s", ledger.ErrMintExists, m.ID)
	}
	s.mints[m.ID] = m
	return nil
}

func (s *Store) OpenAccount(ctx context.Context, a ledger.TokenAccount) error {
	if err := ledger.ValidateAccount(a); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mints[a.MintID]; !ok {
		return fmt.Errorf("%w: %s", ledger.ErrMintNotFound, a.MintID)
	}
	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("%w: %s", ledger.ErrAccountExists, a.ID)
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) MintInfo(ctx context.Context, id string) (ledger.Mint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mints[id]
	if !ok {
		return ledger.Mint{}, fmt.Errorf("%w: %s", ledger.ErrMintNotFound, id)
	}
	return m, nil
}

func (s *Store) Account(ctx context.Context, id string) (ledger.TokenAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ledger.TokenAccount{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	return a, nil
}

// memTx stages writes until Execute commits them. The store lock is held
// for its whole lifetime.
type memTx struct {
	store    *Store
	state    puzzle.State
	mints    map[string]ledger.Mint
	accounts map[string]ledger.TokenAccount
}

func (tx *memTx) State() *puzzle.State { return &tx.state }

func (tx *memTx) MintTo(ctx context.Context, mintID, accountID string, amount uint64, authority ledger.Capability) error {
	m, ok := tx.mints[mintID]
	if !ok {
		if m, ok = tx.store.mints[mintID]; !ok {
			return fmt.Errorf("%w: %s", ledger.ErrMintNotFound, mintID)
		}
	}
	a, ok := tx.accounts[accountID]
	if !ok {
		if a, ok = tx.store.accounts[accountID]; !ok {
			return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
		}
	}

	if err := ledger.ApplyMint(&m, &a, amount, authority, tx.store.verifier); err != nil {
		return err
	}
	tx.mints[mintID] = m
	tx.accounts[accountID] = a
	return nil
}
