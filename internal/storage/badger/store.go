package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/AaronLay10/EnharmonicGap/internal/ledger"
	"github.com/AaronLay10/EnharmonicGap/internal/puzzle"
)

var (
	_ puzzle.Ledger = (*Store)(nil)
	_ ledger.Bank   = (*Store)(nil)
)

const (
	statePrefix   = "state/"
	mintPrefix    = "mint/"
	accountPrefix = "account/"
)

// Store keeps puzzle states, mints and token accounts as JSON values.
// Writes are serialized so concurrent bridges never hit a transaction conflict.
type Store struct {
	db       *badger.DB
	gc       *gcRunner
	verifier ledger.Verifier

	mu sync.Mutex
}

// Open opens the database described by cfg.
func Open(cfg Config, v ledger.Verifier) (*Store, error) {
	if v == nil {
		return nil, errors.New("verifier is required")
	}

	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, verifier: v}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// Ping reports whether the database is open.
func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
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

	return s.db.Update(func(txn *badger.Txn) error {
		key := stateKey(addr)
		if exists, err := has(txn, key); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s", ledger.ErrRecordExists, addr)
		}
		return put(txn, key, st)
	})
}

func (s *Store) Load(ctx context.Context, addr ledger.Address) (puzzle.State, error) {
	if err := ctx.Err(); err != nil {
		return puzzle.State{}, err
	}

	var st puzzle.State
	err := s.db.View(func(txn *badger.Txn) error {
		return get(txn, stateKey(addr), &st, ledger.ErrRecordNotFound)
	})
	if err != nil {
		return puzzle.State{}, err
	}
	return st, nil
}

// Execute runs fn inside a single read-write transaction. The state and any
// mint fn makes are committed together, or discarded if fn fails.
func (s *Store) Execute(ctx context.Context, addr ledger.Address, fn func(tx puzzle.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		tx := &badgerTx{txn: txn, verifier: s.verifier}
		if err := get(txn, stateKey(addr), &tx.state, ledger.ErrRecordNotFound); err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.state.Validate(); err != nil {
			return err
		}
		return put(txn, stateKey(addr), tx.state)
	})
}

func (s *Store) CreateMint(ctx context.Context, m ledger.Mint) error {
	if err := ledger.ValidateMint(m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		key := mintKey(m.ID)
		if exists, err := has(txn, key); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s", ledger.ErrMintExists, m.ID)
		}
		return put(txn, key, m)
	})
}

func (s *Store) OpenAccount(ctx context.Context, a ledger.TokenAccount) error {
	if err := ledger.ValidateAccount(a); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if exists, err := has(txn, mintKey(a.MintID)); err != nil {
			return err
		} else if !exists {
			return fmt.Errorf("%w: %s", ledger.ErrMintNotFound, a.MintID)
		}

		key := accountKey(a.ID)
		if exists, err := has(txn, key); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s", ledger.ErrAccountExists, a.ID)
		}
		return put(txn, key, a)
	})
}

func (s *Store) MintInfo(ctx context.Context, id string) (ledger.Mint, error) {
	var m ledger.Mint
	err := s.db.View(func(txn *badger.Txn) error {
		return get(txn, mintKey(id), &m, ledger.ErrMintNotFound)
	})
	return m, err
}

func (s *Store) Account(ctx context.Context, id string) (ledger.TokenAccount, error) {
	var a ledger.TokenAccount
	err := s.db.View(func(txn *badger.Txn) error {
		return get(txn, accountKey(id), &a, ledger.ErrAccountNotFound)
	})
	return a, err
}

// badgerTx reads and writes through the enclosing transaction, so its mints
// become visible only when Execute commits.
type badgerTx struct {
	txn      *badger.Txn
	verifier ledger.Verifier
	state    puzzle.State
}

func (tx *badgerTx) State() *puzzle.State { return &tx.state }

func (tx *badgerTx) MintTo(ctx context.Context, mintID, accountID string, amount uint64, authority ledger.Capability) error {
	var m ledger.Mint
	if err := get(tx.txn, mintKey(mintID), &m, ledger.ErrMintNotFound); err != nil {
		return err
	}
	var a ledger.TokenAccount
	if err := get(tx.txn, accountKey(accountID), &a, ledger.ErrAccountNotFound); err != nil {
		return err
	}

	if err := ledger.ApplyMint(&m, &a, amount, authority, tx.verifier); err != nil {
		return err
	}
	if err := put(tx.txn, mintKey(mintID), m); err != nil {
		return err
	}
	return put(tx.txn, accountKey(accountID), a)
}

func stateKey(addr ledger.Address) []byte { return []byte(statePrefix + string(addr)) }
func mintKey(id string) []byte             { return []byte(mintPrefix + id) }
func accountKey(id string) []byte          { return []byte(accountPrefix + id) }

func has(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	return true, nil
}

// get decodes the value at key into v, returning notFound (wrapped) when absent.
func get(txn *badger.Txn, key []byte, v interface{}, notFound error) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", notFound, key)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

func put(txn *badger.Txn, key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, b)
}
