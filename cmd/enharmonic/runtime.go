package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/AaronLay10/EnharmonicGap/internal/config"
	"github.com/AaronLay10/EnharmonicGap/internal/events"
	"github.com/AaronLay10/EnharmonicGap/internal/ledger"
	"github.com/AaronLay10/EnharmonicGap/internal/puzzle"
	"github.com/AaronLay10/EnharmonicGap/internal/storage/badger"
	"github.com/AaronLay10/EnharmonicGap/internal/storage/memory"
	"github.com/AaronLay10/EnharmonicGap/internal/storage/postgres"
)

// hostStore is what every storage driver provides.
type hostStore interface {
	puzzle.Ledger
	ledger.Bank
}

// runtime holds the hosting runtime selected by the storage driver. With the
// postgres driver the event log is persisted to the same database.
type runtime struct {
	cfg     *config.Config
	deriver *ledger.HMACDeriver
	store   hostStore
	pg      *postgres.Client
	close   func() error
}

func openRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	secret, err := config.ProgramSecret()
	if err != nil {
		return nil, err
	}
	d, err := ledger.NewHMACDeriver(cfg.Program.Namespace, secret)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, deriver: d, close: func() error { return nil }}
	switch cfg.Storage.Driver {
	case "memory":
		rt.store = memory.New(d)
	case "badger":
		bcfg := badger.DefaultConfig(cfg.Storage.Path)
		bcfg.Logger = log.New(os.Stderr, "badger: ", log.LstdFlags)
		s, err := badger.Open(bcfg, d)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		rt.store, rt.close = s, s.Close
	case "postgres":
		c, err := postgres.New(ctx, cfg.Program.ID, d)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.store, rt.pg = c, c
		events.SetStore(c)
		rt.close = func() error {
			events.SetStore(nil)
			return c.Close()
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	return rt, nil
}

func (rt *runtime) engine(opts ...puzzle.Option) (*puzzle.Engine, error) {
	return puzzle.NewEngine(rt.store, rt.deriver, rt.cfg.Program.MintID, opts...)
}

// bootstrap makes seedID usable for rewards: it initializes the seed and
// creates the configured mint with that seed as authority. Records that
// already exist are left alone.
func (rt *runtime) bootstrap(ctx context.Context, e *puzzle.Engine, seedID uint64) error {
	if _, err := e.Initialize(ctx, seedID, 0); err != nil && !errors.Is(err, puzzle.ErrAlreadyExists) {
		return err
	}
	err := rt.store.CreateMint(ctx, ledger.Mint{
		ID:        rt.cfg.Program.MintID,
		Authority: rt.deriver.Address(seedID),
	})
	if err != nil && !errors.Is(err, ledger.ErrMintExists) {
		return err
	}
	return nil
}
