package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/AaronLay10/EnharmonicGap/internal/ledger"
	"github.com/AaronLay10/EnharmonicGap/internal/puzzle"
)

var (
	_ puzzle.Ledger = (*Client)(nil)
	_ ledger.Bank   = (*Client)(nil)
)

// u64 columns are NUMERIC(20,0) so the full uint64 range round-trips.
const ledgerSchema = `
		CREATE TABLE IF NOT EXISTS puzzle_states (
			address          TEXT PRIMARY KEY,
			seed_id          NUMERIC(20,0) NOT NULL,
			difficulty       SMALLINT NOT NULL,
			total_bridges    NUMERIC(20,0) NOT NULL,
			pathway_a_count  NUMERIC(20,0) NOT NULL,
			pathway_b_count  NUMERIC(20,0) NOT NULL,
			pathway_c_count  NUMERIC(20,0) NOT NULL,
			is_active        BOOLEAN NOT NULL,
			fragment_data    TEXT NOT NULL,
			CHECK (total_bridges = pathway_a_count + pathway_b_count + pathway_c_count)
		);
		CREATE TABLE IF NOT EXISTS token_mints (
			id          TEXT PRIMARY KEY,
			authority   TEXT NOT NULL,
			decimals    SMALLINT NOT NULL,
			supply      NUMERIC(20,0) NOT NULL,
			supply_cap  NUMERIC(20,0) NOT NULL
		);
		CREATE TABLE IF NOT EXISTS token_accounts (
			id       TEXT PRIMARY KEY,
			mint_id  TEXT NOT NULL REFERENCES token_mints(id),
			owner    TEXT NOT NULL,
			amount   NUMERIC(20,0) NOT NULL
		);
`

func (c *Client) Create(ctx context.Context, addr ledger.Address, st puzzle.State) error {
	if err := st.Validate(); err != nil {
		return err
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO puzzle_states (address, seed_id, difficulty, total_bridges,
			pathway_a_count, pathway_b_count, pathway_c_count, is_active, fragment_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO NOTHING
	`, string(addr), u64(st.SeedID), int(st.Difficulty), u64(st.TotalBridges),
		u64(st.PathwayACount), u64(st.PathwayBCount), u64(st.PathwayCCount), st.IsActive, st.FragmentData)
	if err != nil {
		return fmt.Errorf("insert puzzle state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrRecordExists, addr)
	}
	return nil
}

func (c *Client) Load(ctx context.Context, addr ledger.Address) (puzzle.State, error) {
	row := c.db.QueryRowContext(ctx, selectState, string(addr))
	return scanState(row, addr)
}

// Execute locks the puzzle row, runs fn, and commits the row update together
// with any mint fn made in one SQL transaction.
func (c *Client) Execute(ctx context.Context, addr ledger.Address, fn func(tx puzzle.Tx) error) error {
	sqlTx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	st, err := scanState(sqlTx.QueryRowContext(ctx, selectState+" FOR UPDATE", string(addr)), addr)
	if err != nil {
		return err
	}

	tx := &pgTx{tx: sqlTx, verifier: c.verifier, state: st}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.state.Validate(); err != nil {
		return err
	}

	_, err = sqlTx.ExecContext(ctx, `
		UPDATE puzzle_states
		SET total_bridges = $2, pathway_a_count = $3, pathway_b_count = $4,
			pathway_c_count = $5, is_active = $6
		WHERE address = $1
	`, string(addr), u64(tx.state.TotalBridges), u64(tx.state.PathwayACount),
		u64(tx.state.PathwayBCount), u64(tx.state.PathwayCCount), tx.state.IsActive)
	if err != nil {
		return fmt.Errorf("update puzzle state: %w", err)
	}

	return sqlTx.Commit()
}

func (c *Client) CreateMint(ctx context.Context, m ledger.Mint) error {
	if err := ledger.ValidateMint(m); err != nil {
		return err
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO token_mints (id, authority, decimals, supply, supply_cap)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, string(m.Authority), int(m.Decimals), u64(m.Supply), u64(m.SupplyCap))
	if err != nil {
		return fmt.Errorf("insert mint: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrMintExists, m.ID)
	}
	return nil
}

func (c *Client) OpenAccount(ctx context.Context, a ledger.TokenAccount) error {
	if err := ledger.ValidateAccount(a); err != nil {
		return err
	}

	if _, err := c.MintInfo(ctx, a.MintID); err != nil {
		return err
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO token_accounts (id, mint_id, owner, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.MintID, a.Owner, u64(a.Amount))
	if err != nil {
		return fmt.Errorf("insert token account: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrAccountExists, a.ID)
	}
	return nil
}

func (c *Client) MintInfo(ctx context.Context, id string) (ledger.Mint, error) {
	return scanMint(c.db.QueryRowContext(ctx, selectMint, id), id)
}

func (c *Client) Account(ctx context.Context, id string) (ledger.TokenAccount, error) {
	return scanAccount(c.db.QueryRowContext(ctx, selectAccount, id), id)
}

type pgTx struct {
	tx       *sql.Tx
	verifier ledger.Verifier
	state    puzzle.State
}

func (t *pgTx) State() *puzzle.State { return &t.state }

func (t *pgTx) MintTo(ctx context.Context, mintID, accountID string, amount uint64, authority ledger.Capability) error {
	m, err := scanMint(t.tx.QueryRowContext(ctx, selectMint+" FOR UPDATE", mintID), mintID)
	if err != nil {
		return err
	}
	a, err := scanAccount(t.tx.QueryRowContext(ctx, selectAccount+" FOR UPDATE", accountID), accountID)
	if err != nil {
		return err
	}

	if err := ledger.ApplyMint(&m, &a, amount, authority, t.verifier); err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx, `UPDATE token_mints SET supply = $2 WHERE id = $1`, m.ID, u64(m.Supply)); err != nil {
		return fmt.Errorf("update mint supply: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE token_accounts SET amount = $2 WHERE id = $1`, a.ID, u64(a.Amount)); err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}
	return nil
}

const (
	selectState = `
		SELECT seed_id, difficulty, total_bridges, pathway_a_count, pathway_b_count,
			pathway_c_count, is_active, fragment_data
		FROM puzzle_states WHERE address = $1`
	selectMint = `
		SELECT id, authority, decimals, supply, supply_cap
		FROM token_mints WHERE id = $1`
	selectAccount = `
		SELECT id, mint_id, owner, amount
		FROM token_accounts WHERE id = $1`
)

func scanState(row *sql.Row, addr ledger.Address) (puzzle.State, error) {
	var st puzzle.State
	var seed, total, a, b, c string
	var difficulty int
	err := row.Scan(&seed, &difficulty, &total, &a, &b, &c, &st.IsActive, &st.FragmentData)
	if errors.Is(err, sql.ErrNoRows) {
		return puzzle.State{}, fmt.Errorf("%w: %s", ledger.ErrRecordNotFound, addr)
	}
	if err != nil {
		return puzzle.State{}, fmt.Errorf("read puzzle state: %w", err)
	}

	st.Difficulty = uint8(difficulty)
	if err := parseU64s([]string{seed, total, a, b, c},
		&st.SeedID, &st.TotalBridges, &st.PathwayACount, &st.PathwayBCount, &st.PathwayCCount); err != nil {
		return puzzle.State{}, fmt.Errorf("read puzzle state: %w", err)
	}
	return st, nil
}

func scanMint(row *sql.Row, id string) (ledger.Mint, error) {
	var m ledger.Mint
	var authority, supply, supplyCap string
	var decimals int
	err := row.Scan(&m.ID, &authority, &decimals, &supply, &supplyCap)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Mint{}, fmt.Errorf("%w: %s", ledger.ErrMintNotFound, id)
	}
	if err != nil {
		return ledger.Mint{}, fmt.Errorf("read mint: %w", err)
	}

	m.Authority = ledger.Address(authority)
	m.Decimals = uint8(decimals)
	if err := parseU64s([]string{supply, supplyCap}, &m.Supply, &m.SupplyCap); err != nil {
		return ledger.Mint{}, fmt.Errorf("read mint: %w", err)
	}
	return m, nil
}

func scanAccount(row *sql.Row, id string) (ledger.TokenAccount, error) {
	var a ledger.TokenAccount
	var amount string
	err := row.Scan(&a.ID, &a.MintID, &a.Owner, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.TokenAccount{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, id)
	}
	if err != nil {
		return ledger.TokenAccount{}, fmt.Errorf("read token account: %w", err)
	}
	if err := parseU64s([]string{amount}, &a.Amount); err != nil {
		return ledger.TokenAccount{}, fmt.Errorf("read token account: %w", err)
	}
	return a, nil
}

// u64 renders v for a NUMERIC parameter; lib/pq has no uint64 encoding.
func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseU64s(in []string, out ...*uint64) error {
	if len(in) != len(out) {
		return fmt.Errorf("parse numeric: %d values for %d targets", len(in), len(out))
	}
	for i, s := range in {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", s, err)
		}
		*out[i] = v
	}
	return nil
}
