package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
)

var (
	ErrMintNotFound      = errors.New("mint not found")
	ErrMintExists        = errors.New("mint already exists")
	ErrAccountNotFound   = errors.New("token account not found")
	ErrAccountExists     = errors.New("token account already exists")
	ErrInvalidCapability = errors.New("capability proof rejected")
	ErrAuthorityMismatch = errors.New("mint authority mismatch")
	ErrMintMismatch      = errors.New("token account belongs to a different mint")
	ErrSupplyCap         = errors.New("mint supply cap exceeded")
	ErrOverflow          = errors.New("amount overflow")
)

// Mint is a fungible-token definition. SupplyCap of zero means unlimited.
type Mint struct {
	ID        string  `json:"id"`
	Authority Address `json:"authority"`
	Decimals  uint8   `json:"decimals"`
	Supply    uint64  `json:"supply"`
	SupplyCap uint64  `json:"supply_cap,omitempty"`
}

// TokenAccount holds a balance of a single mint.
type TokenAccount struct {
	ID     string `json:"id"`
	MintID string `json:"mint_id"`
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

// Verifier checks capability proofs.
type Verifier interface {
	Verify(c Capability) bool
}

// Bank is the administrative side of the token primitive that every hosting
// runtime exposes for bootstrapping mints and accounts.
type Bank interface {
	CreateMint(ctx context.Context, m Mint) error
	OpenAccount(ctx context.Context, a TokenAccount) error
	MintInfo(ctx context.Context, id string) (Mint, error)
	Account(ctx context.Context, id string) (TokenAccount, error)
}

// ApplyMint credits amount units of m to acct, authorized by authority.
// On error neither record is modified.
func ApplyMint(m *Mint, acct *TokenAccount, amount uint64, authority Capability, v Verifier) error {
	if m == nil {
		return ErrMintNotFound
	}
	if acct == nil {
		return ErrAccountNotFound
	}
	if v == nil || !v.Verify(authority) {
		return ErrInvalidCapability
	}
	if authority.Address != m.Authority {
		return fmt.Errorf("%w: mint %s is owned by %s", ErrAuthorityMismatch, m.ID, m.Authority)
	}
	if acct.MintID != m.ID {
		return fmt.Errorf("%w: account %s holds %s", ErrMintMismatch, acct.ID, acct.MintID)
	}

	supply, carry := bits.Add64(m.Supply, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: mint supply", ErrOverflow)
	}
	if m.SupplyCap > 0 && supply > m.SupplyCap {
		return fmt.Errorf("%w: %d > %d", ErrSupplyCap, supply, m.SupplyCap)
	}
	balance, carry := bits.Add64(acct.Amount, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: account balance", ErrOverflow)
	}

	m.Supply = supply
	acct.Amount = balance
	return nil
}

// ValidateMint checks the fields required to create a mint.
func ValidateMint(m Mint) error {
	if m.ID == "" {
		return errors.New("mint id is required")
	}
	if m.Authority == "" {
		return errors.New("mint authority is required")
	}
	if m.SupplyCap > 0 && m.Supply > m.SupplyCap {
		return fmt.Errorf("%w: initial supply %d > cap %d", ErrSupplyCap, m.Supply, m.SupplyCap)
	}
	return nil
}

// ValidateAccount checks the fields required to open a token account.
func ValidateAccount(a TokenAccount) error {
	if a.ID == "" {
		return errors.New("account id is required")
	}
	if a.MintID == "" {
		return errors.New("account mint is required")
	}
	return nil
}
