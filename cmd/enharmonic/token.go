package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/EnharmonicGap/internal/events"
	"github.com/AaronLay10/EnharmonicGap/internal/ledger"
)

var (
	mintID            string
	mintAuthoritySeed uint64
	mintDecimals      uint8
	mintSupplyCap     uint64

	accountMint  string
	accountOwner string
)

var mintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Manage the reward mint",
}

var mintCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a mint whose authority is a seed's record",
	Long: `Create a mint. Only bridges against --authority-seed can mint from it;
bridges against any other seed are rejected with mint_rejected.`,
	Args: cobra.NoArgs,
	RunE: runMintCreate,
}

var mintShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a mint and its supply",
	Args:  cobra.NoArgs,
	RunE:  runMintShow,
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage token accounts",
}

var accountOpenCmd = &cobra.Command{
	Use:   "open <account-id>",
	Short: "Open an empty token account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountOpen,
}

var accountShowCmd = &cobra.Command{
	Use:   "show <account-id>",
	Short: "Show a token account balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountShow,
}

func init() {
	mintCmd.PersistentFlags().StringVar(&mintID, "id", "", "Mint id (defaults to program.mint_id)")
	mintCreateCmd.Flags().Uint64Var(&mintAuthoritySeed, "authority-seed", 0, "Seed whose record is the mint authority")
	mintCreateCmd.Flags().Uint8Var(&mintDecimals, "decimals", 0, "Display decimals")
	mintCreateCmd.Flags().Uint64Var(&mintSupplyCap, "cap", 0, "Supply cap (0 for unlimited)")
	_ = mintCreateCmd.MarkFlagRequired("authority-seed")
	mintCmd.AddCommand(mintCreateCmd, mintShowCmd)

	accountOpenCmd.Flags().StringVar(&accountMint, "mint", "", "Mint id (defaults to program.mint_id)")
	accountOpenCmd.Flags().StringVar(&accountOwner, "owner", "", "Owner label (defaults to the account id)")
	accountCmd.AddCommand(accountOpenCmd, accountShowCmd)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func runMintCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	m := ledger.Mint{
		ID:        orDefault(mintID, cfg.Program.MintID),
		Authority: rt.deriver.Address(mintAuthoritySeed),
		Decimals:  mintDecimals,
		SupplyCap: mintSupplyCap,
	}
	if err := rt.store.CreateMint(cmd.Context(), m); err != nil {
		return err
	}
	events.Emit("info", "mint.created", "", map[string]interface{}{
		"mint_id":        m.ID,
		"authority":      m.Authority.String(),
		"authority_seed": mintAuthoritySeed,
		"supply_cap":     m.SupplyCap,
	})
	return printResult(m, func() {
		fmt.Printf("Mint %s created (authority %s)\n", m.ID, m.Authority)
	})
}

func runMintShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	m, err := rt.store.MintInfo(cmd.Context(), orDefault(mintID, cfg.Program.MintID))
	if err != nil {
		return err
	}
	return printResult(m, func() {
		fmt.Printf("Mint:      %s\n", m.ID)
		fmt.Printf("Authority: %s\n", m.Authority)
		fmt.Printf("Supply:    %d\n", m.Supply)
		if m.SupplyCap > 0 {
			fmt.Printf("Cap:       %d\n", m.SupplyCap)
		}
	})
}

func runAccountOpen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	a := ledger.TokenAccount{
		ID:     args[0],
		MintID: orDefault(accountMint, cfg.Program.MintID),
		Owner:  orDefault(accountOwner, args[0]),
	}
	if err := rt.store.OpenAccount(cmd.Context(), a); err != nil {
		return err
	}
	events.Emit("info", "account.opened", "", map[string]interface{}{
		"account_id": a.ID,
		"mint_id":    a.MintID,
		"owner":      a.Owner,
	})
	return printResult(a, func() {
		fmt.Printf("Account %s opened for mint %s\n", a.ID, a.MintID)
	})
}

func runAccountShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	a, err := rt.store.Account(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printResult(a, func() {
		fmt.Printf("%s: %d %s\n", a.ID, a.Amount, a.MintID)
	})
}
