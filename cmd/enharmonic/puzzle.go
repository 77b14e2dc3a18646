package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/EnharmonicGap/internal/puzzle"
)

var initDifficulty uint8

var initCmd = &cobra.Command{
	Use:   "init <seed>",
	Short: "Initialize the puzzle state for a seed",
	Args:  cobra.ExactArgs(1),
	RunE:  runInit,
}

var stateCmd = &cobra.Command{
	Use:   "state <seed>",
	Short: "Show the puzzle state for a seed",
	Args:  cobra.ExactArgs(1),
	RunE:  runState,
}

// Claim flags shared by bridge and score.
var (
	claimContext    string
	claimInterval   string
	claimResolution string
	claimSalt       uint64
	bridgeAccount   string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge <seed>",
	Short: "Submit a claim against a seed",
	Long: `Submit a claim against a seed. A coherent claim with a recognized
interval is rewarded to --account and recorded in the seed's counters.

Examples:
  enharmonic bridge 65 --account alice --context "We are in C minor" \
      --interval "Minor Third" --resolution "stable step to the triad" --salt 42`,
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a claim without submitting it",
	Args:  cobra.NoArgs,
	RunE:  runScore,
}

var classifyCmd = &cobra.Command{
	Use:   "classify <interval-name>",
	Short: "Show which pathway an interval name maps to",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassify,
}

func init() {
	initCmd.Flags().Uint8Var(&initDifficulty, "difficulty", 0, "Difficulty recorded with the state")

	for _, cmd := range []*cobra.Command{bridgeCmd, scoreCmd} {
		cmd.Flags().StringVar(&claimContext, "context", "", "Harmonic context of the claim")
		cmd.Flags().StringVar(&claimInterval, "interval", "", "Interval name the claim asserts")
		cmd.Flags().StringVar(&claimResolution, "resolution", "", "How the interval resolves")
	}
	bridgeCmd.Flags().Uint64Var(&claimSalt, "salt", 0, "Proof salt (must be non-zero)")
	bridgeCmd.Flags().StringVar(&bridgeAccount, "account", "", "Token account receiving the reward")
	_ = bridgeCmd.MarkFlagRequired("account")
}

func runInit(cmd *cobra.Command, args []string) error {
	seedID, err := parseSeed(args[0])
	if err != nil {
		return err
	}
	rt, e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	st, err := e.Initialize(cmd.Context(), seedID, initDifficulty)
	if err != nil {
		return err
	}
	return printResult(st, func() {
		fmt.Printf("Seed %d initialized at %s\n", seedID, e.Address(seedID))
		fmt.Println("The Enharmonic Gap is open.")
	})
}

func runState(cmd *cobra.Command, args []string) error {
	seedID, err := parseSeed(args[0])
	if err != nil {
		return err
	}
	rt, e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	st, err := e.State(cmd.Context(), seedID)
	if err != nil {
		return err
	}
	return printResult(st, func() {
		fmt.Printf("Seed:       %d\n", st.SeedID)
		fmt.Printf("Active:     %v\n", st.IsActive)
		fmt.Printf("Difficulty: %d\n", st.Difficulty)
		fmt.Printf("Fragment:   %s\n", st.FragmentData)
		fmt.Printf("Bridges:    %d (A=%d B=%d C=%d)\n",
			st.TotalBridges, st.PathwayACount, st.PathwayBCount, st.PathwayCCount)
	})
}

func runBridge(cmd *cobra.Command, args []string) error {
	seedID, err := parseSeed(args[0])
	if err != nil {
		return err
	}
	rt, e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	r, err := e.Bridge(cmd.Context(), seedID, bridgeAccount, puzzle.Claim{
		Context:      claimContext,
		IntervalName: claimInterval,
		Resolution:   claimResolution,
		Salt:         claimSalt,
	})
	if err != nil {
		if puzzle.IsRetryableByCaller(err) {
			return fmt.Errorf("%s: %w (reword the claim and try again)", puzzle.Code(err), err)
		}
		return fmt.Errorf("%s: %w", puzzle.Code(err), err)
	}
	return printResult(r, func() {
		fmt.Printf("Gap bridged via %s\n", r.PathwayLabel)
		fmt.Printf("Coherence: %d\n", r.CoherenceScore)
		fmt.Printf("Reward:    %d -> %s\n", r.Reward, r.TokenAccount)
		fmt.Printf("Receipt:   %s\n", r.ID)
	})
}

type scoreResult struct {
	puzzle.Breakdown
	Threshold int             `json:"threshold"`
	Coherent  bool            `json:"coherent"`
	Pathway   *puzzle.Pathway `json:"pathway,omitempty"`
}

func runScore(cmd *cobra.Command, args []string) error {
	b := puzzle.Evaluate(puzzle.Claim{
		Context:      claimContext,
		IntervalName: claimInterval,
		Resolution:   claimResolution,
	})
	res := scoreResult{
		Breakdown: b,
		Threshold: puzzle.CoherenceThreshold,
		Coherent:  b.Total >= puzzle.CoherenceThreshold,
	}
	if p, err := puzzle.Classify(claimInterval); err == nil {
		res.Pathway = &p
	}

	return printResult(res, func() {
		fmt.Printf("Context:    %2d  %s\n", b.ContextPoints, b.ContextRule)
		fmt.Printf("Resolution: %2d  %s\n", b.ResolutionPoints, b.ResolutionRule)
		fmt.Printf("Effort:     %2d\n", b.EffortPoints)
		fmt.Printf("Total:      %d / %d needed\n", b.Total, puzzle.CoherenceThreshold)
		switch {
		case !res.Coherent:
			fmt.Println("Verdict:    incoherent")
		case res.Pathway == nil:
			fmt.Println("Verdict:    coherent, but the interval is not recognized")
		default:
			fmt.Printf("Verdict:    %s (reward %d)\n", res.Pathway.Label, res.Pathway.Reward)
		}
	})
}

func runClassify(cmd *cobra.Command, args []string) error {
	p, err := puzzle.Classify(args[0])
	if err != nil {
		return err
	}
	return printResult(p, func() {
		fmt.Printf("%s (tag %s, reward %d)\n", p.Label, p.Tag, p.Reward)
	})
}

func openEngine(cmd *cobra.Command) (*runtime, *puzzle.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	rt, err := openRuntime(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	e, err := rt.engine()
	if err != nil {
		rt.close()
		return nil, nil, err
	}
	return rt, e, nil
}
