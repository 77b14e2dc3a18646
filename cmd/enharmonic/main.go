// Package main provides the enharmonic CLI: it serves the puzzle over HTTP
// and MQTT and exposes the engine, the token primitive and the audit as
// one-shot commands.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/EnharmonicGap/internal/config"
)

// Global flags
var (
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "enharmonic",
	Short: "Bridge the enharmonic gap",
	Long: `enharmonic hosts the Enharmonic Gap puzzle.

A seed is initialized once. Claims interpreting the gap are scored for
harmonic coherence, classified into one of three pathways and, when they
hold, rewarded from the configured mint.

Examples:
  enharmonic serve --config enharmonic.yaml
  enharmonic init 65
  enharmonic mint create --authority-seed 65
  enharmonic account open alice
  enharmonic bridge 65 --account alice --context "harmonic minor" \
      --interval "Augmented Second" --resolution "resolves up to E" --salt 7
  enharmonic score --context "C minor" --interval "Minor Third" --resolution "stable"`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to enharmonic.yaml (defaults when empty)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(mintCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// printResult writes v as indented JSON when --json is set, otherwise calls
// text to render it.
func printResult(v interface{}, text func()) error {
	if !jsonOutput {
		text()
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseSeed(arg string) (uint64, error) {
	seedID, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("seed id must be an unsigned integer: %q", arg)
	}
	return seedID, nil
}
