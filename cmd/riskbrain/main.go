package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "riskbrain"
	version = "v1.0.0"
)

var (
	configPath string
	apiBase    string
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Signal risk-gating engine",
		Version: version,
		Long: `riskbrain gates every trade signal through an ordered veto pipeline:
governance lockdown, tail risk, Bayesian-calibrated confidence, phase
limits, leverage caps, and correlation exposure. Approved signals leave
as HMAC-signed intents on the execution link.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&apiBase, "api", "http://127.0.0.1:8090", "operator API base URL")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine",
		Long:  "Start the risk engine: operator API, heartbeat, and execution link.",
		RunE:  runEngine,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show engine status",
		RunE:  runStatus,
	}

	armCmd := &cobra.Command{
		Use:   "arm",
		Short: "Arm live execution",
		RunE:  runArm,
	}
	disarmCmd := &cobra.Command{
		Use:   "disarm",
		Short: "Disarm live execution",
		RunE:  runDisarm,
	}
	resetCmd := &cobra.Command{
		Use:   "reset-breaker",
		Short: "Reset an active circuit breaker",
		RunE:  runResetBreaker,
	}
	for _, cmd := range []*cobra.Command{armCmd, disarmCmd, resetCmd} {
		cmd.Flags().String("operator", "", "operator id (required)")
		_ = cmd.MarkFlagRequired("operator")
	}

	outcomeCmd := &cobra.Command{
		Use:   "record-outcome",
		Short: "Record a realized trade outcome",
		Long:  "Feed a closed trade's PnL into the loss-streak breaker and the confidence calibrator.",
		RunE:  runRecordOutcome,
	}
	outcomeCmd.Flags().String("symbol", "", "instrument symbol (required)")
	outcomeCmd.Flags().String("pattern", "", "signal pattern the trade came from")
	outcomeCmd.Flags().Float64("pnl", 0, "realized PnL (required)")
	_ = outcomeCmd.MarkFlagRequired("symbol")
	_ = outcomeCmd.MarkFlagRequired("pnl")

	rootCmd.AddCommand(runCmd, statusCmd, armCmd, disarmCmd, resetCmd, outcomeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initLogging configures zerolog: pretty console output on a TTY or
// when forced, JSON otherwise.
func initLogging(level string, pretty bool) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	if pretty || term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
