package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"conclave/cmd/conclave/chamber"
	"conclave/internal/config"
	"conclave/internal/council"
	"conclave/internal/logging"
	"conclave/internal/perception"
	"conclave/internal/session"
	"conclave/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	homeDir    string
	timeout    time.Duration

	// Logger for non-interactive commands
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "conclave",
	Short: "conclave - a council of five AI personas that debates your questions",
	Long: `conclave convenes a council of five AI personas, each bound to a different
backend model. A gatekeeper screens every query for worthiness; queries that
pass are debated in parallel, synthesized into a scripted exchange by the
chairman, and played back one speaker at a time until the final decree.

Three rejected queries and the council disbands permanently.

Run without arguments to enter the interactive chamber.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(resolveHome()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: file logging unavailable: %v\n", err)
		}

		// The interactive chamber has its own UI; zap is for subcommands.
		if cmd.Use == "conclave" && cmd.CalledAs() == "conclave" {
			return nil
		}

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, st, err := buildController(nil)
		if err != nil {
			return err
		}
		defer st.Close()
		return chamber.Run(ctrl)
	},
}

// askCmd runs a single debate without the interactive chamber
var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Submit one query and print the full debate",
	Long: `Runs the complete pipeline for a single query: gatekeeper screening,
parallel stance gathering, chairman synthesis. The scripted debate is printed
immediately without the chamber's timed playback.

Rejected queries still count as strikes.

Example:
  conclave ask "Should I rewrite my project in Rust?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

// membersCmd lists the council roster
var membersCmd = &cobra.Command{
	Use:   "members",
	Short: "List the council seats and their model bindings",
	RunE:  listMembers,
}

// strikesCmd shows the current strike count
var strikesCmd = &cobra.Command{
	Use:   "strikes",
	Short: "Show the current strike count",
	RunE:  showStrikes,
}

// absolveCmd is the out-of-band escape hatch for a sealed chamber. Hidden on
// purpose; the ban is meant to feel permanent.
var absolveCmd = &cobra.Command{
	Use:    "absolve",
	Short:  "Reset the strike counter and unseal the chamber",
	Hidden: true,
	RunE:   runAbsolve,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ~/.conclave/config.json)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "Conclave home directory (default: ~/.conclave)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Overall operation timeout for non-interactive commands")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(membersCmd)
	rootCmd.AddCommand(strikesCmd)
	rootCmd.AddCommand(absolveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveHome() string {
	if homeDir != "" {
		return homeDir
	}
	return config.DefaultHome()
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(resolveHome(), "config.json")
}

// buildController assembles the full pipeline: config, model gateway, the
// three council stages, the strike store, and the session controller. A nil
// clock means real-time playback.
func buildController(clock session.Clock) (*session.Controller, *store.StrikeStore, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, err
	}

	orCfg := perception.DefaultOpenRouterConfig(cfg.OpenRouterAPIKey)
	orCfg.Timeout = cfg.CallTimeout()
	if cfg.SiteURL != "" {
		orCfg.SiteURL = cfg.SiteURL
	}
	if cfg.SiteName != "" {
		orCfg.SiteName = cfg.SiteName
	}
	router := perception.NewRouter(
		perception.NewOpenRouterClientWithConfig(orCfg),
		perception.NewGeminiClient(cfg.GeminiAPIKey),
	)

	members := council.ApplyModelOverrides(council.DefaultMembers(), cfg.MemberModels)

	st, err := store.Open(filepath.Join(resolveHome(), "conclave.db"))
	if err != nil {
		return nil, nil, err
	}

	ctrl, err := session.New(session.Config{
		Members:     members,
		Guard:       council.NewGuard(router, cfg.GuardModel),
		Stances:     council.NewCollector(router),
		Synthesizer: council.NewSynthesizer(router, cfg.ChairmanModel),
		Strikes:     st,
		Clock:       clock,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return ctrl, st, nil
}

// immediateClock skips playback pacing for one-shot output.
type immediateClock struct{}

func (immediateClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// runAsk submits one query and prints the scripted debate
func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	query := strings.Join(args, " ")
	logger.Info("Submitting query", zap.String("query", query))

	ctrl, st, err := buildController(immediateClock{})
	if err != nil {
		return err
	}
	defer st.Close()

	err = ctrl.Submit(ctx, query)
	var rej *session.GuardRejectionError
	if errors.As(err, &rej) {
		fmt.Printf("REJECTED (strike %d/%d): %s\n", rej.Strikes, session.BanThreshold, rej.Reason)
		if rej.Strikes >= session.BanThreshold {
			fmt.Println("The Council has disbanded. It will not reconvene for you.")
		}
		return nil
	}
	if errors.Is(err, session.ErrBanned) {
		fmt.Println("The Council has disbanded. It will not reconvene for you.")
		return nil
	}
	if err != nil {
		return err
	}

	members := make(map[string]council.Member)
	for _, m := range ctrl.Members() {
		members[m.ID] = m
	}

	for _, msg := range ctrl.Transcript() {
		switch msg.Type {
		case session.MessageUserQuery:
			fmt.Printf("You: %s\n\n", msg.Content)
		case session.MessageDecree:
			fmt.Printf("=== THE DECREE ===\n%s\n", msg.Content)
		default:
			name := msg.SpeakerID
			if m, ok := members[msg.SpeakerID]; ok {
				name = m.Name
			}
			fmt.Printf("%s: %s\n\n", name, msg.Content)
		}
	}
	return nil
}

// listMembers prints the council roster
func listMembers(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	members := council.ApplyModelOverrides(council.DefaultMembers(), cfg.MemberModels)

	fmt.Println("The Council")
	fmt.Println("===========")
	for _, m := range members {
		fmt.Printf("%-16s %-22s %s\n", m.Name, m.Title, m.ModelID)
		fmt.Printf("%-16s %s\n\n", "", m.Description)
	}
	fmt.Printf("Gatekeeper: %s\n", cfg.GuardModel)
	fmt.Printf("Chairman:   %s\n", cfg.ChairmanModel)
	return nil
}

// showStrikes prints the persisted strike count
func showStrikes(cmd *cobra.Command, args []string) error {
	st, err := store.Open(filepath.Join(resolveHome(), "conclave.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.Strikes()
	if err != nil {
		return err
	}
	fmt.Printf("Strikes: %d/%d\n", n, session.BanThreshold)
	if n >= session.BanThreshold {
		fmt.Println("The chamber is sealed.")
	}
	return nil
}

// runAbsolve zeroes the strike counter
func runAbsolve(cmd *cobra.Command, args []string) error {
	st, err := store.Open(filepath.Join(resolveHome(), "conclave.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ResetStrikes(); err != nil {
		return err
	}
	logger.Info("Strike counter reset")
	fmt.Println("The Council grants absolution. The chamber is unsealed.")
	return nil
}
