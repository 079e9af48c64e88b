package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/halfmap/gameclient/internal/client"
	"github.com/halfmap/gameclient/internal/config"
	"github.com/halfmap/gameclient/internal/engine"
	"github.com/halfmap/gameclient/internal/events"
	"github.com/halfmap/gameclient/internal/game"
	"github.com/halfmap/gameclient/internal/logging"
	"github.com/halfmap/gameclient/internal/network"
	"github.com/halfmap/gameclient/internal/pacing"
	"github.com/halfmap/gameclient/internal/session"
	"github.com/halfmap/gameclient/internal/telemetry"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	exitCode := 0
	cmd := newRootCommand(config.Load, &exitCode)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return session.ExitCodeSetup
	}
	return exitCode
}

type rootFlags struct {
	uniformExit  bool
	verbose      bool
	otelEndpoint string
	logLevel     string
	logDir       string
}

// newRootCommand loads config only inside the commands that need it, so help,
// version and bugreport keep working with a broken config file.
func newRootCommand(load func(context.Context) (*config.Config, error), exitCode *int) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "gameclient [mode] <server-base-url> <game-id>",
		Short: "Turn-based game client that registers, waits for its turn and submits moves",
		Long: "gameclient registers a player and a generated half map with the game server, " +
			"polls until it may act, submits one move per turn and exits once the server " +
			"reports the game as won or lost. The leading mode argument is accepted and ignored.",
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if load == nil {
				return errors.New("config loader is required")
			}
			cfg, err := load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyFlagOverrides(cmd, cfg, flags)
			code, err := playSession(cmd, cfg, flags.verbose, args)
			if err != nil {
				return err
			}
			*exitCode = code
			return nil
		},
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.Flags().BoolVar(&flags.uniformExit, "uniform-exit", false, "exit 0 for every outcome once a session ran")
	root.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "print session progress to stderr")
	root.Flags().StringVar(&flags.otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint for traces")
	root.Flags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.Flags().StringVar(&flags.logDir, "log-dir", "", "directory for JSON log files")
	root.AddCommand(newBugreportCommand(load))
	return root
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, flags *rootFlags) {
	if cmd.Flags().Changed("uniform-exit") {
		cfg.UniformExitCode = flags.uniformExit
	}
	if cmd.Flags().Changed("otel-endpoint") {
		cfg.OTELEndpoint = strings.TrimSpace(flags.otelEndpoint)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(flags.logLevel))
	}
	if cmd.Flags().Changed("log-dir") {
		cfg.LogDir = strings.TrimSpace(flags.logDir)
	}
}

// sessionArgs drops the optional leading mode argument.
func sessionArgs(args []string) (mode, baseURL, gameID string) {
	if len(args) == 3 {
		return args[0], args[1], args[2]
	}
	return "", args[0], args[1]
}

func playSession(cmd *cobra.Command, cfg *config.Config, verbose bool, args []string) (int, error) {
	ctx := cmd.Context()
	mode, baseURL, gameID := sessionArgs(args)
	runID := uuid.NewString()

	runtimeLogger, err := logging.New(
		ctx,
		logging.WithRunID(runID),
		logging.WithGameID(gameID),
		logging.WithDir(cfg.LogDir),
		logging.WithLevel(cfg.LogLevel),
	)
	if err != nil {
		return 0, fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := runtimeLogger.Close(); closeErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to close logger: %v\n", closeErr)
		}
	}()
	logger := runtimeLogger.Logger
	logger.Info("main process started", "server_base_url", baseURL, "mode", mode, "version", Version)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTELEndpoint)
	if err != nil {
		return 0, fmt.Errorf("initialize telemetry: %w", err)
	}
	defer shutdownTelemetry()

	halfMap, err := game.GenerateHalfMap(newRand(cfg.HalfMapSeed))
	if err != nil {
		return 0, fmt.Errorf("generate half map: %w", err)
	}

	gateway, err := network.New(
		baseURL,
		gameID,
		network.Player{
			FirstName: cfg.Player.FirstName,
			LastName:  cfg.Player.LastName,
			Account:   cfg.Player.Account,
		},
		network.WithTimeout(cfg.RequestTimeout),
		network.WithLogger(logger),
	)
	if err != nil {
		return 0, fmt.Errorf("create gateway: %w", err)
	}

	pacer, err := pacing.New(pacing.Policy{
		Interval:    cfg.PacingInterval,
		MaxInterval: cfg.PacingMaxInterval,
		Multiplier:  cfg.PacingMultiplier,
		Jitter:      cfg.PacingJitter,
	})
	if err != nil {
		return 0, fmt.Errorf("create pacer: %w", err)
	}

	bus := events.New(events.WithLogger(logger))
	if verbose {
		bus.SubscribeAll(newProgressPrinter(cmd.ErrOrStderr()).Print)
	}

	gameClient, err := client.New(
		gateway,
		engine.NewSweep(),
		session.NewStore(),
		pacer,
		bus,
		client.Config{
			GameID:            gameID,
			HalfMap:           halfMap,
			UnknownPhaseLimit: cfg.UnknownPhaseLimit,
		},
		client.WithLogger(logger),
	)
	if err != nil {
		bus.Close()
		return 0, fmt.Errorf("create client: %w", err)
	}

	term := gameClient.Run(ctx)
	bus.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", term.Outcome, term.Description)
	return exitCodeFor(term.Outcome, cfg.UniformExitCode), nil
}

func exitCodeFor(outcome session.Outcome, uniform bool) int {
	if uniform {
		return 0
	}
	return outcome.ExitCode()
}

// newRand seeds from the clock when seed is zero.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
