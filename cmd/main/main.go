package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CTAG07/Mimicry/pkg/engine"
	"github.com/CTAG07/Mimicry/pkg/markov"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	configPath string
	groupFlag  string
	memberFlag string
	inputFlag  string
	countFlag  int
)

var rootCmd = &cobra.Command{
	Use:           "mimicry",
	Short:         "mimicry - per-member Markov text models",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the model pool and periodic checkpoints",
	RunE:  runServe,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate text from a stored model",
	RunE:  runGenerate,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [text]",
	Short: "Train a message into an indexed model",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild a model from history, one message per line",
	RunE:  runIndex,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete a model from the store",
	RunE:  runClear,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show statistics for a stored model",
	RunE:  runStats,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mimicry %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "Path to the JSON or YAML config file")
	for _, cmd := range []*cobra.Command{generateCmd, ingestCmd, indexCmd, clearCmd, statsCmd} {
		cmd.Flags().StringVarP(&groupFlag, "group", "g", "", "Group ID of the model")
		cmd.Flags().StringVarP(&memberFlag, "member", "m", "", "Member ID of the model")
		_ = cmd.MarkFlagRequired("group")
		_ = cmd.MarkFlagRequired("member")
	}
	generateCmd.Flags().IntVarP(&countFlag, "count", "n", 1, "Number of messages to generate")
	indexCmd.Flags().StringVarP(&inputFlag, "input", "i", "-", "History file, or - for stdin")
	rootCmd.AddCommand(serveCmd, generateCmd, ingestCmd, indexCmd, clearCmd, statsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func flagIdentity() markov.Identity {
	return markov.Identity{MemberID: memberFlag, GroupID: groupFlag}
}

// withEngine opens the configured store and runs fn against a fresh engine,
// flushing every touched model afterwards.
func withEngine(ctx context.Context, fn func(*engine.Engine) error) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(config.Server)

	s, release, err := openStore(config, logger)
	if err != nil {
		return err
	}
	defer release()

	eng := newEngine(config, logger, s)
	err = fn(eng)
	if closeErr := eng.Close(ctx); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withEngine(ctx, func(eng *engine.Engine) error {
		for i := 0; i < countFlag; i++ {
			text, err := eng.GenerateText(ctx, flagIdentity())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
		}
		return nil
	})
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withEngine(ctx, func(eng *engine.Engine) error {
		for _, text := range args {
			if err := eng.Ingest(ctx, flagIdentity(), text); err != nil {
				return err
			}
		}
		return nil
	})
}

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	var in io.Reader = cmd.InOrStdin()
	if inputFlag != "-" {
		f, err := os.Open(inputFlag)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer f.Close()
		in = f
	}

	return withEngine(ctx, func(eng *engine.Engine) error {
		s := eng.StartIndexing(ctx, flagIdentity())
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if err := s.Feed(ctx, scanner.Text()); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		if err := s.Finish(ctx); err != nil {
			return err
		}
		info := s.Info()
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d messages for %s\n", info.Fed, info.Identity)
		return nil
	})
}

func runClear(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withEngine(ctx, func(eng *engine.Engine) error {
		return eng.Clear(ctx, flagIdentity())
	})
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withEngine(ctx, func(eng *engine.Engine) error {
		stats, err := eng.Stats(ctx, flagIdentity())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	})
}

func runServe(_ *cobra.Command, _ []string) error {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}
		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Mimicry has shut down.")
	return nil
}

// run hosts the API server and returns whenever the server is shut down or restarted.
func run(actionChan chan string) (string, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(config.Server)
	logger.Info("Starting server cycle...", "store", config.Store.Driver, "ttl", config.Pool.TTL())

	s, release, err := openStore(config, logger)
	if err != nil {
		return "", err
	}
	defer release()

	eng := newEngine(config, logger, s)
	checkpointer, err := NewCheckpointer(config.Pool.CheckpointSchedule, eng.Pool(), logger)
	if err != nil {
		_ = eng.Close(context.Background())
		return "", err
	}
	checkpointer.Start()

	server := NewServer(config, logger, eng, actionChan)
	apiHttpServer := &http.Server{
		Addr:              config.Server.ApiAddr,
		Handler:           server.apiMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	checkpointer.Stop()

	logger.Info("Flushing model pool.")
	if err = eng.Close(ctx); err != nil {
		logger.Error("Failed to flush every model", "error", err)
	}

	return action, nil
}
