package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"checkinsync/internal/config"
	"checkinsync/internal/database"
	"checkinsync/internal/logging"
	"checkinsync/internal/queue"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "checkinctl",
	Short: "Inspect and drain the offline check-in queue",
	Long: `checkinctl works directly on the local queue database.
Check-ins recorded while offline stay in the queue until a sync pass delivers
them to the check-in service. Use it to enqueue by hand, inspect pending and
failed intents, force a pass, or export the queue for support.`,
	SilenceUsage: true,
}

func main() {
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
}

func registerCommands() {
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(countCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(resyncCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(exportCmd())
}

// env is what every command needs: config, logger and the opened queue.
type env struct {
	cfg    *config.Config
	logger *zerolog.Logger
	db     *database.DB
	store  *queue.Store
}

func withEnv(ctx context.Context, fn func(ctx context.Context, e *env) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	logCfg.Format = "console"
	if !verbose {
		logCfg.Level = "warn"
	}
	logger, _, err := logging.New(logCfg, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, &env{cfg: cfg, logger: logger, db: db, store: queue.NewStore(db, logger)})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
