package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docembed/internal/config"
	"docembed/internal/logger"
	"docembed/internal/logger/console"
	"docembed/internal/metrics"
)

var (
	cfgPath string
	debug   bool

	cfg *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "docembed",
	Short: "Train document embeddings from a user/document like graph",
	Long: `docembed samples positive and negative document pairs from the documents
users like, trains a two-tower embedding model on them and exports the
resulting document embeddings to a vector store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config (default ./config.yaml, then ~/.config/docembed/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")

	rootCmd.AddCommand(trainCmd, exportCmd, similarCmd, splitCmd)
}

func setup() error {
	_ = godotenv.Load()

	var err error
	if cfgPath == "" {
		cfg, cfgPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return err
	}
	initLogger(os.Stderr)
	logger.Debug("Loaded config", "path", cfgPath)
	return nil
}

func initLogger(out io.Writer) {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug || cfg.Log.Debug,
		Output: out,
	}))
}

// serveMetrics starts the /metrics listener when one is configured.
func serveMetrics(ctx context.Context) {
	if cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		logger.Info("Serving metrics", "addr", cfg.Metrics.Addr)
		if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
			logger.Error("Metrics listener stopped", "err", err)
		}
	}()
}
