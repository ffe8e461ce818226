package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"docembed/internal/logger"
	"docembed/internal/service"
	"docembed/internal/tui"
)

var (
	trainTUI    bool
	trainResume string
	trainExport bool
	trainLog    string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the document embedding model",
	Long: `Train the two-tower model on pairs sampled from the graph, validating and
checkpointing after every epoch.

Examples:
  docembed train
  docembed train --tui
  docembed train --resume 20261016-k3v9x2m1q0/latest
  docembed train --export`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().BoolVar(&trainTUI, "tui", false, "show a live dashboard instead of log lines")
	trainCmd.Flags().StringVar(&trainResume, "resume", "", "checkpoint key to resume from (overrides checkpoint.resume)")
	trainCmd.Flags().BoolVar(&trainExport, "export", false, "export embeddings to the vector store after training")
	trainCmd.Flags().StringVar(&trainLog, "log-file", "docembed.log", "log destination while the dashboard is shown")
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if trainResume != "" {
		cfg.Checkpoint.Resume = trainResume
	}
	serveMetrics(ctx)

	store, closeStore, err := vectorStore(ctx, cfg.VectorStore)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := newService(ctx, store)
	if err != nil {
		return err
	}
	if err := svc.Prepare(ctx); err != nil {
		return err
	}

	if trainTUI {
		err = trainWithDashboard(ctx, svc)
	} else {
		err = svc.Train(ctx, nil)
	}
	if errors.Is(err, context.Canceled) {
		logger.Warn("Training interrupted", "run", svc.RunID(), "next_epoch", svc.StartEpoch())
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("Training finished", "run", svc.RunID())

	if trainExport {
		n, err := svc.ExportEmbeddings(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d document embeddings\n", n)
	}
	return nil
}

func trainWithDashboard(ctx context.Context, svc *service.TrainingService) error {
	f, err := os.OpenFile(trainLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	initLogger(f)
	defer initLogger(os.Stderr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(tui.New(svc.RunID(), cancel))
	go func() {
		p.Send(tui.DoneMsg{Err: svc.Train(ctx, tui.NewReporter(p))})
	}()
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(tui.Model); ok {
		return m.Err()
	}
	return nil
}
