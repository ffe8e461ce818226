package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var exportCheckpoint string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write document embeddings from a checkpoint to the vector store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := useCheckpoint(exportCheckpoint); err != nil {
			return err
		}

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
		n, err := svc.ExportEmbeddings(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d document embeddings from %s\n", n, cfg.Checkpoint.Resume)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCheckpoint, "checkpoint", "", "checkpoint key to export (default checkpoint.resume)")
}

// useCheckpoint selects the checkpoint the model is restored from.
func useCheckpoint(key string) error {
	if key != "" {
		cfg.Checkpoint.Resume = key
	}
	if cfg.Checkpoint.Resume == "" {
		return errors.New("no checkpoint given: pass --checkpoint or set checkpoint.resume")
	}
	return nil
}
