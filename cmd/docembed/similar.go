package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docembed/internal/domain"
)

var (
	similarTop        int
	similarCheckpoint string
)

var similarCmd = &cobra.Command{
	Use:   "similar <doc-id>",
	Short: "List the documents nearest to a document",
	Long: `List the documents whose embeddings are nearest to the given document.
With the in-memory vector store the embeddings are exported first.

Examples:
  docembed similar 0x2a --top 10 --checkpoint 20261016-k3v9x2m1q0/latest`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := useCheckpoint(similarCheckpoint); err != nil {
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
		if cfg.VectorStore.Type == "memory" {
			if _, err := svc.ExportEmbeddings(ctx); err != nil {
				return err
			}
		}

		results, err := svc.Similar(ctx, domain.EntityID(args[0]), similarTop)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, r := range results {
			fmt.Fprintf(out, "%2d  %-24s %.4f\n", i+1, r.DocumentID, r.Score)
		}
		return nil
	},
}

func init() {
	similarCmd.Flags().IntVarP(&similarTop, "top", "k", 5, "number of documents to list")
	similarCmd.Flags().StringVar(&similarCheckpoint, "checkpoint", "", "checkpoint key to embed with (default checkpoint.resume)")
}
