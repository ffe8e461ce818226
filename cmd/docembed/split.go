package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Show how active users divide into training and validation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// the split does not depend on model state
		cfg.Checkpoint.Resume = ""
		svc, err := newService(ctx, nil)
		if err != nil {
			return err
		}
		if err := svc.Prepare(ctx); err != nil {
			return err
		}
		stats, err := svc.SplitStats()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "documents   %d\n", stats.Documents)
		fmt.Fprintf(out, "users       %d (min likes %d)\n", stats.Users, cfg.Graph.MinLikes)
		fmt.Fprintf(out, "training    %d\n", stats.Training)
		if stats.Users > 0 {
			fmt.Fprintf(out, "validation  %d (%.2f%%)\n", stats.Validation, 100*float64(stats.Validation)/float64(stats.Users))
		} else {
			fmt.Fprintf(out, "validation  %d\n", stats.Validation)
		}
		return nil
	},
}
