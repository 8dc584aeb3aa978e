package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reelsmith/internal/workspace"
)

func newReclaimCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Remove aged job workspaces once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			threshold := cfg.Retention
			if olderThan > 0 {
				threshold = olderThan
			}
			workspaces, err := workspace.New(cfg.DataDir)
			if err != nil {
				return err
			}
			removed := workspaces.Reclaim(threshold)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d workspace(s) older than %s\n", removed, threshold)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age threshold (defaults to the configured retention)")
	return cmd
}
