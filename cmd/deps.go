package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reelsmith/internal/codec"
)

func newCheckDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check-deps",
		Short: "Verify external binaries are available",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status := codec.CheckBinary("ffmpeg", cfg.FFmpegPath)
			if !status.Available {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: missing (%s)\n", status.Name, status.Detail)
				return fmt.Errorf("%s unavailable", status.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n", status.Name, status.Detail)
			return nil
		},
	}
}
