package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"studio/internal/api"
	"studio/internal/logging"
	"studio/internal/sysstats"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show RAM, VRAM and GPU usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats *api.SystemStats
			if client := ctx.tryClient(); client != nil {
				defer client.Close()
				remote, err := client.Stats(cmd.Context())
				if err != nil {
					return err
				}
				stats = remote
			} else {
				local := api.FromStats(sysstats.NewSampler(sysstats.Options{Logger: logging.NewNop()}).Sample(cmd.Context()))
				stats = &local
			}
			if jsonOut {
				return writeJSON(cmd, stats)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(statsToolbar(stats), "  |  "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func statsToolbar(stats *api.SystemStats) []string {
	if stats == nil {
		return nil
	}
	return []string{stats.RAM, stats.VRAM, stats.GPU}
}
