package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"studio/internal/logs"
)

const logFollowWait = 2 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines     int
		follow    bool
		raw       bool
		jobID     string
		component string
		level     string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			filter := logs.Filter{
				JobID:     strings.TrimSpace(jobID),
				Component: strings.TrimSpace(component),
			}
			if strings.TrimSpace(level) != "" {
				filter.MinLevel = logs.ParseLevel(level)
			}
			printer := logPrinter{out: cmd.OutOrStdout(), filter: filter, raw: raw}

			runCtx := cmd.Context()
			if runCtx == nil {
				runCtx = context.Background()
			}
			path := cfg.LogPath()
			offset, err := printer.backlog(runCtx, path, lines)
			if err != nil {
				return err
			}
			if !follow {
				return nil
			}

			runCtx, stop := signal.NotifyContext(runCtx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			for {
				result, err := logs.Tail(runCtx, path, logs.TailOptions{Offset: offset, Follow: true, Wait: logFollowWait})
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				offset = result.Offset
				printer.print(result.Lines)
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print JSON lines as written")
	cmd.Flags().StringVar(&jobID, "job", "", "Only show lines for this job id (prefix match)")
	cmd.Flags().StringVar(&component, "component", "", "Only show lines from this component")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}

type logPrinter struct {
	out    io.Writer
	filter logs.Filter
	raw    bool
}

// backlog prints the last n matching lines and returns the offset to follow from.
func (p logPrinter) backlog(ctx context.Context, path string, n int) (int64, error) {
	if n <= 0 {
		result, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1})
		return result.Offset, err
	}
	opts := logs.TailOptions{Offset: -1, Limit: n}
	if p.filtered() {
		// Filtering happens after reading, so scan the whole file.
		opts = logs.TailOptions{Offset: 0}
	}
	result, err := logs.Tail(ctx, path, opts)
	if err != nil {
		return 0, err
	}
	matched := p.match(result.Lines)
	if len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	p.write(matched)
	return result.Offset, nil
}

func (p logPrinter) print(lines []string) {
	p.write(p.match(lines))
}

func (p logPrinter) filtered() bool {
	return p.filter != logs.Filter{}
}

func (p logPrinter) match(lines []string) []logs.Entry {
	entries := make([]logs.Entry, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry := logs.ParseEntry(line)
		if p.filter.Match(entry) {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (p logPrinter) write(entries []logs.Entry) {
	for _, entry := range entries {
		if p.raw {
			fmt.Fprintln(p.out, entry.Raw)
			continue
		}
		fmt.Fprintln(p.out, entry.Format())
	}
}
