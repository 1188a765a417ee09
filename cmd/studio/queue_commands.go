package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"studio/internal/api"
	"studio/internal/config"
	"studio/internal/queueaccess"
	"studio/internal/refresh"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the generation queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueActionCommand(ctx, refresh.ActionClearQueue, "clear", "Cancel every pending job"))
	queueCmd.AddCommand(newQueueActionCommand(ctx, refresh.ActionClearCompleted, "clear-completed", "Remove completed, failed and cancelled jobs"))
	queueCmd.AddCommand(newQueueActionCommand(ctx, refresh.ActionExport, "export", "Write the queue and its thumbnails to a zip archive"))
	queueCmd.AddCommand(newQueueLoadCommand(ctx))
	queueCmd.AddCommand(newQueueImportCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(access queueaccess.Access) error {
				stats, err := access.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the queue table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(access queueaccess.Access) error {
				if jsonOut && len(statuses) > 0 {
					jobs, err := access.List(cmd.Context(), statuses)
					if err != nil {
						return err
					}
					return writeJSON(cmd, api.JobListResponse{Jobs: jobs})
				}
				view, err := access.View(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, view)
				}
				out := cmd.OutOrStdout()
				rows := buildQueueViewRows(view, statuses)
				if len(rows) == 0 {
					fmt.Fprintln(out, "Queue is empty")
				} else {
					fmt.Fprint(out, renderTable(queueTableHeaders, rows, nil))
				}
				fmt.Fprintln(out, view.StatsText)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withQueue(func(access queueaccess.Access) error {
				job, err := access.Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %s not found", id)
				}
				if jsonOut {
					return writeJSON(cmd, job)
				}
				out := cmd.OutOrStdout()
				printKeyValues(out, jobDetailPairs(job))
				if params := indentParams(job.Params); params != "" {
					fmt.Fprintln(out, "Params:")
					fmt.Fprintln(out, params)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var (
		genType    string
		params     string
		paramsFile string
		thumbnail  string
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue a generation job",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readParams(params, paramsFile)
			if err != nil {
				return err
			}
			req := api.EnqueueRequest{GenerationType: genType, Params: raw}
			if strings.TrimSpace(thumbnail) != "" {
				if req.Thumbnail, err = absolutePath(thumbnail); err != nil {
					return err
				}
			}
			return ctx.withQueue(func(access queueaccess.Access) error {
				job, err := access.Enqueue(cmd.Context(), req)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s\n", job.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&genType, "type", "t", "", "Generation type label")
	cmd.Flags().StringVar(&params, "params", "", "Job parameters as a JSON object")
	cmd.Flags().StringVar(&paramsFile, "params-file", "", "Read job parameters from a JSON file")
	cmd.Flags().StringVar(&thumbnail, "thumbnail", "", "Preview image shown in the queue table")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newQueueActionCommand(ctx *commandContext, action refresh.Action, use, short string) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueAction(cmd, ctx, action, "", jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newQueueLoadCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "load [path]",
		Short: "Load jobs from the queue state file or a given JSON file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				var err error
				if path, err = absolutePath(args[0]); err != nil {
					return err
				}
			}
			return runQueueAction(cmd, ctx, refresh.ActionLoad, path, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newQueueImportCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import jobs from a .json queue file or an exported .zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := absolutePath(args[0])
			if err != nil {
				return err
			}
			return runQueueAction(cmd, ctx, refresh.ActionImport, path, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:     "cancel",
		Aliases: []string{"end"},
		Short:   "Stop the running job without waiting for it to exit",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueAction(cmd, ctx, refresh.ActionEndProcess, "", jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func runQueueAction(cmd *cobra.Command, ctx *commandContext, action refresh.Action, path string, jsonOut bool) error {
	return ctx.withQueue(func(access queueaccess.Access) error {
		resp, err := access.Action(cmd.Context(), action, path)
		if errors.Is(err, queueaccess.ErrDaemonRequired) {
			return fmt.Errorf("%s: %w; start it with `studio start`", action, err)
		}
		if jsonOut && resp != nil {
			if writeErr := writeJSON(cmd, resp); writeErr != nil {
				return writeErr
			}
			return err
		}
		if err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, actionSummary(resp))
		fmt.Fprintln(out, resp.Queue.StatsText)
		return nil
	})
}

func readParams(inline, file string) (json.RawMessage, error) {
	inline = strings.TrimSpace(inline)
	file = strings.TrimSpace(file)
	if inline != "" && file != "" {
		return nil, errors.New("specify only one of --params or --params-file")
	}
	data := []byte(inline)
	if file != "" {
		var err error
		if data, err = os.ReadFile(file); err != nil {
			return nil, fmt.Errorf("read params file: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, errors.New("job parameters must be valid JSON")
	}
	return json.RawMessage(data), nil
}

func absolutePath(value string) (string, error) {
	expanded, err := config.ExpandPath(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}
