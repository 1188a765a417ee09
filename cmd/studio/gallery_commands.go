package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"studio/internal/api"
	"studio/internal/gallery"
	"studio/internal/ipc"
	"studio/internal/logging"
)

// gallerySource lists and resolves outputs through the daemon or, when it is
// down, straight from the configured directories.
type gallerySource interface {
	List(ctx context.Context) ([]api.GalleryEntry, error)
	Select(ctx context.Context, index int) (*api.GallerySelection, error)
	Prefix(ctx context.Context, prefix string) (*api.GallerySelection, error)
}

type remoteGallery struct{ client *ipc.Client }

func (g remoteGallery) List(ctx context.Context) ([]api.GalleryEntry, error) {
	return g.client.Gallery(ctx)
}

func (g remoteGallery) Select(ctx context.Context, index int) (*api.GallerySelection, error) {
	return g.client.GallerySelect(ctx, index)
}

func (g remoteGallery) Prefix(ctx context.Context, prefix string) (*api.GallerySelection, error) {
	return g.client.GalleryPrefix(ctx, prefix)
}

type localGallery struct{ resolver *gallery.Resolver }

func (g localGallery) List(ctx context.Context) ([]api.GalleryEntry, error) {
	entries, err := g.resolver.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	return api.FromEntries(entries).Entries, nil
}

func (g localGallery) Select(ctx context.Context, index int) (*api.GallerySelection, error) {
	entries, err := g.resolver.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	sel, err := g.resolver.Select(ctx, entries, &index)
	if err != nil {
		return nil, err
	}
	out := api.FromSelection(sel)
	return &out, nil
}

func (g localGallery) Prefix(ctx context.Context, prefix string) (*api.GallerySelection, error) {
	asset, err := g.resolver.ResolveAsset(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := api.FromAsset(asset)
	return &out, nil
}

func (c *commandContext) withGallery(fn func(gallerySource) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if client := c.tryClient(); client != nil {
		defer client.Close()
		return fn(remoteGallery{client: client})
	}
	return fn(localGallery{resolver: gallery.NewResolverFromConfig(cfg, logging.NewNop())})
}

func newGalleryCommand(ctx *commandContext) *cobra.Command {
	galleryCmd := &cobra.Command{
		Use:   "gallery",
		Short: "Browse generated outputs",
	}
	galleryCmd.AddCommand(newGalleryListCommand(ctx))
	galleryCmd.AddCommand(newGalleryShowCommand(ctx))
	return galleryCmd
}

func newGalleryListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outputs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withGallery(func(src gallerySource) error {
				entries, err := src.List(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, api.GalleryListResponse{Entries: entries})
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No outputs found")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						strconv.Itoa(entry.Index),
						entry.Prefix,
						relativeTime(entry.ModifiedAt),
					})
				}
				fmt.Fprint(out, renderTable([]string{"#", "Prefix", "Modified"}, rows, []columnAlignment{alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newGalleryShowCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonOut bool
		prefix  string
	)
	cmd := &cobra.Command{
		Use:   "show [index|prefix]",
		Short: "Resolve an output to its latest video and metadata",
		Long: `Resolve an output to its latest video and metadata.

A numeric argument is an index into the gallery as it is listed right now,
newest first. The directories are rescanned on every call, so an index can
point at a different output than an earlier "gallery list" showed if files
changed in between. Prefixes are stable; use --prefix for scripts and for
prefixes made only of digits.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("prefix") {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withGallery(func(src gallerySource) error {
				var (
					sel *api.GallerySelection
					err error
				)
				switch {
				case cmd.Flags().Changed("prefix"):
					sel, err = src.Prefix(cmd.Context(), strings.TrimSpace(prefix))
				default:
					target := strings.TrimSpace(args[0])
					if index, convErr := strconv.Atoi(target); convErr == nil {
						sel, err = src.Select(cmd.Context(), index)
					} else {
						sel, err = src.Prefix(cmd.Context(), target)
					}
				}
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, sel)
				}
				printSelection(cmd.OutOrStdout(), sel)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Resolve by prefix even when it looks like an index")
	return cmd
}

func printSelection(out io.Writer, sel *api.GallerySelection) {
	if sel == nil || !sel.Selected {
		fmt.Fprintln(out, "Nothing selected")
		return
	}
	if !sel.Found {
		fmt.Fprintln(out, sel.Message)
		return
	}
	printKeyValues(out, []keyValue{
		{"Prefix", sel.Prefix},
		{"Video", sel.VideoPath},
	})
	fmt.Fprintln(out, sel.Info)
}

func relativeTime(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return value
	}
	return humanize.Time(t)
}
