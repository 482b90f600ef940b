package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"schedline/internal/ics"
	"schedline/internal/store"
)

var (
	exportOutput string
	exportName   string
	exportAll    bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored items as an iCalendar file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			recs, err := a.store.ListItems(ctx, store.Filter{IncludeFinished: exportAll})
			if err != nil {
				return err
			}
			comps, err := ics.Components(recs, a.engine)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if exportOutput != "" && exportOutput != "-" {
				f, err := os.Create(exportOutput)
				if err != nil {
					return errors.Wrapf(err, "create %s", exportOutput)
				}
				defer f.Close()
				w = f
			}
			return ics.Export(w, comps, ics.ExportOptions{Name: exportName})
		})
	},
}

var importSource string

var importCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Import events and to-dos from an iCalendar file",
	Long: `Import an iCalendar file. Without --source every component is added as a
new item. With --source the file replaces the items previously imported under
that name, the same way a subscription refresh does.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openInput(cmd, args[0])
		if err != nil {
			return err
		}
		defer r.Close()
		imported, err := ics.Import(r, ics.ImportOptions{})
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			if importSource != "" {
				res, err := a.store.ReplaceSource(ctx, importSource, ics.Records(imported))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "added %d, updated %d, unchanged %d, removed %d\n",
					res.Added, res.Updated, res.Unchanged, res.Removed)
				return a.horizon.MaterializeAll(ctx, store.Filter{Source: importSource})
			}
			for _, im := range imported {
				it, err := a.planner.Add(ctx, im.Entry)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", im.UID, err)
					continue
				}
				fmt.Fprintf(out, "%d\t%s\n", it.ID, it.Entry)
			}
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Re-import the configured subscriptions and extend the horizon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.syncer().Sync(ctx); err != nil {
				return err
			}
			return a.horizon.MaterializeAll(ctx, store.Filter{})
		})
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file, default stdout")
	exportCmd.Flags().StringVar(&exportName, "name", "schedline", "calendar name")
	exportCmd.Flags().BoolVarP(&exportAll, "all", "a", false, "include finished items")

	importCmd.Flags().StringVar(&importSource, "source", "", "replace the items imported under this name")
}
