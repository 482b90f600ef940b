package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"schedline/internal/finish"
	"schedline/internal/planner"
	"schedline/internal/store"
)

var addCmd = &cobra.Command{
	Use:   "add <entry>",
	Short: "Store an entry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			it, err := a.planner.Add(ctx, strings.Join(args, " "))
			if err != nil {
				printEntryError(cmd.ErrOrStderr(), err)
				return errors.New("entry not added")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", it.ID, it.Entry)
			return nil
		})
	},
}

var (
	listAll    bool
	listSource string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			items, err := a.planner.List(ctx, store.Filter{IncludeFinished: listAll, Source: listSource})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tSOURCE\tENTRY")
			for _, it := range items {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", it.ID, finish.StateOf(it.Item), dash(it.Source), it.Entry)
			}
			return tw.Flush()
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an item and its completion log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			it, err := a.planner.Get(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, it.Entry)
			fmt.Fprintf(out, "state:   %s\n", finish.StateOf(it.Item))
			if it.Source != "" {
				fmt.Fprintf(out, "source:  %s (%s)\n", it.Source, it.UID)
			}
			fmt.Fprintf(out, "created: %s\n", it.CreatedAt.Format(time.RFC3339))
			log, err := a.planner.Completions(ctx, id)
			if err != nil {
				return err
			}
			for _, c := range log {
				line := "done " + c.CompletedAt.In(conf.Location()).Format(time.RFC3339)
				if !c.Occurrence.IsZero() {
					line += " for " + c.Occurrence.Format(time.RFC3339)
				}
				if c.Job != "" {
					line += " job " + strconv.Quote(c.Job)
				}
				fmt.Fprintln(out, "  "+line)
			}
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.planner.Delete(ctx, id)
		})
	},
}

var (
	finishAt         string
	finishOccurrence string
	finishJob        string
)

var finishCmd = &cobra.Command{
	Use:   "finish <id>",
	Short: "Mark an item, or one job of a project, done",
	Long: `Mark the current occurrence of an item done. Repeating items move on to
their next occurrence; everything else is closed.

Examples:
  schedline finish 12
  schedline finish 12 --at 2025-03-03T18:00:00+01:00
  schedline finish 7 --job 2         # job by id
  schedline finish 7 --job "pack"    # job without id, by summary`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		req, err := finishRequest()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.planner.Finish(ctx, id, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", res.State)
			if !res.Finished && res.RuleSet != nil {
				fmt.Fprintln(out, res.RuleSet.String())
			}
			if res.Graph != nil && len(res.Graph.Available) > 0 {
				fmt.Fprintf(out, "available jobs: %v\n", res.Graph.Available)
			}
			return nil
		})
	},
}

func finishRequest() (planner.FinishRequest, error) {
	var req planner.FinishRequest
	if finishAt != "" {
		t, err := time.Parse(time.RFC3339, finishAt)
		if err != nil {
			return req, errors.Wrap(err, "--at")
		}
		req.At = t
	}
	if finishOccurrence != "" {
		t, err := time.Parse(time.RFC3339, finishOccurrence)
		if err != nil {
			return req, errors.Wrap(err, "--occurrence")
		}
		req.Occurrence = t
	}
	if finishJob != "" {
		ref := finish.JobRef{Summary: finishJob}
		if n, err := strconv.Atoi(finishJob); err == nil && n > 0 {
			ref = finish.JobRef{ID: n}
		}
		req.Job = &ref
	}
	return req, nil
}

var (
	agendaDays     int
	agendaBackfill int
)

var agendaCmd = &cobra.Command{
	Use:   "agenda",
	Short: "Print upcoming occurrences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			from, to := a.planner.Window(agendaDays, agendaBackfill)
			occs, err := a.planner.Agenda(ctx, from, to)
			if err != nil {
				return err
			}
			printAgenda(cmd.OutOrStdout(), occs, conf.Location(), weekStart())
			return nil
		})
	},
}

func weekStart() time.Weekday {
	if conf.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// printAgenda groups occurrences by week and day.
func printAgenda(w io.Writer, occs []store.Occurrence, loc *time.Location, first time.Weekday) {
	var day, week string
	for _, o := range occs {
		start := o.Start.In(loc)
		if wk := startOfWeek(start, first).Format("2006-01-02"); wk != week {
			week = wk
			fmt.Fprintf(w, "== week of %s ==\n", wk)
		}
		if d := start.Format("Mon 2006-01-02"); d != day {
			day = d
			fmt.Fprintln(w, d)
		}
		when := start.Format("15:04")
		if o.HasEnd() {
			when += "-" + o.End.In(loc).Format("15:04")
		}
		line := fmt.Sprintf("  %-11s %s", when, o.Subject)
		if o.Job != "" {
			line += " / " + o.Job
		}
		fmt.Fprintf(w, "%s  [%d]\n", line, o.ItemID)
	}
}

func startOfWeek(t time.Time, first time.Weekday) time.Time {
	back := (int(t.Weekday()) - int(first) + 7) % 7
	d := t.AddDate(0, 0, -back)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, t.Location())
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Newf("invalid item id %q", s)
	}
	return id, nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include finished items")
	listCmd.Flags().StringVar(&listSource, "source", "", "only items of this subscription")

	finishCmd.Flags().StringVar(&finishAt, "at", "", "completion time (RFC 3339), default now")
	finishCmd.Flags().StringVar(&finishOccurrence, "occurrence", "", "occurrence to complete (RFC 3339), default the earliest pending")
	finishCmd.Flags().StringVar(&finishJob, "job", "", "finish one job of a project, by id or summary")

	agendaCmd.Flags().IntVarP(&agendaDays, "days", "d", 7, "days ahead to include")
	agendaCmd.Flags().IntVar(&agendaBackfill, "backfill", 0, "past days to include")
}
