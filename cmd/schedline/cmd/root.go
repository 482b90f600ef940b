package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"schedline/internal/config"
	"schedline/internal/engine"
	"schedline/internal/horizon"
	"schedline/internal/ics"
	appLog "schedline/internal/log"
	"schedline/internal/planner"
	"schedline/internal/store"
)

var (
	configPath string
	conf       *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "schedline",
	Short: "Plan events, tasks and projects from one-line entries",
	Long: `schedline keeps a calendar of events, tasks, projects and notes, each
written as a single line such as

  * Team sync @s 2025-03-03 09:00 @e 1h @r w &c 4

Repeating items are expanded into stored occurrences a few weeks ahead,
completions advance tasks to their next occurrence and ICS feeds can be
subscribed to or exported.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return errors.Wrapf(err, "load config %s", configPath)
		}
		level, err := appLog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		appLog.SetLevel(level)
		conf = cfg
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the config file")

	rootCmd.AddCommand(parseCmd, checkCmd)
	rootCmd.AddCommand(addCmd, listCmd, showCmd, deleteCmd, finishCmd, agendaCmd)
	rootCmd.AddCommand(exportCmd, importCmd, syncCmd)
	rootCmd.AddCommand(serveCmd)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "schedline.yaml"
	}
	return filepath.Join(dir, "schedline", "config.yaml")
}

// app bundles the services a command runs against.
type app struct {
	store   *store.Store
	engine  *engine.Engine
	horizon *horizon.Service
	planner *planner.Service
}

func newEngine(cfg *config.Config) *engine.Engine {
	return engine.New(engine.Options{
		Location:       cfg.Location(),
		MaxOccurrences: cfg.MaxOccurrences,
	})
}

func openApp(ctx context.Context) (*app, error) {
	loc := conf.Location()
	if dir := filepath.Dir(conf.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}
	st, err := store.Open(ctx, conf.DBPath, store.Options{Location: loc})
	if err != nil {
		return nil, err
	}
	eng := newEngine(conf)
	a := &app{store: st, engine: eng}
	a.horizon = horizon.New(horizon.Config{
		Horizon:  conf.Horizon(),
		Backfill: 24 * time.Hour,
		Refresh:  conf.RefreshCron,
		Sync:     a.syncer().Sync,
	}, st, eng)
	a.planner = planner.New(st, eng, a.horizon)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) syncer() *ics.Syncer {
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, src := range conf.ICS {
		sources = append(sources, ics.Source{ID: src.ID, URL: src.URL})
	}
	cacheDir := filepath.Join(filepath.Dir(conf.DBPath), "ics-cache")
	return ics.NewSyncer(ics.NewFetcher(cacheDir, nil), a.store, sources, nil)
}

// withApp opens the store for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
