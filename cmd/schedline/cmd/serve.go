package cmd

import (
	"context"

	"github.com/spf13/cobra"

	appLog "schedline/internal/log"
	"schedline/internal/web"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background refresh",
	Long: `Serve the JSON API on the configured listen address. The horizon is
extended and subscriptions are re-imported on start and then on the refresh
schedule until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveListen != "" {
			conf.Listen = serveListen
		}
		appLog.Info("effective config",
			"listen", conf.Listen,
			"timezone", conf.Timezone,
			"db_path", conf.DBPath,
			"horizon_weeks", conf.HorizonWeeks,
			"refresh", conf.RefreshCron,
			"ics_count", len(conf.ICS),
		)

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		return withApp(cmd, func(_ context.Context, a *app) error {
			if err := a.horizon.Start(ctx); err != nil {
				return err
			}
			defer a.horizon.Stop()

			err := web.NewServer(conf, a.planner).Serve(ctx)
			appLog.Info("schedline exiting")
			return err
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config if set)")
}
