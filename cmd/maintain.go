package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ddi-catalog/internal/maintenance"
	"github.com/sells-group/ddi-catalog/internal/monitoring"
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Periodically reindex unindexed bindings and prune orphan documents",
	Long:  "Runs a maintenance pass (reindex, then prune) on the maintenance.schedule cron schedule until interrupted. With --once, runs a single pass and exits. When monitoring.webhook_url is set, catalog health alerts are posted after every pass.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("maintain"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sync, err := requireSearch(st)
		if err != nil {
			return err
		}
		if err := sync.EnsureIndex(ctx); err != nil {
			return err
		}

		var opts []maintenance.Option
		if cfg.Monitoring.Enabled() {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			opts = append(opts, maintenance.WithAfterPass(checker.AfterPass))
		}

		d := maintenance.New(sync, commandTimeout, opts...)
		if once, _ := cmd.Flags().GetBool("once"); once {
			rep, err := d.RunOnce(ctx)
			fmt.Printf("Reindexed: %d, pruned: %d (%s)\n", rep.Reindexed, rep.Pruned, rep.Elapsed)
			return err
		}

		schedule := cfg.Maintenance.Schedule
		if s, _ := cmd.Flags().GetString("schedule"); s != "" {
			schedule = s
		}
		zap.L().Info("starting maintenance daemon", zap.String("index", sync.Index()))
		return d.Run(ctx, schedule)
	},
}

func init() {
	maintainCmd.Flags().Bool("once", false, "run one pass and exit")
	maintainCmd.Flags().String("schedule", "", "cron schedule (default from maintenance.schedule)")

	rootCmd.AddCommand(maintainCmd)
}

