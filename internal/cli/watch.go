package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rtcdoctor/internal/app"
	"rtcdoctor/internal/schedule"
	"rtcdoctor/internal/storage/models"
	"rtcdoctor/internal/troubleshoot"
)

// newScheduler runs diagnostics through the app's runner and prunes old
// runs after each one.
func newScheduler(configure func(*troubleshoot.Config)) (*schedule.Scheduler, error) {
	runner, store := appInstance.Runner, appInstance.Storage
	run := func(ctx context.Context) error {
		_, err := runner.Run(ctx, app.RunOptions{Trigger: models.TriggerSchedule, Configure: configure})
		return err
	}
	prune := func(ctx context.Context) (int64, error) {
		return app.Prune(ctx, store)
	}
	return schedule.New(run, prune, appInstance.Logger)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run diagnostics periodically",
	Long: `Run the diagnostics now and then on every interval until interrupted.
Each run is stored; use 'rtcdoctor history' to review them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		every, _ := cmd.Flags().GetDuration("every")
		if !cmd.Flags().Changed("every") {
			every = appInstance.Config.Schedule.Every
		}
		configure, err := watchOpts.configure(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched, err := newScheduler(configure)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx, every); err != nil {
			return err
		}
		fmt.Printf("Running diagnostics every %s, press Ctrl+C to stop\n", every)

		<-ctx.Done()
		if err := sched.Stop(); err != nil {
			return err
		}
		st := sched.Stats()
		fmt.Printf("\nStopped after %d runs (%d failed, %d skipped)\n", st.Runs, st.Failed, st.Skipped)
		return nil
	},
}

var watchOpts runFlags

func init() {
	watchOpts.register(watchCmd)
	watchCmd.Flags().Duration("every", 15*time.Minute, "interval between runs")
	rootCmd.AddCommand(watchCmd)
}
