package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rtcdoctor/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Expose diagnostics over HTTP. Runs can be started with POST /api/v1/runs
and followed with GET /api/v1/runs/current.

With --every the diagnostics also run on a schedule while serving.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appInstance.Config
		addr, _ := cmd.Flags().GetString("addr")
		if !cmd.Flags().Changed("addr") {
			addr = cfg.Server.Addr
		}
		every, _ := cmd.Flags().GetDuration("every")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if every > 0 {
			sched, err := newScheduler(nil)
			if err != nil {
				return err
			}
			if err := sched.Start(ctx, every); err != nil {
				return err
			}
			defer sched.Stop()
		}

		router := api.NewRouter(ctx, appInstance.Runner, appInstance.Storage, appInstance.Logger)
		fmt.Printf("Listening on %s\n", addr)
		return api.Serve(ctx, api.ServerConfig{
			Addr:         addr,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, router.Handler(), appInstance.Logger)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8090", "listen address")
	serveCmd.Flags().Duration("every", 0, "also run diagnostics on this interval (0 disables)")
	rootCmd.AddCommand(serveCmd)
}
