package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rtcdoctor/internal/app"
	"rtcdoctor/internal/storage"
	"rtcdoctor/internal/storage/models"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")
		trigger, _ := cmd.Flags().GetString("trigger")
		since, _ := cmd.Flags().GetDuration("since")
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}

		filter := storage.RunFilter{Status: status, Trigger: trigger, Limit: limit}
		if since > 0 {
			t := time.Now().Add(-since)
			filter.Since = &t
		}
		runs, err := appInstance.Storage.ListRuns(ctx, filter)
		if err != nil {
			return err
		}

		if format != formatTable {
			summaries := make([]runSummary, len(runs))
			for i, r := range runs {
				summaries[i] = summarize(r)
			}
			return writeValue(cmd.OutOrStdout(), format, summaries)
		}
		if len(runs) == 0 {
			fmt.Println("No stored runs. Start one with 'rtcdoctor run'.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tTRIGGER\tSTATUS\tDURATION\tERROR")
		fmt.Fprintln(w, "--\t-------\t-------\t------\t--------\t-----")
		for _, r := range runs {
			duration := "-"
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Round(10 * time.Millisecond).String()
			}
			errKind := "-"
			if r.ErrorKind != "" {
				errKind = r.ErrorKind
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Trigger, r.Status, duration, errKind)
		}
		w.Flush()
		return nil
	},
}

// runSummary is the machine readable history row.
type runSummary struct {
	ID           string     `json:"id" yaml:"id"`
	Trigger      string     `json:"trigger" yaml:"trigger"`
	Status       string     `json:"status" yaml:"status"`
	ErrorKind    string     `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Plan         []string   `json:"plan" yaml:"plan"`
	StartedAt    time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

func summarize(r *models.Run) runSummary {
	plan := []string{}
	if r.Plan != "" {
		plan = strings.Split(r.Plan, ",")
	}
	return runSummary{
		ID:           r.ID,
		Trigger:      r.Trigger,
		Status:       r.Status,
		ErrorKind:    r.ErrorKind,
		ErrorMessage: r.ErrorMessage,
		Plan:         plan,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

var showCmd = &cobra.Command{
	Use:               "show [run-id]",
	Short:             "Show a stored report",
	Long:              `Show the stored report of a run. Without an ID the most recent run is shown.`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeRunIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}

		var id string
		if len(args) == 1 {
			id = args[0]
		} else {
			last, err := appInstance.Storage.GetSetting(ctx, storage.SettingLastRunID)
			if err != nil || last == "" {
				return fmt.Errorf("no stored runs yet")
			}
			id = last
		}

		view, err := app.LoadView(ctx, appInstance.Storage, resolveRunID(ctx, id))
		if err != nil {
			return err
		}
		return writeReport(cmd.OutOrStdout(), format, view)
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than the retention setting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := app.Prune(context.Background(), appInstance.Storage)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d runs\n", n)
		return nil
	},
}

// resolveRunID expands a unique suffix of a recent run ID, like the short
// IDs the TUI shows. Anything else is returned unchanged.
func resolveRunID(ctx context.Context, id string) string {
	if len(id) >= 26 {
		return id
	}
	runs, err := appInstance.Storage.ListRuns(ctx, storage.RunFilter{Limit: 200})
	if err != nil {
		return id
	}
	var match string
	for _, r := range runs {
		if strings.HasSuffix(r.ID, strings.ToUpper(id)) {
			if match != "" {
				return id
			}
			match = r.ID
		}
	}
	if match == "" {
		return id
	}
	return match
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "maximum runs to list")
	historyCmd.Flags().String("status", "", "only runs with this status (running, passed, failed)")
	historyCmd.Flags().String("trigger", "", "only runs started by (cli, api, schedule, tui)")
	historyCmd.Flags().Duration("since", 0, "only runs started within this duration")
	historyCmd.Flags().StringP("format", "o", formatTable, "output format (table, json, yaml)")
	_ = historyCmd.RegisterFlagCompletionFunc("status", cobra.FixedCompletions(
		[]string{models.RunRunning, models.RunPassed, models.RunFailed}, cobra.ShellCompDirectiveNoFileComp))
	_ = historyCmd.RegisterFlagCompletionFunc("trigger", cobra.FixedCompletions(
		[]string{models.TriggerCLI, models.TriggerAPI, models.TriggerSchedule, models.TriggerTUI}, cobra.ShellCompDirectiveNoFileComp))

	showCmd.Flags().StringP("format", "o", formatTable, "output format (table, json, yaml)")

	historyCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
}
