package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rtcdoctor/internal/storage"
)

// settingValidators checks values before they are stored. Keys without an
// entry are read-only.
var settingValidators = map[string]func(string) error{
	storage.SettingRetentionDays: func(v string) error {
		if n, err := strconv.Atoi(v); err != nil || n < 0 {
			return fmt.Errorf("retention_days must be a whole number of days, got %q", v)
		}
		return nil
	},
	storage.SettingMaxPortAttempts: func(v string) error {
		if n, err := strconv.Atoi(v); err != nil || n < 1 {
			return fmt.Errorf("max_port_attempts must be at least 1, got %q", v)
		}
		return nil
	},
	storage.SettingProbeTimeout: func(v string) error {
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			return fmt.Errorf("probe_timeout must be a duration such as 30s, got %q", v)
		}
		return nil
	},
}

func settingKeys() []string {
	keys := make([]string, 0, len(settingValidators))
	for k := range settingValidators {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var settingsCmd = &cobra.Command{
	Use:     "settings",
	Aliases: []string{"setting"},
	Short:   "Manage stored settings",
	Long: `Stored settings override the configuration file for every run,
whether it is started from the CLI, the TUI, the API or a schedule.`,
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := appInstance.Storage.GetAllSettings(context.Background())
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVALUE")
		fmt.Fprintln(w, "---\t-----")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\n", k, settings[k])
		}
		w.Flush()
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return append(settingKeys(), storage.SettingLastRunID), cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := appInstance.Storage.GetSetting(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return settingKeys(), cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		validate, ok := settingValidators[key]
		if !ok {
			return fmt.Errorf("unknown or read-only setting %q (settable: %v)", key, settingKeys())
		}
		if err := validate(value); err != nil {
			return err
		}
		if err := appInstance.Storage.SetSetting(context.Background(), key, value); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", key, value)
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
