package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rtcdoctor/internal/app"
	"rtcdoctor/internal/config"
	"rtcdoctor/internal/logging"
	"rtcdoctor/internal/paths"
)

var (
	appInstance *app.App
	version     = "dev"
)

// Global flag values.
var (
	configPath string
	verbose    bool
	logLevel   string
	logFormat  string
	dbPath     string
)

// skipApp marks commands that run without opening storage.
const skipApp = "rtcdoctor/skip-app"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rtcdoctor",
	Short: "Real-time communication diagnostics for this host",
	Long: `rtcdoctor - real-time communication diagnostics

  Checks whether this host is ready for audio/video calls: device
  permissions, microphone level, camera capture and resolutions, NAT type,
  relay connectivity, throughput and bandwidth.

  Quick start:
    rtcdoctor devices
    rtcdoctor run
    rtcdoctor run --tui
    rtcdoctor history

  Every run is stored locally and can be shown again with 'rtcdoctor show'.
  'rtcdoctor serve' exposes runs over HTTP and 'rtcdoctor watch' repeats
  them on an interval.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := cmd.Annotations[skipApp]; ok {
			return nil
		}
		if err := initApp(); err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Cleanup
		if appInstance != nil {
			err := appInstance.Close()
			appInstance = nil
			return err
		}
		return nil
	},
}

// initApp loads configuration, applies the global flags and opens the app.
func initApp() error {
	if appInstance != nil {
		return nil
	}

	searchDir := ""
	if configPath == "" {
		if dir, err := paths.ConfigDir(); err == nil {
			searchDir = dir
		}
	}
	cfg, err := config.Load(configPath, searchDir)
	if err != nil {
		return err
	}

	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	appInstance, err = app.New(cfg, logger)
	return err
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print version information",
	Annotations: map[string]string{skipApp: ""},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rtcdoctor %s\n", version)
	},
}
