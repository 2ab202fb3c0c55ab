package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rtcdoctor/internal/app"
	"rtcdoctor/internal/ice"
	"rtcdoctor/internal/probe"
	"rtcdoctor/internal/storage/models"
	"rtcdoctor/internal/troubleshoot"
)

// errRunFailed is returned when diagnostics ran but found a problem.
var errRunFailed = errors.New("diagnostics failed")

func exitCode(err error) int {
	if errors.Is(err, errRunFailed) {
		return 2
	}
	return 1
}

// runFlags are the run configuration flags. Only flags given on the command
// line override the configuration.
type runFlags struct {
	audio             bool
	video             bool
	skipPermissions   bool
	legacyPermissions bool
	integration       bool
	maxPortAttempts   int
	retryInterval     time.Duration
	probeTimeout      time.Duration
	audioDevice       string
	videoDevice       string
	screen            bool
	iceServers        []string
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.BoolVar(&f.audio, "audio", true, "run the microphone checks")
	fs.BoolVar(&f.video, "video", true, "run the camera checks")
	fs.BoolVar(&f.skipPermissions, "skip-permissions", false, "skip the device permission checks")
	fs.BoolVar(&f.legacyPermissions, "legacy-permissions", false, "check permissions by opening the device")
	fs.BoolVar(&f.integration, "integration", false, "enumerate devices only, run no checks")
	fs.IntVar(&f.maxPortAttempts, "max-port-attempts", 20, "relay connectivity attempts")
	fs.DurationVar(&f.retryInterval, "retry-interval", 0, "pause between connectivity attempts")
	fs.DurationVar(&f.probeTimeout, "probe-timeout", 0, "per-probe deadline, 0 disables it")
	fs.StringVar(&f.audioDevice, "audio-device", "", "capture device for the microphone checks")
	fs.StringVar(&f.videoDevice, "video-device", "", "capture device for the camera checks")
	fs.BoolVar(&f.screen, "screen", false, "size bandwidth for a screen-sharing stream")
	fs.StringSliceVar(&f.iceServers, "ice-server", nil, "STUN/TURN URI to use instead of the configured servers (repeatable)")
}

// configure returns a RunOptions.Configure applying the changed flags.
func (f *runFlags) configure(cmd *cobra.Command) (func(*troubleshoot.Config), error) {
	fs := cmd.Flags()

	var servers []ice.Server
	if fs.Changed("ice-server") {
		cfg := appInstance.Config.ICE
		parsed, err := ice.NewRegistry().ParseAll(f.iceServers, cfg.Username, cfg.Credential)
		if err != nil {
			return nil, err
		}
		servers = parsed
	}

	return func(c *troubleshoot.Config) {
		if c.Media == nil {
			c.Media = &probe.MediaOptions{Audio: c.Audio, Video: c.Video}
		}
		if fs.Changed("audio") {
			c.Audio = f.audio
			c.Media.Audio = f.audio
		}
		if fs.Changed("video") {
			c.Video = f.video
			c.Media.Video = f.video
		}
		if fs.Changed("skip-permissions") {
			c.SkipPermissionsCheck = f.skipPermissions
		}
		if fs.Changed("legacy-permissions") {
			c.UseLegacyPermissionCheck = f.legacyPermissions
		}
		if fs.Changed("integration") {
			c.IntegrationTestMode = f.integration
		}
		if fs.Changed("max-port-attempts") {
			c.MaxPortAttempts = f.maxPortAttempts
		}
		if fs.Changed("retry-interval") {
			c.RetryInterval = f.retryInterval
		}
		if fs.Changed("probe-timeout") {
			c.ProbeTimeout = f.probeTimeout
		}
		if fs.Changed("audio-device") {
			c.Media.AudioDevice = f.audioDevice
		}
		if fs.Changed("video-device") {
			c.Media.VideoDevice = f.videoDevice
		}
		if fs.Changed("screen") {
			c.Media.ScreenStream = f.screen
		}
		if servers != nil {
			c.ICEServers = servers
		}
	}, nil
}

var (
	runOpts   runFlags
	runFormat string
	runNoSave bool
	runTUI    bool
	runQuiet  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the diagnostics",
	Long: `Run every diagnostic check once and print the report.

Progress is printed to stderr as checks settle. The exit status is 0 when
every check passed, 2 when a check failed and 1 on any other error.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(runFormat); err != nil {
			return err
		}
		configure, err := runOpts.configure(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if runTUI {
			return startTUI(ctx, configure)
		}

		opts := app.RunOptions{
			Trigger:   models.TriggerCLI,
			NoSave:    runNoSave,
			Configure: configure,
		}
		if !runQuiet {
			errOut := cmd.ErrOrStderr()
			opts.Progress = func(o probe.Outcome, settled, total int) {
				status := "ok"
				if !o.Passed() {
					status = fmt.Sprintf("FAIL (%s)", o.Kind())
				}
				fmt.Fprintf(errOut, "  [%d/%d] %-24s %s\n", settled, total, o.Name, status)
			}
		}

		rep, runErr := appInstance.Runner.Run(ctx, opts)
		if runErr != nil && rep.RunID == "" {
			// the run never started
			return runErr
		}
		if err := writeReport(cmd.OutOrStdout(), runFormat, rep.View()); err != nil {
			return err
		}
		if !rep.Passed() {
			return fmt.Errorf("%w: %v", errRunFailed, rep.Err)
		}
		return nil
	},
}

func init() {
	runOpts.register(runCmd)
	runCmd.Flags().StringVarP(&runFormat, "format", "o", formatTable, "output format (table, json, yaml)")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "do not store the report")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "show live progress in the terminal UI")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "do not print progress")
	_ = runCmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions(formats, cobra.ShellCompDirectiveNoFileComp))

	rootCmd.AddCommand(runCmd)
}

// startTUI opens the terminal UI and starts a run immediately.
func startTUI(ctx context.Context, configure func(*troubleshoot.Config)) error {
	return openTUI(ctx, true, configure)
}
