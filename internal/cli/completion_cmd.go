package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate a shell completion script for rtcdoctor.

Besides commands and flags, 'show' completes recent run IDs and
'settings get|set' complete setting keys.

  bash:        source <(rtcdoctor completion bash)
  zsh:         rtcdoctor completion zsh > "${fpath[1]}/_rtcdoctor"
  fish:        rtcdoctor completion fish > ~/.config/fish/completions/rtcdoctor.fish
  powershell:  rtcdoctor completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	Annotations:           map[string]string{skipApp: ""},
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		noDesc, _ := cmd.Flags().GetBool("no-descriptions")
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(out, !noDesc)
		case "zsh":
			if noDesc {
				return rootCmd.GenZshCompletionNoDesc(out)
			}
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, !noDesc)
		case "powershell":
			if noDesc {
				return rootCmd.GenPowerShellCompletion(out)
			}
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		}
		return fmt.Errorf("unsupported shell %q", args[0])
	},
}

func init() {
	completionCmd.Flags().Bool("no-descriptions", false, "omit completion descriptions")
	rootCmd.AddCommand(completionCmd)
}
