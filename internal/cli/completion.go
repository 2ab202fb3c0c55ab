package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"rtcdoctor/internal/storage"
)

// ensureApp lazily initializes appInstance for shell completion.
// Cobra may invoke ValidArgsFunction without running PersistentPreRunE.
func ensureApp() error {
	return initApp()
}

// completeRunIDs provides shell completion for recent run IDs.
func completeRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	if err := ensureApp(); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	runs, err := appInstance.Storage.ListRuns(context.Background(), storage.RunFilter{Limit: 50})
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var completions []string
	for _, r := range runs {
		if strings.HasPrefix(r.ID, strings.ToUpper(toComplete)) {
			completions = append(completions, r.ID+"\t"+r.Status+" "+r.StartedAt.Local().Format("2006-01-02 15:04"))
		}
	}

	return completions, cobra.ShellCompDirectiveNoFileComp
}
