package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Check policy and list edits as they are saved",
	Long: "Opens the engine and watches the configured policy file and list\n" +
		"directory. Each saved policy is parsed and its diff against the previous\n" +
		"one printed; a policy edit that fails to parse is reported and ignored.\n" +
		"Reloads are audited and sent to the configured alert webhooks. Hand-edited\n" +
		"list files are reloaded and cross-list duplicates repaired.\n\n" +
		"CLI commands read the files afresh on every run. A process that embeds\n" +
		"the engine hot-reloads through the SDK's Client.Watch instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()
		fmt.Fprintf(os.Stderr, "watching %s\n", e.Config.ListsDir)
		return e.Watch(cmd.Context())
	},
}
