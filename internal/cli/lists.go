package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/liststore"
	"github.com/ppiankov/trustgate/internal/model"
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(levelCmd)
}

var listCmd = &cobra.Command{
	Use:   "list <level>",
	Short: "Print the entries of a trust list",
	Long:  "Levels: stranger, contact, whitelist, admin, blocked.",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

var levelCmd = &cobra.Command{
	Use:   "level <identity>",
	Short: "Print the trust level of an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runLevel,
}

func openLists() (*liststore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return liststore.Open(cfg.ListsDir)
}

func runList(cmd *cobra.Command, args []string) error {
	level, err := model.ParseTrustLevel(args[0])
	if err != nil {
		return err
	}
	lists, err := openLists()
	if err != nil {
		return err
	}
	entries, err := lists.Entries(level)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintln(cmd.OutOrStdout(), e)
	}
	return nil
}

func runLevel(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer e.Close()
	fmt.Fprintln(cmd.OutOrStdout(), e.Machine().LevelOf(model.ClientIdentity(args[0])))
	return nil
}
