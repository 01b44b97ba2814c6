package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/coordinator"
	"github.com/ppiankov/trustgate/internal/model"
)

func init() {
	for _, op := range []struct {
		op    coordinator.AdminOp
		use   string
		short string
	}{
		{coordinator.OpPromote, "promote", "Promote one step: stranger to contact, contact to whitelist"},
		{coordinator.OpDemote, "demote", "Demote one step: whitelist to contact, contact to stranger"},
		{coordinator.OpBlock, "block", "Block an identity (clears admin)"},
		{coordinator.OpUnblock, "unblock", "Unblock an identity; it restarts as a stranger"},
		{coordinator.OpGrantAdmin, "grant-admin", "Make an identity an admin"},
		{coordinator.OpRevokeAdmin, "revoke-admin", "Revoke admin, restoring the level held before the grant"},
	} {
		rootCmd.AddCommand(adminCommand(op.op, op.use, op.short))
	}
}

func adminCommand(op coordinator.AdminOp, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <identity>",
		Short: short,
		Long:  short + ".\n\nRuns as the owner identity configured as self (or found in the key directory).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdmin(cmd, op, model.ClientIdentity(args[0]))
		},
	}
}

func runAdmin(cmd *cobra.Command, op coordinator.AdminOp, target model.ClientIdentity) error {
	e, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer e.Close()

	self := e.Machine().Self()
	if self == "" {
		return errors.New("no owner identity: set self in the config or run 'trustgate keygen'")
	}
	level, err := e.Act(cmd.Context(), self, op, target)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", target.Short(), level)
	return nil
}
