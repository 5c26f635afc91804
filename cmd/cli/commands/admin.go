package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewAdminCmd creates the admin command group.
func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Node administration (admin role required)",
	}

	cmd.AddCommand(newAdminGrantCmd())
	cmd.AddCommand(newAdminRevokeCmd())
	cmd.AddCommand(newAdminLockCmd())
	cmd.AddCommand(newAdminUnlockCmd())

	return cmd
}

func newAdminGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant [role] [address]",
		Short: "Grant a role to an address",
		Long:  "Grant a role (admin, operator, aggregator, provider, platform_service) to an address.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			if err := GetClient().AdminRole("grant", args[0], args[1]); err != nil {
				return fmt.Errorf("failed to grant role: %w", err)
			}
			Success(fmt.Sprintf("Granted %s to %s", args[0], FormatAddress(args[1])))
			return nil
		},
	}
}

func newAdminRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [role] [address]",
		Short: "Revoke a role from an address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			if err := GetClient().AdminRole("revoke", args[0], args[1]); err != nil {
				return fmt.Errorf("failed to revoke role: %w", err)
			}
			Success(fmt.Sprintf("Revoked %s from %s", args[0], FormatAddress(args[1])))
			return nil
		},
	}
}

func newAdminLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Lock the node (rejects all mutations)",
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			if err := GetClient().AdminLock(); err != nil {
				return fmt.Errorf("failed to lock: %w", err)
			}
			Warning("Node locked")
			return nil
		},
	}
}

func newAdminUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			if err := GetClient().AdminUnlock(); err != nil {
				return fmt.Errorf("failed to unlock: %w", err)
			}
			Success("Node unlocked")
			return nil
		},
	}
}
