package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewIntegratorCmd creates the integrator command group.
func NewIntegratorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrator",
		Short: "Manage integrator registrations",
	}

	cmd.AddCommand(newIntegratorRegisterCmd())
	cmd.AddCommand(newIntegratorGetCmd())
	cmd.AddCommand(newIntegratorSetFeeCmd())
	cmd.AddCommand(newIntegratorSetNameCmd())

	return cmd
}

func newIntegratorRegisterCmd() *cobra.Command {
	var feeBps uint64
	var name string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register as an integrator",
		Long:  "Register the caller address as an integrator. Registration is one-time; use set-fee and set-name to change details afterwards.",
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			integrator, err := GetClient().RegisterIntegrator(feeBps, name)
			if err != nil {
				return fmt.Errorf("failed to register integrator: %w", err)
			}
			Success("Integrator registered")
			fmt.Println(integratorBox(integrator))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&feeBps, "fee-bps", 0, "Default integrator fee in bps")
	cmd.Flags().StringVar(&name, "name", "", "Display name (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newIntegratorGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [address]",
		Short: "Show an integrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			integrator, err := GetClient().GetIntegrator(args[0])
			if err != nil {
				return fmt.Errorf("failed to get integrator: %w", err)
			}
			fmt.Println(integratorBox(integrator))
			return nil
		},
	}
}

func newIntegratorSetFeeCmd() *cobra.Command {
	var feeBps uint64

	cmd := &cobra.Command{
		Use:   "set-fee [address]",
		Short: "Update an integrator's default fee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.SetIntegratorFee(args[0], feeBps); err != nil {
				return fmt.Errorf("failed to update fee: %w", err)
			}
			Success("Fee updated")
			if integrator, err := c.GetIntegrator(args[0]); err == nil {
				fmt.Println(integratorBox(integrator))
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&feeBps, "fee-bps", 0, "New fee in bps (required)")
	_ = cmd.MarkFlagRequired("fee-bps")
	return cmd
}

func newIntegratorSetNameCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "set-name [address]",
		Short: "Update an integrator's display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.SetIntegratorName(args[0], name); err != nil {
				return fmt.Errorf("failed to update name: %w", err)
			}
			Success("Name updated")
			if integrator, err := c.GetIntegrator(args[0]); err == nil {
				fmt.Println(integratorBox(integrator))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New display name (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func integratorBox(in *Integrator) string {
	return StatusBox("Integrator", [][2]string{
		{"Address", FormatAddress(in.Integrator)},
		{"Name", in.Name},
		{"Fee", FormatBps(in.FeeBps)},
		{"Orders", fmt.Sprintf("%d", in.TotalOrders)},
		{"Volume", FormatAmountString(in.TotalVolume)},
		{"Registered", in.RegisteredAt.Format(time.RFC3339)},
	})
}
