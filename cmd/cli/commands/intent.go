package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewIntentCmd creates the intent command group.
func NewIntentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intent",
		Short: "Manage provider capacity intents",
	}

	cmd.AddCommand(newIntentRegisterCmd())
	cmd.AddCommand(newIntentUpdateCmd())
	cmd.AddCommand(newIntentGetCmd())
	cmd.AddCommand(newIntentExpireCmd())
	cmd.AddCommand(newIntentReserveCmd())
	cmd.AddCommand(newIntentReleaseCmd())

	return cmd
}

func newIntentRegisterCmd() *cobra.Command {
	var params RegisterIntentParams

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register fulfilment capacity (provider)",
		Long:  "Advertise fulfilment capacity. Registering again replaces the previous intent wholesale.",
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			intent, err := GetClient().RegisterIntent(params)
			if err != nil {
				return fmt.Errorf("failed to register intent: %w", err)
			}
			Success("Intent registered")
			fmt.Println(intentBox(intent))
			return nil
		},
	}

	cmd.Flags().StringVar(&params.Currency, "currency", "", "Fiat currency code, e.g. NGN (required)")
	cmd.Flags().StringVar(&params.Amount, "amount", "", "Available capacity in base units (required)")
	cmd.Flags().Uint64Var(&params.MinFeeBps, "min-fee-bps", 0, "Minimum acceptable fee in bps")
	cmd.Flags().Uint64Var(&params.MaxFeeBps, "max-fee-bps", 0, "Maximum fee in bps (required)")
	cmd.Flags().Int64Var(&params.CommitmentWindowSecs, "commitment-window", 600, "Commitment window in seconds")
	_ = cmd.MarkFlagRequired("currency")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("max-fee-bps")

	return cmd
}

func newIntentUpdateCmd() *cobra.Command {
	var amount string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update available capacity (provider)",
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			intent, err := GetClient().UpdateIntent(amount)
			if err != nil {
				return fmt.Errorf("failed to update intent: %w", err)
			}
			Success("Intent updated")
			fmt.Println(intentBox(intent))
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "New available capacity (required)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newIntentGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [provider]",
		Short: "Show a provider's intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := GetClient().GetIntent(args[0])
			if err != nil {
				return fmt.Errorf("failed to get intent: %w", err)
			}
			fmt.Println(intentBox(intent))
			return nil
		},
	}
}

func newIntentExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire [provider]",
		Short: "Expire a stale intent",
		Long:  "Mark an intent inactive once its expiry has passed. Anyone may call this; it fails while the intent is still live.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.ExpireIntent(args[0]); err != nil {
				return fmt.Errorf("failed to expire intent: %w", err)
			}
			Success("Intent expired")
			if intent, err := c.GetIntent(args[0]); err == nil {
				fmt.Println(intentBox(intent))
			}
			return nil
		},
	}
}

func newIntentReserveCmd() *cobra.Command {
	var amount string

	cmd := &cobra.Command{
		Use:   "reserve [provider]",
		Short: "Reserve provider capacity (aggregator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.ReserveIntent(args[0], amount); err != nil {
				return fmt.Errorf("failed to reserve capacity: %w", err)
			}
			Success("Capacity reserved")
			if intent, err := c.GetIntent(args[0]); err == nil {
				fmt.Println(intentBox(intent))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "Amount to reserve (required)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newIntentReleaseCmd() *cobra.Command {
	var amount string

	cmd := &cobra.Command{
		Use:   "release [provider]",
		Short: "Release reserved capacity (aggregator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.ReleaseIntent(args[0], amount); err != nil {
				return fmt.Errorf("failed to release capacity: %w", err)
			}
			Success("Capacity released")
			if intent, err := c.GetIntent(args[0]); err == nil {
				fmt.Println(intentBox(intent))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "Amount to release (required)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func intentBox(intent *Intent) string {
	status := "inactive"
	if intent.Active {
		status = "active"
	}
	return StatusBox("Capacity Intent", [][2]string{
		{"Provider", FormatAddress(intent.Provider)},
		{"Currency", intent.Currency},
		{"Available", FormatAmountString(intent.AvailableAmount)},
		{"Fee range", FormatBps(intent.MinFeeBps) + " - " + FormatBps(intent.MaxFeeBps)},
		{"Window", fmt.Sprintf("%ds", intent.CommitmentWindowSecs)},
		{"Status", status},
		{"Registered", intent.RegisteredAt.Format(time.RFC3339)},
		{"Expires", intent.ExpiresAt.Format(time.RFC3339)},
	})
}
