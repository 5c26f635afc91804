package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewProviderCmd creates the provider command group.
func NewProviderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Inspect and moderate providers",
	}

	cmd.AddCommand(newProviderReputationCmd())
	cmd.AddCommand(newProviderFlagCmd())
	cmd.AddCommand(newProviderBlacklistCmd())

	return cmd
}

func newProviderReputationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reputation [provider]",
		Short: "Show a provider's reputation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := GetClient().GetReputation(args[0])
			if err != nil {
				return fmt.Errorf("failed to get reputation: %w", err)
			}
			fmt.Println(reputationBox(rep))
			return nil
		},
	}
}

func newProviderFlagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flag [provider]",
		Short: "Flag a provider as fraudulent (aggregator)",
		Long:  "Permanently flag a provider as fraudulent and deactivate its capacity intent. This cannot be undone.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.FlagProvider(args[0]); err != nil {
				return fmt.Errorf("failed to flag provider: %w", err)
			}
			Warning("Provider flagged as fraudulent")
			if rep, err := c.GetReputation(args[0]); err == nil {
				fmt.Println(reputationBox(rep))
			}
			return nil
		},
	}
}

func newProviderBlacklistCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "blacklist [provider]",
		Short: "Blacklist a provider (admin)",
		Long:  "Permanently blacklist a provider: deactivates its intent and blocks all further calls from the address. This cannot be undone.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.BlacklistProvider(args[0], reason); err != nil {
				return fmt.Errorf("failed to blacklist provider: %w", err)
			}
			Warning("Provider blacklisted")
			if rep, err := c.GetReputation(args[0]); err == nil {
				fmt.Println(reputationBox(rep))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Blacklist reason")
	return cmd
}

func reputationBox(rep *Reputation) string {
	return StatusBox("Provider Reputation", [][2]string{
		{"Provider", FormatAddress(rep.Provider)},
		{"Total orders", fmt.Sprintf("%d", rep.TotalOrders)},
		{"Successful", fmt.Sprintf("%d", rep.SuccessfulOrders)},
		{"Failed", fmt.Sprintf("%d", rep.FailedOrders)},
		{"No-shows", fmt.Sprintf("%d", rep.NoShowCount)},
		{"Avg settlement", fmt.Sprintf("%ds", rep.AverageSettlementSecs)},
		{"Fraudulent", fmt.Sprintf("%v", rep.Fraudulent)},
		{"Blacklisted", fmt.Sprintf("%v", rep.Blacklisted)},
	})
}
