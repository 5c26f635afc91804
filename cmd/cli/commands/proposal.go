package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewProposalCmd creates the proposal command group.
func NewProposalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposal",
		Short: "Manage routing proposals",
	}

	cmd.AddCommand(newProposalCreateCmd())
	cmd.AddCommand(newProposalGetCmd())
	cmd.AddCommand(newProposalAcceptCmd())
	cmd.AddCommand(newProposalRejectCmd())
	cmd.AddCommand(newProposalTimeoutCmd())
	cmd.AddCommand(newProposalExecuteCmd())

	return cmd
}

func newProposalCreateCmd() *cobra.Command {
	var params CreateProposalParams

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Propose a provider for an order (aggregator)",
		Long:  "Route an order to a provider. Reserves the proposed amount against the provider's capacity intent until the provider responds or the deadline passes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			proposal, err := GetClient().CreateProposal(params)
			if err != nil {
				return fmt.Errorf("failed to create proposal: %w", err)
			}

			Success("Proposal created")
			fmt.Println(proposalBox(proposal))
			return nil
		},
	}

	cmd.Flags().StringVar(&params.OrderID, "order", "", "Order ID (required)")
	cmd.Flags().StringVar(&params.Provider, "provider", "", "Provider address (required)")
	cmd.Flags().Uint64Var(&params.FeeBps, "fee-bps", 0, "Provider fee in bps (required)")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("fee-bps")

	return cmd
}

func newProposalGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [proposal-id]",
		Short: "Show a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proposal, err := GetClient().GetProposal(args[0])
			if err != nil {
				return fmt.Errorf("failed to get proposal: %w", err)
			}
			fmt.Println(proposalBox(proposal))
			return nil
		},
	}
}

func newProposalAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept [proposal-id]",
		Short: "Accept a proposal (provider)",
		Long:  "Commit to fulfil an order. Only the proposed provider may accept, and only before the deadline. The first acceptance for an order wins.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.AcceptProposal(args[0]); err != nil {
				return fmt.Errorf("failed to accept proposal: %w", err)
			}
			Success("Proposal accepted")
			if proposal, err := c.GetProposal(args[0]); err == nil {
				fmt.Println(proposalBox(proposal))
			}
			return nil
		},
	}
}

func newProposalRejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject [proposal-id]",
		Short: "Reject a proposal (provider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.RejectProposal(args[0], reason); err != nil {
				return fmt.Errorf("failed to reject proposal: %w", err)
			}
			Success("Proposal rejected, capacity released")
			if proposal, err := c.GetProposal(args[0]); err == nil {
				fmt.Println(proposalBox(proposal))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Rejection reason")
	return cmd
}

func newProposalTimeoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeout [proposal-id]",
		Short: "Time out an unanswered proposal (aggregator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.TimeoutProposal(args[0]); err != nil {
				return fmt.Errorf("failed to time out proposal: %w", err)
			}
			Success("Proposal timed out, capacity released")
			if proposal, err := c.GetProposal(args[0]); err == nil {
				fmt.Println(proposalBox(proposal))
			}
			return nil
		},
	}
}

func newProposalExecuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute [proposal-id]",
		Short: "Execute settlement for an accepted proposal (aggregator)",
		Long:  "Disburse the escrowed order amount: protocol fee to the treasury, integrator fee to the integrator, remainder to the provider.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.ExecuteSettlement(args[0]); err != nil {
				return fmt.Errorf("failed to execute settlement: %w", err)
			}
			Success("Settlement executed")
			if proposal, err := c.GetProposal(args[0]); err == nil {
				if order, err := c.GetOrder(proposal.OrderID); err == nil {
					fmt.Println(orderBox(order))
				}
			}
			return nil
		},
	}
}

func proposalBox(p *Proposal) string {
	return StatusBox("Proposal", [][2]string{
		{"ID", p.ID},
		{"Order", FormatID(p.OrderID)},
		{"Provider", FormatAddress(p.Provider)},
		{"Amount", FormatAmountString(p.Amount)},
		{"Fee", FormatBps(p.FeeBps)},
		{"Status", p.Status},
		{"Executed", fmt.Sprintf("%v", p.Executed)},
		{"Proposed", p.ProposedAt.Format(time.RFC3339)},
		{"Deadline", p.Deadline.Format(time.RFC3339)},
	})
}
