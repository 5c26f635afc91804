package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewOrderCmd creates the order command group.
func NewOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Manage payment orders",
	}

	cmd.AddCommand(newOrderCreateCmd())
	cmd.AddCommand(newOrderGetCmd())
	cmd.AddCommand(newOrderProposalsCmd())
	cmd.AddCommand(newOrderRefundCmd())
	cmd.AddCommand(newOrderCancelCmd())

	return cmd
}

func newOrderCreateCmd() *cobra.Command {
	var params CreateOrderParams

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an order (escrows funds)",
		Long:  "Create a payment order. The node pulls the amount from the caller into escrow; funds are released on settlement or refund.",
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			order, err := GetClient().CreateOrder(params)
			if err != nil {
				return fmt.Errorf("failed to create order: %w", err)
			}

			Success("Order created")
			fmt.Println(orderBox(order))
			return nil
		},
	}

	cmd.Flags().StringVar(&params.Asset, "asset", "", "ERC-20 asset address (required)")
	cmd.Flags().StringVar(&params.Amount, "amount", "", "Amount in base units (required)")
	cmd.Flags().StringVar(&params.RefundAddress, "refund-address", "", "Refund destination (required)")
	cmd.Flags().StringVar(&params.Integrator, "integrator", "", "Integrator address (required)")
	cmd.Flags().Uint64Var(&params.IntegratorFeeBps, "integrator-fee-bps", 0, "Integrator fee in bps")
	cmd.Flags().StringVar(&params.MessageHash, "message-hash", "", "Unique payment message hash (required)")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("refund-address")
	_ = cmd.MarkFlagRequired("integrator")
	_ = cmd.MarkFlagRequired("message-hash")

	return cmd
}

func newOrderGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [order-id]",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := GetClient().GetOrder(args[0])
			if err != nil {
				return fmt.Errorf("failed to get order: %w", err)
			}
			fmt.Println(orderBox(order))
			return nil
		},
	}
}

func newOrderProposalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proposals [order-id]",
		Short: "List proposals for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proposals, err := GetClient().OrderProposals(args[0])
			if err != nil {
				return fmt.Errorf("failed to list proposals: %w", err)
			}
			if len(proposals) == 0 {
				Info("No proposals")
				return nil
			}

			rows := make([][]string, 0, len(proposals))
			for _, p := range proposals {
				rows = append(rows, []string{
					FormatID(p.ID),
					FormatAddress(p.Provider),
					FormatBps(p.FeeBps),
					p.Status,
					p.Deadline.Format(time.RFC3339),
				})
			}
			fmt.Println(RenderTable([]string{"ID", "PROVIDER", "FEE", "STATUS", "DEADLINE"}, rows))
			return nil
		},
	}
}

func newOrderRefundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refund [order-id]",
		Short: "Refund an expired order (aggregator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.RefundOrder(args[0]); err != nil {
				return fmt.Errorf("failed to refund order: %w", err)
			}
			Success("Order refunded")
			if order, err := c.GetOrder(args[0]); err == nil {
				fmt.Println(orderBox(order))
			}
			return nil
		},
	}
}

func newOrderCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [order-id]",
		Short: "Cancel your own expired order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			GetCallerOrDie()

			c := GetClient()
			if err := c.CancelOrder(args[0]); err != nil {
				return fmt.Errorf("failed to cancel order: %w", err)
			}
			Success("Order cancelled, funds returned")
			if order, err := c.GetOrder(args[0]); err == nil {
				fmt.Println(orderBox(order))
			}
			return nil
		},
	}
}

func orderBox(order *Order) string {
	fields := [][2]string{
		{"ID", order.ID},
		{"Status", order.Status},
		{"User", FormatAddress(order.User)},
		{"Asset", FormatAddress(order.Asset)},
		{"Amount", FormatAmountString(order.Amount)},
		{"Tier", fmt.Sprintf("%d", order.Tier)},
		{"Integrator", FormatAddress(order.Integrator)},
		{"Integrator fee", FormatBps(order.IntegratorFeeBps)},
		{"Created", order.CreatedAt.Format(time.RFC3339)},
		{"Expires", order.ExpiresAt.Format(time.RFC3339)},
	}
	if order.AcceptedProposalID != nil {
		fields = append(fields, [2]string{"Proposal", FormatID(*order.AcceptedProposalID)})
	}
	if order.FulfilledBy != nil {
		fields = append(fields, [2]string{"Fulfilled by", FormatAddress(*order.FulfilledBy)})
	}
	return StatusBox("Order", fields)
}
