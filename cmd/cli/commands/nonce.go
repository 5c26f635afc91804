package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewNonceCmd creates the nonce command.
func NewNonceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nonce [address]",
		Short: "Show the next order nonce for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nonce, err := GetClient().Nonce(args[0])
			if err != nil {
				return fmt.Errorf("failed to get nonce: %w", err)
			}
			fmt.Println(nonce)
			return nil
		},
	}
}
