package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clearmesh/clearmesh/cmd/cli/commands"
)

var rootCmd = &cobra.Command{
	Use:   "clearmesh",
	Short: "Clearmesh settlement network CLI",
	Long:  "Command-line client for a clearmesh node: orders, routing proposals, capacity intents, and settlement.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.APIEndpoint, "api", "", "Node API endpoint (default: from config)")
	rootCmd.PersistentFlags().StringVar(&commands.CallerAddress, "caller", "", "Caller address sent with requests (default: CLEARMESH_CALLER)")
}

func main() {
	rootCmd.AddCommand(commands.NewOrderCmd())
	rootCmd.AddCommand(commands.NewProposalCmd())
	rootCmd.AddCommand(commands.NewIntentCmd())
	rootCmd.AddCommand(commands.NewProviderCmd())
	rootCmd.AddCommand(commands.NewIntegratorCmd())
	rootCmd.AddCommand(commands.NewNonceCmd())
	rootCmd.AddCommand(commands.NewAdminCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
