package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(StatusBox("clearmesh", [][2]string{
				{"Version", GetVersion()},
				{"Commit", GetCommit()},
				{"Built", BuildDate},
				{"Go", GetGoVersion()},
			}))
		},
	}
}
