package list

import (
	"github.com/spf13/cobra"
)

// ListCmd is the base list command for listing resources.
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources",
	Long: `List capture interfaces and the built-in protocol signatures.

Subcommands:
  interfaces  - List network interfaces available for live classification
  signatures  - List the registered protocol signatures

Examples:
  ymsgcat list interfaces
  ymsgcat list signatures`,
	// No Run function - requires a subcommand
}

func init() {
	ListCmd.AddCommand(interfacesCmd)
	ListCmd.AddCommand(signaturesCmd)
}
