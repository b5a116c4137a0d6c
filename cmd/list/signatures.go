package list

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/endorses/ymsgcat/internal/pkg/detector"
	"github.com/endorses/ymsgcat/internal/pkg/detector/signatures"
	"github.com/spf13/cobra"
)

var signaturesCmd = &cobra.Command{
	Use:   "signatures",
	Short: "List the registered protocol signatures",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeSignatures(cmd.OutOrStdout(), detector.GetDefault().GetSignatures())
	},
}

func writeSignatures(out io.Writer, sigs []signatures.Signature) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPROTOCOLS\tPRIORITY\tTYPE\tPORTS")
	for _, sig := range sigs {
		kind := "regular"
		if leaf, ok := sig.(signatures.LeafSignature); ok {
			kind = "leaf (under " + strings.Join(leaf.HostProtocols(), ", ") + ")"
		}
		ports := "-"
		if hinter, ok := sig.(signatures.PortHinter); ok {
			ports = strings.Trim(fmt.Sprint(hinter.Ports()), "[]")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			sig.Name(), strings.Join(sig.Protocols(), ","), sig.Priority(), kind, ports)
	}
	return tw.Flush()
}
