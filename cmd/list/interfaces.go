package list

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/gopacket/pcap"
	"github.com/spf13/cobra"
)

var showAll bool

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List network interfaces available for live classification",
	Long:  `List network interfaces that can be passed to "classify --interface". Requires capture permissions.`,
	RunE:  runInterfaces,
}

func init() {
	interfacesCmd.Flags().BoolVarP(&showAll, "all", "a", false, "include loopback, container and virtual machine interfaces")
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if os.Geteuid() != 0 {
		fmt.Fprintln(out, "Warning: running without root privileges, some interfaces may be missing.")
		fmt.Fprintln(out)
	}

	devices, err := pcap.FindAllDevs()
	if err != nil {
		return fmt.Errorf("unable to list network interfaces: %w", err)
	}

	writeInterfaces(out, devices, showAll)
	return nil
}

func writeInterfaces(out io.Writer, devices []pcap.Interface, all bool) {
	fmt.Fprintln(out, "Network interfaces:")
	shown := 0
	for _, device := range devices {
		if !all && !isCaptureInterface(device.Name) {
			continue
		}
		shown++
		fmt.Fprintf(out, "  %s", device.Name)
		if desc := sanitizeDescription(device.Description); desc != "" {
			fmt.Fprintf(out, " - %s", desc)
		}
		for _, addr := range device.Addresses {
			fmt.Fprintf(out, " %s", addr.IP)
		}
		fmt.Fprintln(out)
	}

	if shown == 0 {
		fmt.Fprintln(out, "  No suitable interfaces found.")
	}
}

// Interfaces whose names contain these never carry messenger traffic of interest
var excludedInterfacePatterns = []string{
	"lo", "loopback",
	"usb", "bluetooth",
	"docker", "veth",
	"vmnet", "vbox",
	"isatap", "teredo",
}

func isCaptureInterface(name string) bool {
	name = strings.ToLower(name)
	for _, pattern := range excludedInterfacePatterns {
		if strings.Contains(name, pattern) {
			return false
		}
	}
	return true
}

func sanitizeDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	if len(desc) > 50 {
		desc = desc[:50] + "..."
	}
	return desc
}
