package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GReX-Telescope/snap_bringup/pkg/board"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List USB service bridges attached to this host",
	Long: `Scan the host for the USB bridges used to service SNAP boards (FTDI
JTAG/UART bridges, Xilinx platform cables) and print what was found. Use this
to check the recovery path when a board does not answer on the network.`,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	infos, err := board.DiscoverInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("discover interfaces: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No interfaces found.")
		return nil
	}

	fmt.Fprintln(out, "Detected service interfaces:")
	for _, iface := range infos {
		fmt.Fprintf(out, "  - %s [%s] (VID:PID %04X:%04X)\n", iface.Label(), iface.Kind, iface.VendorID, iface.ProductID)
	}
	return nil
}
