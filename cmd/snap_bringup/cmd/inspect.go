package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/GReX-Telescope/snap_bringup/pkg/fpg"
)

var (
	showRegisters bool
	showDevices   bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <fpg-file>",
	Short: "Show the register map and devices of an .fpg image",
	Long: `Parse the header of an .fpg image and print the registers and the
devices (Simulink blocks) it declares, without touching any board.

Examples:
  snap_bringup inspect grex.fpg
  snap_bringup inspect --devices=false grex.fpg`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVarP(&showRegisters, "registers", "r", true, "show the register map")
	inspectCmd.Flags().BoolVarP(&showDevices, "devices", "d", true, "show device metadata")
}

func runInspect(cmd *cobra.Command, args []string) error {
	img, err := fpg.ParseFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	kind := "raw"
	if img.Compressed() {
		kind = "gzip"
	}
	fmt.Fprintf(out, "Image: %s\n", img.Path)
	fmt.Fprintf(out, "Bitstream: %d bytes (%s)\n", len(img.Bitstream), kind)
	fmt.Fprintf(out, "Registers: %d, devices: %d\n\n", len(img.Registers), len(img.Devices()))

	if showRegisters && len(img.Registers) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleRounded)
		t.SetTitle("Registers")
		t.AppendHeader(table.Row{"Name", "Offset", "Size"})
		for _, reg := range img.Registers {
			t.AppendRow(table.Row{reg.Name, fmt.Sprintf("0x%08x", reg.Offset), fmt.Sprintf("0x%x", reg.Size)})
		}
		t.Render()
		fmt.Fprintln(out)
	}

	if showDevices {
		devices := img.Devices()
		if len(devices) == 0 {
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleRounded)
		t.SetTitle("Devices")
		t.AppendHeader(table.Row{"Name", "Type", "Parameters"})
		for _, dev := range devices {
			keys := lo.Keys(dev.Params)
			sort.Strings(keys)
			params := make([]string, 0, len(keys))
			for _, key := range keys {
				params = append(params, key+"="+dev.Params[key])
			}
			t.AppendRow(table.Row{dev.Name, dev.Type, strings.Join(params, "\n")})
		}
		t.Render()
	}
	return nil
}
