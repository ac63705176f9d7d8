package board

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/gousb"
)

// InterfaceKind categorizes service bridges.
type InterfaceKind string

const (
	InterfaceKindFTDI    InterfaceKind = "ftdi"
	InterfaceKindXilinx  InterfaceKind = "xilinx-cable"
	InterfaceKindUnknown InterfaceKind = "unknown"
	InterfaceKindSim     InterfaceKind = "simulator"
)

// InterfaceInfo describes a locally attached USB bridge used to service a
// SNAP board (JTAG for recovery programming, UART console).
type InterfaceInfo struct {
	Kind        InterfaceKind
	Description string
	VendorID    uint16
	ProductID   uint16
	Bus         int
	Address     int
}

// Label returns a user-friendly description for the interface.
func (i InterfaceInfo) Label() string {
	if i.Description != "" {
		return i.Description
	}
	if i.Kind != "" {
		return fmt.Sprintf("%s (%04X:%04X)", string(i.Kind), i.VendorID, i.ProductID)
	}
	return fmt.Sprintf("Interface %04X:%04X", i.VendorID, i.ProductID)
}

// simInterface is listed after the hardware so operators can see that a
// dry run is possible without a board.
var simInterface = InterfaceInfo{
	Kind:        InterfaceKindSim,
	Description: "Simulator (sim://<name>, no hardware)",
}

// DiscoverInterfaces enumerates connected USB bridges that match known
// VID/PID pairs, ordered by bus and address, followed by the simulator.
func DiscoverInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	return discoverInterfaces(ctx, func(visit func(*gousb.DeviceDesc) bool) error {
		_, err := usb.OpenDevices(visit)
		return err
	})
}

// discoverInterfaces classifies every descriptor that enumerate visits.
// Devices are never opened. Cancellation stops classification and is
// returned to the caller.
func discoverInterfaces(ctx context.Context, enumerate func(visit func(*gousb.DeviceDesc) bool) error) ([]InterfaceInfo, error) {
	var found []InterfaceInfo
	err := enumerate(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() != nil {
			return false
		}
		if info, ok := classifyUSBDevice(desc); ok {
			found = append(found, info)
		}
		return false
	})
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	// Access errors come from devices we would not open anyway.
	if err != nil && !errors.Is(err, gousb.ErrorAccess) {
		return nil, fmt.Errorf("usb: %w", err)
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Bus != found[j].Bus {
			return found[i].Bus < found[j].Bus
		}
		return found[i].Address < found[j].Address
	})
	return append(found, simInterface), nil
}

func classifyUSBDevice(desc *gousb.DeviceDesc) (InterfaceInfo, bool) {
	for _, known := range knownBridges {
		if uint16(desc.Vendor) == known.VendorID && uint16(desc.Product) == known.ProductID {
			return InterfaceInfo{
				Kind:        known.Kind,
				Description: known.Description,
				VendorID:    known.VendorID,
				ProductID:   known.ProductID,
				Bus:         desc.Bus,
				Address:     desc.Address,
			}, true
		}
	}
	return InterfaceInfo{}, false
}

type knownUSBDevice struct {
	Kind        InterfaceKind
	VendorID    uint16
	ProductID   uint16
	Description string
}

var knownBridges = []knownUSBDevice{
	{Kind: InterfaceKindFTDI, VendorID: 0x0403, ProductID: 0x6010, Description: "FTDI FT2232H (JTAG/UART)"},
	{Kind: InterfaceKindFTDI, VendorID: 0x0403, ProductID: 0x6014, Description: "FTDI FT232H (JTAG)"},
	{Kind: InterfaceKindFTDI, VendorID: 0x0403, ProductID: 0x6001, Description: "FTDI FT232R (UART)"},
	{Kind: InterfaceKindXilinx, VendorID: 0x03fd, ProductID: 0x0008, Description: "Xilinx Platform Cable USB II"},
}
