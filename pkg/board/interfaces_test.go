package board

import (
	"context"
	"errors"
	"testing"

	"github.com/google/gousb"
)

func TestClassifyUSBDevice(t *testing.T) {
	info, ok := classifyUSBDevice(&gousb.DeviceDesc{Vendor: 0x0403, Product: 0x6010, Bus: 1, Address: 7})
	if !ok {
		t.Fatalf("FT2232H not recognised")
	}
	if info.Kind != InterfaceKindFTDI || info.Bus != 1 || info.Address != 7 {
		t.Fatalf("unexpected info: %+v", info)
	}

	if _, ok := classifyUSBDevice(&gousb.DeviceDesc{Vendor: 0x1234, Product: 0x5678}); ok {
		t.Fatalf("unknown device classified as a bridge")
	}
}

func TestInterfaceLabel(t *testing.T) {
	if got := (InterfaceInfo{Description: "cable"}).Label(); got != "cable" {
		t.Fatalf("Label = %q", got)
	}
	if got := (InterfaceInfo{Kind: InterfaceKindFTDI, VendorID: 0x0403, ProductID: 0x6014}).Label(); got != "ftdi (0403:6014)" {
		t.Fatalf("Label = %q", got)
	}
}

// fakeBus visits descs the way gousb.Context.OpenDevices does.
func fakeBus(err error, descs ...*gousb.DeviceDesc) func(func(*gousb.DeviceDesc) bool) error {
	return func(visit func(*gousb.DeviceDesc) bool) error {
		for _, d := range descs {
			visit(d)
		}
		return err
	}
}

func TestDiscoverInterfacesOrdersAndAppendsSimulator(t *testing.T) {
	bus := fakeBus(gousb.ErrorAccess,
		&gousb.DeviceDesc{Vendor: 0x03fd, Product: 0x0008, Bus: 2, Address: 4},
		&gousb.DeviceDesc{Vendor: 0x1234, Product: 0x5678, Bus: 1, Address: 1},
		&gousb.DeviceDesc{Vendor: 0x0403, Product: 0x6010, Bus: 1, Address: 9},
	)

	infos, err := discoverInterfaces(context.Background(), bus)
	if err != nil {
		t.Fatalf("discoverInterfaces returned error: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("found %d interfaces, want 3: %+v", len(infos), infos)
	}
	if infos[0].Kind != InterfaceKindFTDI || infos[1].Kind != InterfaceKindXilinx || infos[2].Kind != InterfaceKindSim {
		t.Fatalf("unexpected order: %+v", infos)
	}
}

func TestDiscoverInterfacesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	infos, err := discoverInterfaces(ctx, fakeBus(nil, &gousb.DeviceDesc{Vendor: 0x0403, Product: 0x6010}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if infos != nil {
		t.Fatalf("infos = %+v, want none", infos)
	}
}

func TestDiscoverInterfacesBusError(t *testing.T) {
	_, err := discoverInterfaces(context.Background(), fakeBus(gousb.ErrorIO))
	if !errors.Is(err, gousb.ErrorIO) {
		t.Fatalf("error = %v, want gousb.ErrorIO", err)
	}
}
