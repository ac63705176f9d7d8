package board

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestSimADC(t *testing.T) {
	sim := NewSimBoard("snap0")
	ctx := context.Background()

	adc, err := sim.ADC("snap_adc")
	if err != nil {
		t.Fatalf("ADC returned error: %v", err)
	}
	if err := adc.RampTest(ctx); err == nil {
		t.Fatalf("ramp test before init should fail")
	}
	if err := adc.Init(ctx, 500, 2); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}

	sim.FailRampTests(1)
	if err := adc.RampTest(ctx); err == nil {
		t.Fatalf("injected ramp failure not reported")
	}
	if err := adc.RampTest(ctx); err != nil {
		t.Fatalf("RampTest returned error: %v", err)
	}

	if err := adc.SelectInput(ctx, 0, [4]int{1, 1, 5, 2}); err == nil {
		t.Fatalf("input 5 should be rejected")
	}
	if err := adc.SelectInput(ctx, 1, [4]int{2, 2, 3, 3}); err != nil {
		t.Fatalf("SelectInput returned error: %v", err)
	}

	state := sim.SimADC("snap_adc")
	if state.SampleRateMHz != 500 || state.Channels != 2 || state.RampTests != 3 {
		t.Fatalf("adc state = %+v", state)
	}
	if state.Inputs[1] != [4]int{2, 2, 3, 3} {
		t.Fatalf("chip 1 inputs = %v", state.Inputs[1])
	}
}

func TestSimGbE(t *testing.T) {
	sim := NewSimBoard("snap0")
	ctx := context.Background()

	gbe, err := sim.GbE("gbe1")
	if err != nil {
		t.Fatalf("GbE returned error: %v", err)
	}
	mac, _ := net.ParseMAC("02:2e:46:e0:64:a1")
	if err := gbe.ConfigureCore(ctx, CoreConfig{MAC: mac, IP: net.IPv4(192, 168, 0, 20), Port: 60000}); err != nil {
		t.Fatalf("ConfigureCore returned error: %v", err)
	}
	if got := sim.Register("gbe1_linkup"); got != 1 {
		t.Fatalf("gbe1_linkup = %d, want 1", got)
	}

	dest, _ := net.ParseMAC("98:b7:85:a7:ec:78")
	if err := gbe.SetARPEntry(ctx, net.IPv4(192, 168, 0, 1), dest); err != nil {
		t.Fatalf("SetARPEntry returned error: %v", err)
	}
	if got := sim.SimGbE("gbe1").ARP["192.168.0.1"]; got.String() != dest.String() {
		t.Fatalf("arp entry = %v, want %v", got, dest)
	}
}

func TestSimFailOn(t *testing.T) {
	sim := NewSimBoard("snap0")
	ctx := context.Background()
	boom := errors.New("boom")

	sim.FailOn("write:tx_en", boom)
	if err := sim.WriteWord(ctx, "tx_en", 0, 1); !errors.Is(err, boom) {
		t.Fatalf("WriteWord error = %v, want boom", err)
	}
	if err := sim.WriteWord(ctx, "tx_rst", 0, 1); err != nil {
		t.Fatalf("unrelated write failed: %v", err)
	}

	sim.FailOn("write:tx_en", nil)
	if err := sim.WriteWord(ctx, "tx_en", 0, 1); err != nil {
		t.Fatalf("cleared failure still reported: %v", err)
	}

	want := []string{"write:tx_en=0x1", "write:tx_rst=0x1", "write:tx_en=0x1"}
	calls := sim.Calls()
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}

	_ = sim.Close()
	if err := sim.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Ping after Close = %v, want ErrClosed", err)
	}
}

func TestSimClockCounter(t *testing.T) {
	sim := NewSimBoard("snap0")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sim.SetClock(func() time.Time { return now })
	ctx := context.Background()

	now = now.Add(time.Second)
	v, err := sim.ReadWord(ctx, ClockCounterRegister, 0)
	if err != nil {
		t.Fatalf("ReadWord returned error: %v", err)
	}
	if v != 250000000 {
		t.Fatalf("sys_clkcounter after 1s = %d, want 250000000", v)
	}

	// programming restarts the counter
	if err := sim.Program(ctx, []byte("BITS")); err != nil {
		t.Fatalf("Program returned error: %v", err)
	}
	if v, _ := sim.ReadWord(ctx, ClockCounterRegister, 0); v != 0 {
		t.Fatalf("sys_clkcounter after program = %d, want 0", v)
	}
}
