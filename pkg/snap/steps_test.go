package snap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GReX-Telescope/snap_bringup/pkg/board"
	"github.com/GReX-Telescope/snap_bringup/pkg/fpg"
	"github.com/GReX-Telescope/snap_bringup/pkg/sequence"
)

var allRegisters = []string{
	"sys_board_id", "sys_clkcounter", "ch_1_sel", "ch_2_sel", "fft_shift",
	"requant_gain", "tx_en", "tx_rst", "dest_ip", "dest_port", "gbe1_linkup",
}

func testImage(t *testing.T, regs ...string) *fpg.Image {
	t.Helper()
	var b strings.Builder
	b.WriteString("#!/bin/kcpfpg\n?uploadbin\n")
	for i, reg := range regs {
		fmt.Fprintf(&b, "?register\t%s\t0x%x\t0x4\n", reg, i*0x100)
	}
	b.WriteString("?meta\tsnap_adc\txps:snap_adc\tsample_rate\t500\n?quit\n")
	b.WriteString("bitstream")

	img, err := fpg.Parse(strings.NewReader(b.String()))
	require.NoError(t, err)
	img.Path = "grex.fpg"
	return img
}

// rig is a simulated board whose clock only advances when the handle sleeps.
type rig struct {
	sim *board.SimBoard
	h   *board.Handle
	now time.Time
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{sim: board.NewSimBoard("snap0"), now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	r.sim.SetClock(func() time.Time { return r.now })

	h, err := board.Connect(context.Background(),
		board.Target{Name: "snap0", Address: "sim://snap0"},
		board.WithOpener(board.TransportSim, board.SimOpener(r.sim)),
		board.WithSleep(func(_ context.Context, d time.Duration) error {
			r.now = r.now.Add(d)
			return nil
		}))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	r.h = h
	return r
}

func (r *rig) run(t *testing.T, opts Options) *sequence.Result {
	t.Helper()
	steps, err := Steps(opts)
	require.NoError(t, err)
	seq, err := sequence.New(steps, sequence.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)
	res, _ := seq.Run(context.Background(), r.h)
	return res
}

func fullOptions(img *fpg.Image) Options {
	opts := DefaultOptions(img)
	gbe := DefaultTenGbE()
	opts.TenGbE = &gbe
	opts.FFTShift = lo.ToPtr(uint32(4095))
	opts.RequantGain = lo.ToPtr(1.0)
	return opts
}

func stepNames(steps []sequence.Step) []string {
	return lo.Map(steps, func(st sequence.Step, _ int) string { return st.Name })
}

func TestStepsOrder(t *testing.T) {
	img := testImage(t, allRegisters...)

	steps, err := Steps(DefaultOptions(img))
	require.NoError(t, err)
	assert.Equal(t, []string{
		StepProgram, StepSystemInfo, StepADCInit, StepADCRampTest, StepADCCrossbar,
		StepADCGain, StepChannelSelect, StepClockEstimate,
	}, stepNames(steps))

	steps, err = Steps(fullOptions(img))
	require.NoError(t, err)
	assert.Equal(t, []string{
		StepProgram, StepSystemInfo, StepADCInit, StepADCRampTest, StepADCCrossbar,
		StepADCGain, StepTenGbE, StepTenGbELink, StepFFTShift, StepRequantGain,
		StepChannelSelect, StepClockEstimate,
	}, stepNames(steps))

	link, ok := lo.Find(steps, func(st sequence.Step) bool { return st.Name == StepTenGbELink })
	require.True(t, ok)
	assert.True(t, link.Optional)

	opts := DefaultOptions(img)
	opts.ADC.Enabled = false
	steps, err = Steps(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{StepProgram, StepSystemInfo, StepChannelSelect, StepClockEstimate}, stepNames(steps))
}

func TestBringupOnSimulator(t *testing.T) {
	r := newRig(t)
	res := r.run(t, fullOptions(testImage(t, allRegisters...)))
	require.True(t, res.OK(), "bringup failed: %v", res.Err)
	assert.Equal(t, 12, res.Count(sequence.StatusSucceeded))

	assert.Equal(t, 1, r.sim.Programs())

	adc := r.sim.SimADC("snap_adc")
	assert.Equal(t, 500.0, adc.SampleRateMHz)
	assert.Equal(t, 2, adc.Channels)
	assert.Equal(t, [4]int{1, 1, 2, 2}, adc.Inputs[0])
	assert.Equal(t, [4]int{2, 2, 3, 3}, adc.Inputs[1])
	assert.Equal(t, 50.0, adc.Gain)

	assert.Equal(t, uint32(A12), r.sim.Register(RegCh1Sel))
	assert.Equal(t, uint32(2), r.sim.Register(RegCh2Sel))
	assert.Equal(t, uint32(4095), r.sim.Register(RegFFTShift))
	assert.Equal(t, uint32(32), r.sim.Register(RegRequantGain))
	assert.Equal(t, uint32(60000), r.sim.Register(RegDestPort))
	assert.Equal(t, uint32(0xc0a80001), r.sim.Register(RegDestIP))

	gbe := r.sim.SimGbE("gbe1")
	assert.Equal(t, "192.168.0.20", gbe.Core.IP.String())
	assert.Equal(t, uint16(60000), gbe.Core.Port)
	assert.Equal(t, "98:b7:85:a7:ec:78", gbe.ARP["192.168.0.1"].String())

	txWrites := lo.Filter(r.sim.Calls(), func(c string, _ int) bool { return strings.HasPrefix(c, "write:tx_") })
	assert.Equal(t, []string{"write:tx_en=0x0", "write:tx_rst=0x1", "write:tx_rst=0x0", "write:tx_en=0x1"}, txWrites)
}

func TestRampTestRetries(t *testing.T) {
	r := newRig(t)
	r.sim.FailRampTests(2)

	res := r.run(t, DefaultOptions(testImage(t, allRegisters...)))
	require.True(t, res.OK(), "bringup failed: %v", res.Err)

	rec, ok := lo.Find(res.Steps, func(rec sequence.StepRecord) bool { return rec.Name == StepADCRampTest })
	require.True(t, ok)
	assert.Equal(t, 3, rec.Attempts)
}

func TestRampTestExhaustedAborts(t *testing.T) {
	r := newRig(t)
	r.sim.FailRampTests(3)

	res := r.run(t, DefaultOptions(testImage(t, allRegisters...)))

	var abort *sequence.SequenceAbort
	require.ErrorAs(t, res.Err, &abort)
	assert.Equal(t, StepADCRampTest, abort.Step)
	assert.Empty(t, r.sim.SimADC("snap_adc").Inputs, "crossbar must not run after the ramp test failed")
	assert.Equal(t, 4, res.Count(sequence.StatusSkipped))
}

func TestLinkDownIsNotFatal(t *testing.T) {
	r := newRig(t)
	r.sim.SimGbE("gbe1").LinkUp = false

	res := r.run(t, fullOptions(testImage(t, allRegisters...)))
	require.True(t, res.OK(), "bringup failed: %v", res.Err)

	rec, ok := lo.Find(res.Steps, func(rec sequence.StepRecord) bool { return rec.Name == StepTenGbELink })
	require.True(t, ok)
	assert.Equal(t, sequence.StatusFailed, rec.Status)
	assert.ErrorContains(t, rec.Err, "gbe1 link is down")
}

func TestMissingRegisterFailsSystemInfo(t *testing.T) {
	r := newRig(t)
	img := testImage(t, "sys_clkcounter", "ch_1_sel")

	res := r.run(t, DefaultOptions(img))

	failed, ok := res.Failed()
	require.True(t, ok)
	assert.Equal(t, StepSystemInfo, failed.Name)
	assert.True(t, errors.Is(failed.Err, board.ErrUnknownRegister))
	assert.ErrorContains(t, failed.Err, "ch_2_sel")
	assert.Equal(t, 1, r.sim.Programs())
}

func TestClockOutOfRange(t *testing.T) {
	r := newRig(t)
	r.sim.ClockHz = 2e9

	opts := DefaultOptions(testImage(t, allRegisters...))
	opts.ADC.Enabled = false
	res := r.run(t, opts)

	failed, ok := res.Failed()
	require.True(t, ok)
	assert.Equal(t, StepClockEstimate, failed.Name)
	assert.ErrorContains(t, failed.Err, "2000.000 MHz outside")
}

func TestRequantGainBounds(t *testing.T) {
	img := testImage(t, allRegisters...)
	for _, g := range []float64{0, -1, 2047, 3000} {
		opts := DefaultOptions(img)
		opts.RequantGain = lo.ToPtr(g)
		_, err := Steps(opts)
		assert.ErrorIs(t, err, ErrInvalidOptions, "gain %g", g)
	}

	opts := DefaultOptions(img)
	opts.RequantGain = lo.ToPtr(2046.5)
	_, err := Steps(opts)
	assert.NoError(t, err)
}

func TestOptionsValidate(t *testing.T) {
	img := testImage(t, allRegisters...)
	cases := map[string]func(o *Options){
		"no image":       func(o *Options) { o.Image = nil },
		"channels":       func(o *Options) { o.ADC.Channels = 3 },
		"sample rate":    func(o *Options) { o.ADC.SampleRateMHz = 0 },
		"pair":           func(o *Options) { o.Ch2 = AdcPair(9) },
		"clock interval": func(o *Options) { o.ClockInterval = 0 },
		"clock range":    func(o *Options) { o.MinClockMHz = 500; o.MaxClockMHz = 100 },
		"gbe ip": func(o *Options) {
			g := DefaultTenGbE()
			g.IP = nil
			o.TenGbE = &g
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := DefaultOptions(img)
			mutate(&opts)
			assert.ErrorIs(t, opts.Validate(), ErrInvalidOptions)
		})
	}
}

func TestParseAdcPair(t *testing.T) {
	for in, want := range map[string]AdcPair{"A1_2": A12, "a3_4": A34, "B12": B12, "C3_4": C34} {
		got, err := ParseAdcPair(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAdcPair("D1_2")
	assert.Error(t, err)

	assert.Equal(t, "B1_2", B12.String())
	var p AdcPair
	require.NoError(t, p.UnmarshalText([]byte("C1_2")))
	assert.Equal(t, C12, p)
}
