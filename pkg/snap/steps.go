// Package snap holds the GReX SNAP bringup recipe: the ordered steps that
// program the FPGA, calibrate the ADCs, start the 10 GbE core and set the
// channelizer constants.
package snap

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/GReX-Telescope/snap_bringup/pkg/board"
	"github.com/GReX-Telescope/snap_bringup/pkg/sequence"
)

// Gateware registers written by the recipe.
const (
	RegCh1Sel      = "ch_1_sel"
	RegCh2Sel      = "ch_2_sel"
	RegFFTShift    = "fft_shift"
	RegRequantGain = "requant_gain"
	RegTxEn        = "tx_en"
	RegTxRst       = "tx_rst"
	RegDestIP      = "dest_ip"
	RegDestPort    = "dest_port"
)

// Crossbar settings per ADC chip. Chip 0 feeds channel A from input 1,
// chip 1 feeds channel B from input 2; the second input of each is unused.
var (
	chip0Inputs = [4]int{1, 1, 2, 2}
	chip1Inputs = [4]int{2, 2, 3, 3}
)

// Step names, in execution order.
const (
	StepProgram       = "program"
	StepSystemInfo    = "system-info"
	StepADCInit       = "adc-init"
	StepADCRampTest   = "adc-ramp-test"
	StepADCCrossbar   = "adc-crossbar"
	StepADCGain       = "adc-gain"
	StepTenGbE        = "tengbe"
	StepTenGbELink    = "tengbe-link"
	StepFFTShift      = "fft-shift"
	StepRequantGain   = "requant-gain"
	StepChannelSelect = "channel-select"
	StepClockEstimate = "clock-estimate"
)

// Steps builds the bringup recipe for opts.
func Steps(opts Options) ([]sequence.Step, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	steps := []sequence.Step{
		{
			Name:        StepProgram,
			Description: "upload and program " + opts.Image.Path,
			Action: func(ctx context.Context, h *board.Handle) error {
				if err := h.Program(ctx, opts.Image); err != nil {
					return err
				}
				h.Logger().Info("SNAP programmed", zap.String("image", opts.Image.Path))
				return nil
			},
		},
		{
			Name:        StepSystemInfo,
			Description: "load the register map from the image header",
			Action: func(_ context.Context, h *board.Handle) error {
				return h.LoadSystemInfo(opts.Image)
			},
			Verify: func(_ context.Context, h *board.Handle) error {
				return requireRegisters(h, requiredRegisters(opts)...)
			},
		},
	}

	if opts.ADC.Enabled {
		steps = append(steps, adcSteps(opts.ADC)...)
	}
	if opts.TenGbE != nil {
		steps = append(steps, tenGbESteps(*opts.TenGbE)...)
	}
	if opts.FFTShift != nil {
		steps = append(steps, writeStep(StepFFTShift, "set the FFT shift schedule", RegFFTShift, *opts.FFTShift))
	}
	if opts.RequantGain != nil {
		// requant_gain is fixed point with 5 fractional bits.
		raw := uint32(math.Round(*opts.RequantGain * 32))
		steps = append(steps, writeStep(StepRequantGain, fmt.Sprintf("set requantization gain to %g", *opts.RequantGain), RegRequantGain, raw))
	}

	steps = append(steps,
		sequence.Step{
			Name:        StepChannelSelect,
			Description: fmt.Sprintf("route %s to channel 1 and %s to channel 2", opts.Ch1, opts.Ch2),
			Action: func(ctx context.Context, h *board.Handle) error {
				if err := h.WriteUint(ctx, RegCh1Sel, uint32(opts.Ch1)); err != nil {
					return err
				}
				return h.WriteUint(ctx, RegCh2Sel, uint32(opts.Ch2))
			},
		},
		sequence.Step{
			Name:        StepClockEstimate,
			Description: "estimate the FPGA fabric clock",
			Action: func(ctx context.Context, h *board.Handle) error {
				mhz, err := h.EstimateClock(ctx, opts.ClockInterval)
				if err != nil {
					return err
				}
				if mhz < opts.MinClockMHz || mhz > opts.MaxClockMHz {
					return fmt.Errorf("FPGA clock %.3f MHz outside [%g, %g] MHz", mhz, opts.MinClockMHz, opts.MaxClockMHz)
				}
				h.Logger().Info("setup complete", zap.Float64("fpga_clock_mhz", mhz))
				return nil
			},
		},
	)
	return steps, nil
}

func adcSteps(o ADCOptions) []sequence.Step {
	withADC := func(fn func(ctx context.Context, adc board.ADC) error) sequence.Action {
		return func(ctx context.Context, h *board.Handle) error {
			adc, err := h.ADC(o.Name)
			if err != nil {
				return err
			}
			return fn(ctx, adc)
		}
	}

	return []sequence.Step{
		{
			Name:        StepADCInit,
			Description: fmt.Sprintf("initialize %s at %g MHz with %d channels", o.Name, o.SampleRateMHz, o.Channels),
			Action: withADC(func(ctx context.Context, adc board.ADC) error {
				return adc.Init(ctx, o.SampleRateMHz, o.Channels)
			}),
		},
		{
			Name:        StepADCRampTest,
			Description: "check the ADC lanes with a ramp pattern",
			Retry:       sequence.Retry{Attempts: o.RampAttempts},
			Action: withADC(func(ctx context.Context, adc board.ADC) error {
				return adc.RampTest(ctx)
			}),
		},
		{
			Name:        StepADCCrossbar,
			Description: "route ADC inputs to the digital channels",
			Action: withADC(func(ctx context.Context, adc board.ADC) error {
				if err := adc.SelectInput(ctx, 0, chip0Inputs); err != nil {
					return fmt.Errorf("chip 0: %w", err)
				}
				if err := adc.SelectInput(ctx, 1, chip1Inputs); err != nil {
					return fmt.Errorf("chip 1: %w", err)
				}
				return nil
			}),
		},
		{
			Name:        StepADCGain,
			Description: fmt.Sprintf("set ADC gain to %g", o.Gain),
			Action: func(ctx context.Context, h *board.Handle) error {
				adc, err := h.ADC(o.Name)
				if err != nil {
					return err
				}
				if err := adc.SetGain(ctx, o.Gain); err != nil {
					return err
				}
				h.Logger().Info("ADCs configured", zap.String("adc", o.Name))
				return nil
			},
		},
	}
}

func tenGbESteps(g TenGbE) []sequence.Step {
	linkReg := g.Core + "_linkup"
	return []sequence.Step{
		{
			Name:        StepTenGbE,
			Description: fmt.Sprintf("configure %s as %s:%d sending to %s:%d", g.Core, g.IP, g.Port, g.DestIP, g.DestPort),
			Action: func(ctx context.Context, h *board.Handle) error {
				gbe, err := h.GbE(g.Core)
				if err != nil {
					return err
				}
				h.Logger().Info("configuring 10 GbE core", zap.String("core", g.Core))

				if err := h.WriteUint(ctx, RegTxEn, 0); err != nil {
					return err
				}
				core := board.CoreConfig{MAC: g.MAC, IP: g.IP, Port: g.Port, Gateway: g.DestIP}
				if err := gbe.ConfigureCore(ctx, core); err != nil {
					return fmt.Errorf("configure %s: %w", g.Core, err)
				}
				if err := h.WriteUint(ctx, RegDestPort, uint32(g.DestPort)); err != nil {
					return err
				}
				if err := h.WriteUint(ctx, RegDestIP, binary.BigEndian.Uint32(g.DestIP.To4())); err != nil {
					return err
				}
				if err := gbe.SetARPEntry(ctx, g.DestIP, g.DestMAC); err != nil {
					return fmt.Errorf("arp %s: %w", g.DestIP, err)
				}
				// tx_en gates tx_valid, so the FIFO only fills once it is set.
				for _, w := range []struct {
					reg string
					val uint32
				}{{RegTxRst, 1}, {RegTxRst, 0}, {RegTxEn, 1}} {
					if err := h.WriteUint(ctx, w.reg, w.val); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Name:        StepTenGbELink,
			Description: "check that the 10 GbE link came up",
			Optional:    true,
			Action: func(ctx context.Context, h *board.Handle) error {
				return h.Wait(ctx, g.LinkWait)
			},
			Verify: func(ctx context.Context, h *board.Handle) error {
				up, err := h.ReadUint(ctx, linkReg)
				if err != nil {
					return err
				}
				if up != 1 {
					return fmt.Errorf("%s link is down (%s=%d)", g.Core, linkReg, up)
				}
				h.Logger().Info("10 GbE link is up", zap.String("core", g.Core))
				return nil
			},
		},
	}
}

func writeStep(name, desc, reg string, value uint32) sequence.Step {
	return sequence.Step{
		Name:        name,
		Description: desc,
		Action: func(ctx context.Context, h *board.Handle) error {
			return h.WriteUint(ctx, reg, value)
		},
		Verify: func(ctx context.Context, h *board.Handle) error {
			got, err := h.ReadUint(ctx, reg)
			if err != nil {
				return err
			}
			if got != value {
				return fmt.Errorf("%s reads back %d, wrote %d", reg, got, value)
			}
			return nil
		},
	}
}

func requiredRegisters(opts Options) []string {
	regs := []string{RegCh1Sel, RegCh2Sel, board.ClockCounterRegister}
	if opts.TenGbE != nil {
		regs = append(regs, RegTxEn, RegTxRst, RegDestIP, RegDestPort, opts.TenGbE.Core+"_linkup")
	}
	if opts.FFTShift != nil {
		regs = append(regs, RegFFTShift)
	}
	if opts.RequantGain != nil {
		regs = append(regs, RegRequantGain)
	}
	return regs
}

func requireRegisters(h *board.Handle, names ...string) error {
	var missing []string
	for _, name := range names {
		if !h.HasRegister(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: image does not declare %v", board.ErrUnknownRegister, missing)
	}
	return nil
}
