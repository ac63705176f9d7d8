package config

import (
	"fmt"
	"net"

	"github.com/GReX-Telescope/snap_bringup/pkg/board"
	"github.com/GReX-Telescope/snap_bringup/pkg/fpg"
	"github.com/GReX-Telescope/snap_bringup/pkg/snap"
)

// Target converts a configured board to a connector target.
func (b Board) Target() board.Target {
	return board.Target{Name: b.Label(), Address: b.Address, Transport: b.Transport}
}

// SnapOptions builds the bringup recipe options for img.
func (c *Config) SnapOptions(img *fpg.Image) (snap.Options, error) {
	opts := snap.DefaultOptions(img)
	opts.ADC = snap.ADCOptions{
		Enabled:       c.ADC.Enabled,
		Name:          c.ADC.Name,
		Channels:      c.ADC.Channels,
		SampleRateMHz: c.ADC.SampleRate,
		Gain:          c.ADC.Gain,
		RampAttempts:  c.ADC.RampAttempts,
	}

	var err error
	if opts.Ch1, err = snap.ParseAdcPair(c.Channels.Ch1); err != nil {
		return opts, fmt.Errorf("config: channels.ch1: %w", err)
	}
	if opts.Ch2, err = snap.ParseAdcPair(c.Channels.Ch2); err != nil {
		return opts, fmt.Errorf("config: channels.ch2: %w", err)
	}

	if c.TenGbE.Enabled {
		g, err := c.TenGbE.options()
		if err != nil {
			return opts, err
		}
		opts.TenGbE = &g
	}
	opts.FFTShift = c.FFTShift
	opts.RequantGain = c.RequantGain

	opts.ClockInterval = c.Clock.Interval
	opts.MinClockMHz = c.Clock.MinMHz
	opts.MaxClockMHz = c.Clock.MaxMHz

	return opts, opts.Validate()
}

func (t TenGbE) options() (snap.TenGbE, error) {
	g := snap.TenGbE{
		Core:     t.Core,
		Port:     uint16(t.Port),
		DestPort: uint16(t.DestPort),
		LinkWait: t.LinkWait,
	}
	var err error
	if g.MAC, err = net.ParseMAC(t.MAC); err != nil {
		return g, fmt.Errorf("config: tengbe.mac: %w", err)
	}
	if g.DestMAC, err = net.ParseMAC(t.DestMAC); err != nil {
		return g, fmt.Errorf("config: tengbe.dest_mac: %w", err)
	}
	if g.IP = net.ParseIP(t.IP); g.IP == nil {
		return g, fmt.Errorf("config: tengbe.ip: invalid address %q", t.IP)
	}
	if g.DestIP = net.ParseIP(t.DestIP); g.DestIP == nil {
		return g, fmt.Errorf("config: tengbe.dest_ip: invalid address %q", t.DestIP)
	}
	return g, nil
}
