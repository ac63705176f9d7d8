package snap

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/GReX-Telescope/snap_bringup/pkg/fpg"
)

// ErrInvalidOptions is returned by Steps for unusable options.
var ErrInvalidOptions = errors.New("snap: invalid options")

// AdcPair selects which ADC input pair feeds a digital channel. The values
// are the ones the gateware's ch_N_sel registers expect.
type AdcPair int

const (
	A12 AdcPair = iota
	A34
	B12
	B34
	C12
	C34
)

var pairNames = [...]string{"A1_2", "A3_4", "B1_2", "B3_4", "C1_2", "C3_4"}

func (p AdcPair) String() string {
	if p < 0 || int(p) >= len(pairNames) {
		return fmt.Sprintf("AdcPair(%d)", int(p))
	}
	return pairNames[p]
}

// Valid reports whether p names a real input pair.
func (p AdcPair) Valid() bool {
	return p >= 0 && int(p) < len(pairNames)
}

// ParseAdcPair accepts "A1_2", "a1_2" or "A12".
func ParseAdcPair(s string) (AdcPair, error) {
	want := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for i, name := range pairNames {
		if strings.ReplaceAll(name, "_", "") == want {
			return AdcPair(i), nil
		}
	}
	return 0, fmt.Errorf("snap: unknown ADC pair %q (want one of %s)", s, strings.Join(pairNames[:], ", "))
}

// MarshalText implements encoding.TextMarshaler.
func (p AdcPair) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("snap: invalid ADC pair %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *AdcPair) UnmarshalText(b []byte) error {
	v, err := ParseAdcPair(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ADCOptions configures the snap_adc block.
type ADCOptions struct {
	Enabled       bool
	Name          string
	Channels      int
	SampleRateMHz float64
	Gain          float64
	RampAttempts  int
}

// TenGbE configures the 10 GbE core and its UDP destination.
type TenGbE struct {
	Core     string
	MAC      net.HardwareAddr
	IP       net.IP
	Port     uint16
	DestIP   net.IP
	DestPort uint16
	DestMAC  net.HardwareAddr
	LinkWait time.Duration // time for the core to boot before the link check
}

// DefaultTenGbE returns the GReX network defaults.
func DefaultTenGbE() TenGbE {
	mac, _ := net.ParseMAC("02:2e:46:e0:64:a1")
	dest, _ := net.ParseMAC("98:b7:85:a7:ec:78")
	return TenGbE{
		Core:     "gbe1",
		MAC:      mac,
		IP:       net.IPv4(192, 168, 0, 20),
		Port:     60000,
		DestIP:   net.IPv4(192, 168, 0, 1),
		DestPort: 60000,
		DestMAC:  dest,
		LinkWait: 2 * time.Second,
	}
}

// Options parameterize the SNAP bringup recipe.
type Options struct {
	Image *fpg.Image

	ADC ADCOptions

	Ch1 AdcPair
	Ch2 AdcPair

	// Optional stages; nil skips the step entirely.
	TenGbE      *TenGbE
	FFTShift    *uint32
	RequantGain *float64

	ClockInterval time.Duration
	MinClockMHz   float64
	MaxClockMHz   float64
}

// DefaultOptions returns the GReX bringup defaults for img.
func DefaultOptions(img *fpg.Image) Options {
	return Options{
		Image: img,
		ADC: ADCOptions{
			Enabled:       true,
			Name:          "snap_adc",
			Channels:      2,
			SampleRateMHz: 500,
			Gain:          50,
			RampAttempts:  3,
		},
		Ch1:           A12,
		Ch2:           B12,
		ClockInterval: 2 * time.Second,
		MinClockMHz:   1,
		MaxClockMHz:   1000,
	}
}

// Validate checks o without touching hardware.
func (o Options) Validate() error {
	var errs []error
	if o.Image == nil {
		errs = append(errs, errors.New("no FPG image"))
	}
	if o.ADC.Enabled {
		if o.ADC.Name == "" {
			errs = append(errs, errors.New("empty ADC block name"))
		}
		switch o.ADC.Channels {
		case 1, 2, 4:
		default:
			errs = append(errs, fmt.Errorf("ADC channels must be 1, 2 or 4, got %d", o.ADC.Channels))
		}
		if o.ADC.SampleRateMHz <= 0 {
			errs = append(errs, fmt.Errorf("ADC sample rate must be positive, got %g", o.ADC.SampleRateMHz))
		}
		if o.ADC.RampAttempts < 0 {
			errs = append(errs, fmt.Errorf("negative ramp test attempts %d", o.ADC.RampAttempts))
		}
	}
	if !o.Ch1.Valid() {
		errs = append(errs, fmt.Errorf("channel 1 pair %d out of range", int(o.Ch1)))
	}
	if !o.Ch2.Valid() {
		errs = append(errs, fmt.Errorf("channel 2 pair %d out of range", int(o.Ch2)))
	}
	if g := o.TenGbE; g != nil {
		if g.Core == "" {
			errs = append(errs, errors.New("empty 10 GbE core name"))
		}
		if g.IP.To4() == nil || g.DestIP.To4() == nil {
			errs = append(errs, errors.New("10 GbE core and destination need IPv4 addresses"))
		}
		if len(g.MAC) != 6 || len(g.DestMAC) != 6 {
			errs = append(errs, errors.New("10 GbE core and destination need 48-bit MAC addresses"))
		}
	}
	if g := o.RequantGain; g != nil && !(*g > 0 && *g < 2047) {
		errs = append(errs, fmt.Errorf("requant gain is an 11 bit unsigned value, must be between 0 and 2047, got %g", *g))
	}
	if o.ClockInterval <= 0 {
		errs = append(errs, fmt.Errorf("clock estimate interval must be positive, got %s", o.ClockInterval))
	}
	if o.MinClockMHz >= o.MaxClockMHz {
		errs = append(errs, fmt.Errorf("clock range [%g, %g] MHz is empty", o.MinClockMHz, o.MaxClockMHz))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
}
