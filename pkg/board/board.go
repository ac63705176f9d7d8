package board

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Transport abstracts the board-control connection to one SNAP board: the
// KATCP control server on real hardware, or the in-memory simulator.
type Transport interface {
	// Ping checks that the control server answers.
	Ping(ctx context.Context) error
	// Program uploads a complete .fpg file and programs the FPGA with it.
	Program(ctx context.Context, image []byte) error
	ReadWord(ctx context.Context, register string, offset uint32) (uint32, error)
	WriteWord(ctx context.Context, register string, offset uint32, value uint32) error
	Close() error
}

// ADCController is implemented by transports that can drive the SNAP ADC
// blocks (HMCAD1511 chips behind the snap_adc Simulink block).
type ADCController interface {
	ADC(name string) (ADC, error)
}

// ADC is the control surface of one snap_adc block. Chip selection follows
// the board-control library: chip < 0 addresses every chip.
type ADC interface {
	// Init configures the clocking and interleave mode and aligns the lanes.
	Init(ctx context.Context, sampleRateMHz float64, channels int) error
	// RampTest checks the data path with the ADC's ramp pattern.
	RampTest(ctx context.Context) error
	// SelectInput sets the crossbar of one chip.
	SelectInput(ctx context.Context, chip int, inputs [4]int) error
	SetGain(ctx context.Context, gain float64) error
}

// GbEController is implemented by transports that can configure 10 GbE cores.
type GbEController interface {
	GbE(name string) (GbE, error)
}

// CoreConfig holds the addressing of a 10 GbE core.
type CoreConfig struct {
	MAC     net.HardwareAddr
	IP      net.IP
	Port    uint16
	Gateway net.IP
}

// GbE is the control surface of one 10 GbE core.
type GbE interface {
	ConfigureCore(ctx context.Context, cfg CoreConfig) error
	SetARPEntry(ctx context.Context, ip net.IP, mac net.HardwareAddr) error
}

var (
	// ErrUnknownRegister is returned for register names missing from the
	// loaded system information.
	ErrUnknownRegister = errors.New("board: unknown register")

	// ErrUnsupported lets transports signal that a capability (ADC or GbE
	// control) is not available.
	ErrUnsupported = errors.New("board: not supported by transport")

	// ErrClosed is returned by a handle after Close.
	ErrClosed = errors.New("board: handle closed")
)

// ConnectionError reports that a board could not be reached. Op is one of
// "resolve", "dial" or "handshake".
type ConnectionError struct {
	Target Target
	Op     string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("board %s: %s %s: %v", e.Target.Name, e.Op, e.Target.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
