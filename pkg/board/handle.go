package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GReX-Telescope/snap_bringup/pkg/fpg"
)

// ClockCounterRegister free-runs at the FPGA fabric clock.
const ClockCounterRegister = "sys_clkcounter"

// Handle is the session to one connected board. It is created by the
// connector and passed explicitly to every bringup step; nothing about the
// board lives in package state.
type Handle struct {
	Target Target

	transport Transport
	log       *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	image     *fpg.Image
	registers map[string]fpg.Register
	closed    bool
}

// NewHandle wraps an already-open transport. Most callers use Connect.
func NewHandle(target Target, transport Transport, log *zap.Logger) *Handle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handle{
		Target:    target,
		transport: transport,
		log:       log,
		sleep:     sleepContext,
	}
}

// Logger returns the board's logger.
func (h *Handle) Logger() *zap.Logger {
	return h.log
}

// Transport returns the underlying transport.
func (h *Handle) Transport() Transport {
	return h.transport
}

// Program uploads img and programs the FPGA. Any previously loaded system
// information is discarded since it described the old design.
func (h *Handle) Program(ctx context.Context, img *fpg.Image) error {
	if err := h.check(); err != nil {
		return err
	}
	if img == nil || len(img.Raw) == 0 {
		return fmt.Errorf("board: program: empty image")
	}

	h.mu.Lock()
	h.image = nil
	h.registers = nil
	h.mu.Unlock()

	h.log.Debug("uploading image", zap.String("path", img.Path), zap.Int("bytes", len(img.Raw)))
	if err := h.transport.Program(ctx, img.Raw); err != nil {
		return fmt.Errorf("board: program: %w", err)
	}
	return nil
}

// LoadSystemInfo installs the register map declared by img. From then on
// register accesses are checked against it.
func (h *Handle) LoadSystemInfo(img *fpg.Image) error {
	if img == nil || len(img.Registers) == 0 {
		return fmt.Errorf("board: system info: image declares no registers")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.image = img
	h.registers = img.RegisterMap()
	return nil
}

// SystemInfo returns the image whose register map is loaded, or nil.
func (h *Handle) SystemInfo() *fpg.Image {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.image
}

// HasRegister reports whether the loaded register map declares name. Before
// LoadSystemInfo every name is accepted.
func (h *Handle) HasRegister(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registers == nil {
		return true
	}
	_, ok := h.registers[name]
	return ok
}

// ReadUint reads word 0 of a register.
func (h *Handle) ReadUint(ctx context.Context, name string) (uint32, error) {
	if err := h.checkRegister(name); err != nil {
		return 0, err
	}
	v, err := h.transport.ReadWord(ctx, name, 0)
	if err != nil {
		return 0, fmt.Errorf("board: read %s: %w", name, err)
	}
	return v, nil
}

// WriteUint writes word 0 of a register.
func (h *Handle) WriteUint(ctx context.Context, name string, value uint32) error {
	if err := h.checkRegister(name); err != nil {
		return err
	}
	h.log.Debug("write register", zap.String("register", name), zap.Uint32("value", value))
	if err := h.transport.WriteWord(ctx, name, 0, value); err != nil {
		return fmt.Errorf("board: write %s: %w", name, err)
	}
	return nil
}

// EstimateClock samples sys_clkcounter twice, interval apart, and returns
// the FPGA clock in MHz. One wrap of the 32-bit counter is corrected.
func (h *Handle) EstimateClock(ctx context.Context, interval time.Duration) (float64, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("board: clock estimate: interval must be positive, got %s", interval)
	}
	first, err := h.ReadUint(ctx, ClockCounterRegister)
	if err != nil {
		return 0, err
	}
	if err := h.sleep(ctx, interval); err != nil {
		return 0, err
	}
	second, err := h.ReadUint(ctx, ClockCounterRegister)
	if err != nil {
		return 0, err
	}

	ticks := uint64(second)
	if second < first {
		ticks += 1 << 32
	}
	ticks -= uint64(first)
	return float64(ticks) / interval.Seconds() / 1e6, nil
}

// Wait pauses for d or until ctx is done, using the connector's sleep.
func (h *Handle) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return h.sleep(ctx, d)
}

// ADC returns the named ADC block when the transport supports ADC control.
func (h *Handle) ADC(name string) (ADC, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	ctrl, ok := h.transport.(ADCController)
	if !ok {
		return nil, fmt.Errorf("%w: ADC control (%s)", ErrUnsupported, h.Target.Transport)
	}
	return ctrl.ADC(name)
}

// GbE returns the named 10 GbE core when the transport supports it.
func (h *Handle) GbE(name string) (GbE, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	ctrl, ok := h.transport.(GbEController)
	if !ok {
		return nil, fmt.Errorf("%w: 10 GbE control (%s)", ErrUnsupported, h.Target.Transport)
	}
	return ctrl.GbE(name)
}

// Close releases the transport. It is safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.transport.Close()
}

func (h *Handle) check() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return nil
}

func (h *Handle) checkRegister(name string) error {
	if err := h.check(); err != nil {
		return err
	}
	if !h.HasRegister(name) {
		return fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
