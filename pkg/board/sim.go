package board

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSimClockHz is the fabric clock of a simulated board (a SNAP design
// sampling at 500 MHz runs its fabric at 250 MHz).
const DefaultSimClockHz = 250e6

// SimBoard is an in-memory SNAP board useful for unit tests and dry runs. It
// keeps a register file, records every call and fails any operation for
// which an error has been registered with FailOn.
//
// Operation keys for FailOn: "ping", "program", "read:<reg>", "write:<reg>",
// "adc.init", "adc.ramp", "adc.input", "adc.gain", "gbe.configure",
// "gbe.arp".
type SimBoard struct {
	Name    string
	ClockHz float64

	// OnRead can override the value returned for a register.
	OnRead func(register string, value uint32) uint32

	mu        sync.Mutex
	now       func() time.Time
	regs      map[string]uint32
	fail      map[string]error
	calls     []string
	programs  int
	image     []byte
	epoch     time.Time
	closed    bool
	rampFails int
	adcs      map[string]*SimADC
	gbes      map[string]*SimGbE
}

// NewSimBoard constructs a simulated board with an empty register file.
func NewSimBoard(name string) *SimBoard {
	s := &SimBoard{
		Name:    name,
		ClockHz: DefaultSimClockHz,
		now:     time.Now,
		regs:    make(map[string]uint32),
		fail:    make(map[string]error),
		adcs:    make(map[string]*SimADC),
		gbes:    make(map[string]*SimGbE),
	}
	s.epoch = s.now()
	return s
}

// SimOpener returns an Opener that always hands out s, for use with
// WithOpener(TransportSim, ...).
func SimOpener(s *SimBoard) Opener {
	return func(context.Context, Target, string, *zap.Logger) (Transport, error) {
		return s, nil
	}
}

func openSim(_ context.Context, _ Target, hostport string, _ *zap.Logger) (Transport, error) {
	return NewSimBoard(hostport), nil
}

// SetClock replaces the time source and restarts sys_clkcounter from zero.
func (s *SimBoard) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.epoch = now()
}

// FailOn makes the operation key fail with err; a nil err clears it.
func (s *SimBoard) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// FailRampTests makes the next n ADC ramp tests fail.
func (s *SimBoard) FailRampTests(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rampFails = n
}

// SetRegister presets a register value.
func (s *SimBoard) SetRegister(name string, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[name] = value
}

// Register returns the current value of a register.
func (s *SimBoard) Register(name string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[name]
}

// Calls returns a copy of the operation log, e.g. "write:tx_en=0x1".
func (s *SimBoard) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Programs reports how many times the board was programmed.
func (s *SimBoard) Programs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programs
}

// Closed reports whether Close was called.
func (s *SimBoard) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SimADC returns the simulated ADC block, creating it on first use.
func (s *SimBoard) SimADC(name string) *SimADC {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adcLocked(name)
}

// SimGbE returns the simulated 10 GbE core, creating it on first use.
func (s *SimBoard) SimGbE(name string) *SimGbE {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gbeLocked(name)
}

// record logs op and returns the injected failure for key, if any. Callers
// hold s.mu.
func (s *SimBoard) record(key, op string) error {
	s.calls = append(s.calls, op)
	if s.closed {
		return ErrClosed
	}
	if err, ok := s.fail[key]; ok {
		return err
	}
	return nil
}

func (s *SimBoard) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record("ping", "ping")
}

func (s *SimBoard) Program(ctx context.Context, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("program", fmt.Sprintf("program:%d", len(image))); err != nil {
		return err
	}
	s.programs++
	s.image = append([]byte(nil), image...)
	s.regs = make(map[string]uint32)
	s.epoch = s.now()
	return nil
}

func (s *SimBoard) ReadWord(ctx context.Context, register string, offset uint32) (uint32, error) {
	s.mu.Lock()
	if err := s.record("read:"+register, "read:"+register); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	v := s.regs[register]
	if register == ClockCounterRegister {
		ticks := uint64(s.now().Sub(s.epoch).Seconds() * s.ClockHz)
		v = uint32(ticks)
	}
	hook := s.OnRead
	s.mu.Unlock()

	if hook != nil {
		v = hook(register, v)
	}
	return v, nil
}

func (s *SimBoard) WriteWord(ctx context.Context, register string, offset uint32, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("write:"+register, fmt.Sprintf("write:%s=0x%x", register, value)); err != nil {
		return err
	}
	s.regs[register] = value
	return nil
}

func (s *SimBoard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SimBoard) ADC(name string) (ADC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adcLocked(name), nil
}

func (s *SimBoard) GbE(name string) (GbE, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gbeLocked(name), nil
}

func (s *SimBoard) adcLocked(name string) *SimADC {
	adc, ok := s.adcs[name]
	if !ok {
		adc = &SimADC{board: s, Name: name, Inputs: make(map[int][4]int)}
		s.adcs[name] = adc
	}
	return adc
}

func (s *SimBoard) gbeLocked(name string) *SimGbE {
	gbe, ok := s.gbes[name]
	if !ok {
		gbe = &SimGbE{board: s, Name: name, LinkUp: true, ARP: make(map[string]net.HardwareAddr)}
		s.gbes[name] = gbe
	}
	return gbe
}

// SimADC is the simulated snap_adc block of a SimBoard.
type SimADC struct {
	board *SimBoard

	Name          string
	SampleRateMHz float64
	Channels      int
	Initialized   bool
	RampTests     int
	Inputs        map[int][4]int // chip -> crossbar; chip -1 means all
	Gain          float64
}

func (a *SimADC) Init(ctx context.Context, sampleRateMHz float64, channels int) error {
	a.board.mu.Lock()
	defer a.board.mu.Unlock()
	if err := a.board.record("adc.init", fmt.Sprintf("adc.init:%s:%g:%d", a.Name, sampleRateMHz, channels)); err != nil {
		return err
	}
	a.SampleRateMHz = sampleRateMHz
	a.Channels = channels
	a.Initialized = true
	return nil
}

func (a *SimADC) RampTest(ctx context.Context) error {
	a.board.mu.Lock()
	defer a.board.mu.Unlock()
	if err := a.board.record("adc.ramp", "adc.ramp:"+a.Name); err != nil {
		return err
	}
	a.RampTests++
	if !a.Initialized {
		return fmt.Errorf("sim adc %s: ramp test before init", a.Name)
	}
	if a.board.rampFails > 0 {
		a.board.rampFails--
		return fmt.Errorf("sim adc %s: ramp pattern mismatch", a.Name)
	}
	return nil
}

func (a *SimADC) SelectInput(ctx context.Context, chip int, inputs [4]int) error {
	a.board.mu.Lock()
	defer a.board.mu.Unlock()
	if err := a.board.record("adc.input", fmt.Sprintf("adc.input:%s:%d:%v", a.Name, chip, inputs)); err != nil {
		return err
	}
	for _, in := range inputs {
		if in < 1 || in > 4 {
			return fmt.Errorf("sim adc %s: input %d out of range 1-4", a.Name, in)
		}
	}
	a.Inputs[chip] = inputs
	return nil
}

func (a *SimADC) SetGain(ctx context.Context, gain float64) error {
	a.board.mu.Lock()
	defer a.board.mu.Unlock()
	if err := a.board.record("adc.gain", fmt.Sprintf("adc.gain:%s:%g", a.Name, gain)); err != nil {
		return err
	}
	a.Gain = gain
	return nil
}

// SimGbE is the simulated 10 GbE core of a SimBoard. A configured core
// reports <name>_linkup = 1 when LinkUp is set.
type SimGbE struct {
	board *SimBoard

	Name   string
	LinkUp bool
	Core   CoreConfig
	ARP    map[string]net.HardwareAddr
}

func (g *SimGbE) ConfigureCore(ctx context.Context, cfg CoreConfig) error {
	g.board.mu.Lock()
	defer g.board.mu.Unlock()
	if err := g.board.record("gbe.configure", fmt.Sprintf("gbe.configure:%s:%s:%d", g.Name, cfg.IP, cfg.Port)); err != nil {
		return err
	}
	g.Core = cfg
	if g.LinkUp {
		g.board.regs[g.Name+"_linkup"] = 1
	}
	return nil
}

func (g *SimGbE) SetARPEntry(ctx context.Context, ip net.IP, mac net.HardwareAddr) error {
	g.board.mu.Lock()
	defer g.board.mu.Unlock()
	if err := g.board.record("gbe.arp", fmt.Sprintf("gbe.arp:%s:%s", g.Name, ip)); err != nil {
		return err
	}
	g.ARP[ip.String()] = mac
	return nil
}
