// Package config loads snap_bringup settings from a YAML file, SNAP_BRINGUP_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. SNAP_BRINGUP_ADC_GAIN.
const EnvPrefix = "SNAP_BRINGUP"

// FileName is the config file searched for when none is given.
const FileName = "snap_bringup"

// Log formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config holds the entire configuration.
type Config struct {
	Image    string        `mapstructure:"image" yaml:"image"`
	Boards   []Board       `mapstructure:"boards" yaml:"boards"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Report   string        `mapstructure:"report" yaml:"report,omitempty"`
	ADC      ADC           `mapstructure:"adc" yaml:"adc"`
	Channels Channels      `mapstructure:"channels" yaml:"channels"`
	TenGbE   TenGbE        `mapstructure:"tengbe" yaml:"tengbe"`
	// Optional channelizer constants; unset means the step is not run.
	FFTShift    *uint32  `mapstructure:"fft_shift" yaml:"fft_shift,omitempty"`
	RequantGain *float64 `mapstructure:"requant_gain" yaml:"requant_gain,omitempty"`
	Clock       Clock    `mapstructure:"clock" yaml:"clock"`
	Log         Log      `mapstructure:"log" yaml:"log"`
}

// Board is one SNAP to bring up.
type Board struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Address   string `mapstructure:"address" yaml:"address"`
	Transport string `mapstructure:"transport" yaml:"transport,omitempty"`
}

type ADC struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	Name         string  `mapstructure:"name" yaml:"name"`
	Channels     int     `mapstructure:"channels" yaml:"channels"`
	SampleRate   float64 `mapstructure:"sample_rate" yaml:"sample_rate"` // MHz
	Gain         float64 `mapstructure:"gain" yaml:"gain"`
	RampAttempts int     `mapstructure:"ramp_attempts" yaml:"ramp_attempts"`
}

// Channels names the ADC input pair for each digital channel.
type Channels struct {
	Ch1 string `mapstructure:"ch1" yaml:"ch1"`
	Ch2 string `mapstructure:"ch2" yaml:"ch2"`
}

type TenGbE struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Core     string        `mapstructure:"core" yaml:"core"`
	MAC      string        `mapstructure:"mac" yaml:"mac"`
	IP       string        `mapstructure:"ip" yaml:"ip"`
	Port     int           `mapstructure:"port" yaml:"port"`
	DestIP   string        `mapstructure:"dest_ip" yaml:"dest_ip"`
	DestPort int           `mapstructure:"dest_port" yaml:"dest_port"`
	DestMAC  string        `mapstructure:"dest_mac" yaml:"dest_mac"`
	LinkWait time.Duration `mapstructure:"link_wait" yaml:"link_wait"`
}

type Clock struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	MinMHz   float64       `mapstructure:"min_mhz" yaml:"min_mhz"`
	MaxMHz   float64       `mapstructure:"max_mhz" yaml:"max_mhz"`
}

type Log struct {
	Verbose bool   `mapstructure:"verbose" yaml:"verbose"`
	Format  string `mapstructure:"format" yaml:"format"`
	Trace   bool   `mapstructure:"trace" yaml:"trace"`
}

// defaults mirror the GReX deployment.
var defaults = map[string]any{
	"timeout":           5 * time.Second,
	"adc.enabled":       true,
	"adc.name":          "snap_adc",
	"adc.channels":      2,
	"adc.sample_rate":   500.0,
	"adc.gain":          50.0,
	"adc.ramp_attempts": 3,
	"channels.ch1":      "A1_2",
	"channels.ch2":      "B1_2",
	"tengbe.enabled":    false,
	"tengbe.core":       "gbe1",
	"tengbe.mac":        "02:2e:46:e0:64:a1",
	"tengbe.ip":         "192.168.0.20",
	"tengbe.port":       60000,
	"tengbe.dest_ip":    "192.168.0.1",
	"tengbe.dest_port":  60000,
	"tengbe.dest_mac":   "98:b7:85:a7:ec:78",
	"tengbe.link_wait":  2 * time.Second,
	"clock.interval":    2 * time.Second,
	"clock.min_mhz":     1.0,
	"clock.max_mhz":     1000.0,
	"log.verbose":       false,
	"log.format":        FormatConsole,
	"log.trace":         false,
}

// New returns a viper instance carrying the defaults and environment
// bindings. Callers bind flags on it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Optional keys have no default, so bind them for env lookups.
	_ = v.BindEnv("image")
	_ = v.BindEnv("report")
	_ = v.BindEnv("fft_shift")
	_ = v.BindEnv("requant_gain")
	return v
}

// Default returns the configuration with nothing but defaults applied.
func Default() *Config {
	cfg, err := decode(New())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads path (or snap_bringup.yaml from the working directory or
// ~/.config/snap_bringup when path is empty) into v, then decodes and
// validates the result. A missing default file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/snap_bringup")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// Validate checks the values that do not need hardware to be judged.
func (c *Config) Validate() error {
	var errs []error

	names := make(map[string]bool, len(c.Boards))
	for i, b := range c.Boards {
		if b.Address == "" {
			errs = append(errs, fmt.Errorf("boards[%d]: empty address", i))
		}
		name := b.Label()
		if names[name] {
			errs = append(errs, fmt.Errorf("boards[%d]: duplicate board %q", i, name))
		}
		names[name] = true
	}

	switch c.Log.Format {
	case FormatConsole, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format must be %q or %q, got %q", FormatConsole, FormatJSON, c.Log.Format))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if p := c.TenGbE.Port; p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("tengbe.port %d out of range", p))
	}
	if p := c.TenGbE.DestPort; p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("tengbe.dest_port %d out of range", p))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

// Label is the board name, or its address when unnamed.
func (b Board) Label() string {
	if b.Name != "" {
		return b.Name
	}
	return b.Address
}

// Select returns the boards whose labels are in names, in config order. An
// empty names selects every board.
func (c *Config) Select(names []string) ([]Board, error) {
	if len(names) == 0 {
		return c.Boards, nil
	}
	labels := lo.Map(c.Boards, func(b Board, _ int) string { return b.Label() })
	if unknown := lo.Without(lo.Uniq(names), labels...); len(unknown) > 0 {
		return nil, fmt.Errorf("config: unknown board(s) %s (configured: %s)",
			strings.Join(unknown, ", "), strings.Join(labels, ", "))
	}
	return lo.Filter(c.Boards, func(b Board, _ int) bool {
		return lo.Contains(names, b.Label())
	}), nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
