package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/GReX-Telescope/snap_bringup/internal/config"
	"github.com/GReX-Telescope/snap_bringup/internal/logging"
	"github.com/GReX-Telescope/snap_bringup/pkg/board"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitFailure    = 1 // step failure, sequence abort or usage error
	ExitConnection = 2 // a board could not be reached
)

var (
	// Global flags
	cfgFile   string
	verbose   bool
	trace     bool
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "snap_bringup [fpg-file] [address]",
	Short: "SNAP bringup routines for GReX",
	Long: `Program a SNAP board with an .fpg image, calibrate its ADCs, start the
10 GbE core and set the channelizer constants, reporting each step.

The address is host, host:port or katcp://host[:port] for a board running a
KATCP server, or sim://name for a simulated board. TAPCP is not supported,
so boards that only run the TAPCP bootloader are not reachable. Without
positional arguments the image and boards come from the configuration file.

Examples:
  snap_bringup grex.fpg 192.168.0.3                 # Bring up one board
  snap_bringup grex.fpg sim://bench --gain 20       # Dry run on a simulated board
  snap_bringup --config grex.yaml --board snap0     # Configured board
  snap_bringup inspect grex.fpg                     # Show the register map`,
	Version:       "0.3.0",
	Args:          cobra.MaximumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBringup,
}

// Execute runs the root command and exits with the bringup exit code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(ExitCode(err))
}

// ExitCode maps a command error to the process exit status. An unreachable
// board wins over step failures on other boards.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var connErr *board.ConnectionError
	if errors.As(err, &connErr) {
		return ExitConnection
	}
	return ExitFailure
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./snap_bringup.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "also log KATCP wire traffic")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", config.FormatConsole, "log format: console or json")
	initBringupFlags(rootCmd.Flags())
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"verbose":     "log.verbose",
	"trace":       "log.trace",
	"log-format":  "log.format",
	"adc_name":    "adc.name",
	"channels":    "adc.channels",
	"gain":        "adc.gain",
	"sample-rate": "adc.sample_rate",
	"report":      "report",
	"timeout":     "timeout",
}

// loadConfig merges defaults, the config file, the environment and the
// flags of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.Load(v, cfgFile)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	if f := flags.Lookup("no-adc"); f != nil && f.Changed && noADC {
		v.Set("adc.enabled", false)
	}
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Verbose: cfg.Log.Verbose,
		Trace:   cfg.Log.Trace,
		Format:  cfg.Log.Format,
	})
}
