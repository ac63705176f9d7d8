package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GReX-Telescope/snap_bringup/internal/config"
	"github.com/GReX-Telescope/snap_bringup/pkg/board"
	"github.com/GReX-Telescope/snap_bringup/pkg/fpg"
	"github.com/GReX-Telescope/snap_bringup/pkg/report"
	"github.com/GReX-Telescope/snap_bringup/pkg/sequence"
	"github.com/GReX-Telescope/snap_bringup/pkg/snap"
)

var (
	adcName     string
	adcChannels int
	adcGain     float64
	sampleRate  float64
	noADC       bool
	reportPath  string
	boardNames  []string
	timeout     time.Duration
)

// connectorOptions are appended to the connector options; tests use it to
// inject simulated boards.
var connectorOptions []board.Option

func initBringupFlags(flags *pflag.FlagSet) {
	flags.StringVar(&adcName, "adc_name", "snap_adc", "Simulink block name for the ADC")
	flags.IntVar(&adcChannels, "channels", 2, "ADC channels (1, 2 or 4)")
	flags.Float64Var(&adcGain, "gain", 50, "ADC gain")
	flags.Float64Var(&sampleRate, "sample-rate", 500, "ADC sample rate in MHz")
	flags.BoolVar(&noADC, "no-adc", false, "skip ADC initialization and calibration")
	flags.StringVar(&reportPath, "report", "", "write the bringup results to this YAML file")
	flags.StringSliceVarP(&boardNames, "board", "b", nil, "configured board(s) to bring up (default all)")
	flags.DurationVar(&timeout, "timeout", board.DefaultDialTimeout, "connect timeout per board")
}

func runBringup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	imagePath := cfg.Image
	if len(args) > 0 {
		imagePath = args[0]
	}
	if imagePath == "" {
		return errors.New("no FPG image: pass it as the first argument or set image in the config")
	}

	boards, err := selectBoards(cfg, args)
	if err != nil {
		return err
	}

	img, err := fpg.ParseFile(imagePath)
	if err != nil {
		return err
	}
	opts, err := cfg.SnapOptions(img)
	if err != nil {
		return err
	}
	steps, err := snap.Steps(opts)
	if err != nil {
		return err
	}

	reporter := report.New(log, cmd.OutOrStdout(), report.WithColor(cfg.Log.Format == config.FormatConsole))
	seq, err := sequence.New(steps, sequence.WithObserver(reporter))
	if err != nil {
		return err
	}

	connector := board.NewConnector(append([]board.Option{
		board.WithLogger(log),
		board.WithDialTimeout(cfg.Timeout),
	}, connectorOptions...)...)

	log.Info("starting bringup",
		zap.String("image", imagePath),
		zap.Int("registers", len(img.Registers)),
		zap.Int("boards", len(boards)),
		zap.Int("steps", len(steps)))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Boards are independent: one failing board does not stop the others.
	errs := make([]error, len(boards))
	var g errgroup.Group
	for i, b := range boards {
		target := b.Target()
		g.Go(func() error {
			_, errs[i] = seq.Bringup(ctx, target.Name, func(ctx context.Context) (*board.Handle, error) {
				return connector.Connect(ctx, target)
			})
			return nil
		})
	}
	_ = g.Wait()

	if cfg.Report != "" {
		if err := report.WriteFile(cfg.Report, reporter.Results()); err != nil {
			return err
		}
		log.Info("wrote bringup report", zap.String("path", cfg.Report))
	}
	return errors.Join(errs...)
}

// selectBoards returns the board given on the command line or the
// configured boards picked with --board.
func selectBoards(cfg *config.Config, args []string) ([]config.Board, error) {
	if len(args) == 2 {
		if len(boardNames) > 0 {
			return nil, errors.New("--board selects configured boards and cannot be combined with an address argument")
		}
		return []config.Board{{Address: args[1]}}, nil
	}
	boards, err := cfg.Select(boardNames)
	if err != nil {
		return nil, err
	}
	if len(boards) == 0 {
		return nil, fmt.Errorf("no board to bring up: pass an address or configure boards")
	}
	return boards, nil
}
