// Package logging builds the zap loggers used by the CLI.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Quiet lists loggers that are too chatty for normal runs. They are
// silenced unless trace logging is on.
var Quiet = []string{"katcp.wire"}

// Options configure New.
type Options struct {
	Verbose bool   // debug level
	Trace   bool   // also keep the Quiet loggers
	Format  string // "console" or "json"
	Outputs []string
}

// New builds a logger. Console output is meant for an operator at a
// terminal, JSON for log collection.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	switch opts.Format {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}
	if opts.Verbose || opts.Trace {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if len(opts.Outputs) > 0 {
		cfg.OutputPaths = opts.Outputs
	}

	var quiet []string
	if !opts.Trace {
		quiet = Quiet
	}
	log, err := cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return Filter(core, quiet...)
	}))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return log, nil
}

// Filter drops entries from loggers whose dotted name contains one of names
// as a whole segment run, so "katcp.wire" also silences
// "board.snap0.katcp.wire".
func Filter(core zapcore.Core, names ...string) zapcore.Core {
	if len(names) == 0 {
		return core
	}
	return &filterCore{Core: core, names: names}
}

type filterCore struct {
	zapcore.Core
	names []string
}

func (c *filterCore) With(fields []zapcore.Field) zapcore.Core {
	return &filterCore{Core: c.Core.With(fields), names: c.names}
}

func (c *filterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.silenced(ent.LoggerName) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

func (c *filterCore) silenced(loggerName string) bool {
	if loggerName == "" {
		return false
	}
	full := "." + loggerName + "."
	for _, name := range c.names {
		if strings.Contains(full, "."+name+".") {
			return true
		}
	}
	return false
}
