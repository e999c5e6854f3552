// Package cli implements the accrue subcommands.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/accrue/config"
	"github.com/vadiminshakov/accrue/internal"
	"github.com/vadiminshakov/accrue/internal/setup"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Commands lists every subcommand.
var Commands = []subcommands.Command{
	&runCmd{},
	&setupCmd{},
	&statusCmd{},
}

type runCmd struct {
	flags config.Flags
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "start the ledger, the recurring scheduler and the web API" }
func (*runCmd) Usage() string {
	return `accrue run [-config <file.yaml>] [-listen <addr>]

  Restores the journals, refreshes prices from the configured platform,
  executes due recurring purchases and serves the JSON API until interrupted.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) { c.flags.Register(f) }

func (c *runCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	conf, err := c.flags.Get()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	logger, err := NewLogger(conf.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer logger.Sync()

	if err := run(ctx, logger, conf); err != nil {
		logger.Error("engine stopped", zap.Error(err))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func run(ctx context.Context, logger *zap.Logger, conf config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := internal.NewPriceSource(conf)
	if err != nil {
		return errors.Wrap(err, "create price source")
	}
	engine, err := internal.NewEngine(logger, conf, source)
	if err != nil {
		return err
	}
	defer engine.Close()

	logger.Info("engine started",
		zap.String("platform", string(conf.Platform)),
		zap.Strings("instruments", engine.TrackedInstruments()),
		zap.String("cash", engine.Ledger.Cash().String()))

	return engine.Run(ctx)
}

type setupCmd struct {
	out string
}

func (*setupCmd) Name() string     { return "setup" }
func (*setupCmd) Synopsis() string { return "interactively create a config file" }
func (*setupCmd) Usage() string {
	return `accrue setup [-out <file.yaml>]

  Walks through the price source, instruments, starting cash and fees and
  writes the resulting YAML config.
`
}

func (c *setupCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "out", config.DefaultPath, "where to write the generated config")
}

func (c *setupCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := setup.RunTUI(c.out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type statusCmd struct {
	flags config.Flags
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "print cash, holdings and recurring plans" }
func (*statusCmd) Usage() string {
	return `accrue status [-config <file.yaml>]

  Reads the journals under data_dir and prints the current portfolio and
  plans. The engine does not need to be running; stop it first since the
  journals are single-writer.
`
}

func (c *statusCmd) SetFlags(f *flag.FlagSet) { c.flags.Register(f) }

func (c *statusCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	conf, err := c.flags.Get()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	st, err := internal.LoadStatus(conf)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	fmt.Println(RenderStatus(st, conf.BaseCurrency))
	return subcommands.ExitSuccess
}

// NewLogger builds the production logger, or the development one for "debug".
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}
