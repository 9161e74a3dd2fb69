package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kittinook/behavior-tree/internal/bt"
	"github.com/kittinook/behavior-tree/internal/config"
)

// RunCommand starts a tree descriptor and ticks it at a fixed rate until
// interrupted.
type RunCommand struct {
	*BaseCommand
	descriptorPath string
	configPath     string
	logPath        string
	logLevel       string
	tickRateHz     float64
	fatalOnError   bool
}

// NewRunCommand creates the "run" subcommand.
func NewRunCommand() *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand("run", "Run a tree descriptor at a fixed tick rate", "btree run -descriptor <path> [flags]"),
	}
}

func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.descriptorPath, "descriptor", "", "path to a YAML tree descriptor (required)")
	fs.StringVar(&c.configPath, "config", "", "path to a btree config file (defaults to BTREE_CONFIG or ~/.btree/config)")
	fs.StringVar(&c.logPath, "log-file", "", "path to write logs to (defaults to stderr)")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.Float64Var(&c.tickRateHz, "tick-rate", 0, "ticks per second (defaults to the config value)")
	fs.BoolVar(&c.fatalOnError, "fatal-on-error", false, "stop the run loop on the first root ERROR")
}

func (c *RunCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if c.descriptorPath == "" {
		return fmt.Errorf("run: -descriptor is required")
	}

	cfg, err := loadConfig(c.configPath)
	if err != nil {
		return err
	}

	lc, err := resolveLogConfig(c.logPath, c.logLevel, cfg)
	if err != nil {
		return err
	}
	if lc.logFile != nil {
		defer lc.logFile.Close()
	}
	logger := newLogger(lc, os.Stderr)

	tickRateHz := c.tickRateHz
	if tickRateHz <= 0 {
		tickRateHz = cfg.TickRateHz
	}
	if tickRateHz <= 0 {
		tickRateHz = 60
	}

	data, err := os.ReadFile(c.descriptorPath)
	if err != nil {
		return fmt.Errorf("run: failed to read descriptor: %w", err)
	}

	mgr := bt.NewManager(bt.ManagerConfig{
		Logger:        logger,
		FatalOnError:  c.fatalOnError || cfg.GetBool("fatal-on-error"),
		ActivityLogSz: cfg.GetInt("blackboard.activity-log-size"),
	})
	mgr.Bus().Subscribe(func(evt bt.Event) {
		logger.Debug("tree event", "kind", evt.Kind, "node", evt.NodeName, "node_id", evt.NodeID)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := mgr.LoadFromConfig(ctx, data, bt.ActionRegistry{}, bt.ConditionRegistry{}); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer mgr.Shutdown(context.Background())

	interval := time.Duration(float64(time.Second) / tickRateHz)
	fmt.Fprintf(stdout, "running %s at %.2f Hz (ctrl-c to stop)\n", c.descriptorPath, tickRateHz)
	err = mgr.Run(ctx, interval)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFromPath(explicitPath)
	}
	return config.Load()
}
