package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kittinook/behavior-tree/internal/bt"
)

// TickCommand loads a tree descriptor and ticks it a fixed number of times,
// printing the resulting status after each tick. It exists mainly for
// scripted testing of a descriptor without standing up a full run loop.
type TickCommand struct {
	*BaseCommand
	descriptorPath string
	count          int
}

// NewTickCommand creates the "tick" subcommand.
func NewTickCommand() *TickCommand {
	return &TickCommand{
		BaseCommand: NewBaseCommand("tick", "Tick a tree descriptor a fixed number of times", "btree tick -descriptor <path> [-count N]"),
	}
}

func (c *TickCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.descriptorPath, "descriptor", "", "path to a YAML tree descriptor (required)")
	fs.IntVar(&c.count, "count", 1, "number of ticks to run")
}

func (c *TickCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if c.descriptorPath == "" {
		return fmt.Errorf("tick: -descriptor is required")
	}
	data, err := os.ReadFile(c.descriptorPath)
	if err != nil {
		return fmt.Errorf("tick: failed to read descriptor: %w", err)
	}

	mgr := bt.NewManager(bt.ManagerConfig{})
	ctx := context.Background()
	if err := mgr.LoadFromConfig(ctx, data, bt.ActionRegistry{}, bt.ConditionRegistry{}); err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	defer mgr.Shutdown(ctx)

	for i := 0; i < c.count; i++ {
		status, err := mgr.TickOnce(ctx)
		if err != nil {
			fmt.Fprintf(stdout, "tick %d: %s (%v)\n", i+1, status, err)
			continue
		}
		fmt.Fprintf(stdout, "tick %d: %s\n", i+1, status)
	}
	return nil
}
