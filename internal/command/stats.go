package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/kittinook/behavior-tree/internal/bt"
)

// StatsCommand loads a descriptor, ticks it a number of times, and prints
// per-node tick counters.
type StatsCommand struct {
	*BaseCommand
	descriptorPath string
	ticks          int
}

// NewStatsCommand creates the "stats" subcommand.
func NewStatsCommand() *StatsCommand {
	return &StatsCommand{
		BaseCommand: NewBaseCommand("stats", "Tick a descriptor and print per-node stats", "btree stats -descriptor <path> [-ticks N]"),
	}
}

func (c *StatsCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.descriptorPath, "descriptor", "", "path to a YAML tree descriptor (required)")
	fs.IntVar(&c.ticks, "ticks", 1, "number of ticks to run before reporting")
}

func (c *StatsCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if c.descriptorPath == "" {
		return fmt.Errorf("stats: -descriptor is required")
	}
	data, err := os.ReadFile(c.descriptorPath)
	if err != nil {
		return fmt.Errorf("stats: failed to read descriptor: %w", err)
	}

	mgr := bt.NewManager(bt.ManagerConfig{})
	ctx := context.Background()
	if err := mgr.LoadFromConfig(ctx, data, bt.ActionRegistry{}, bt.ConditionRegistry{}); err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	defer mgr.Shutdown(ctx)

	for i := 0; i < c.ticks; i++ {
		if _, err := mgr.TickOnce(ctx); err != nil {
			break
		}
	}

	exec := mgr.Stats()
	fmt.Fprintf(stdout, "tree: ticks=%d success=%d failure=%d error=%d total_duration=%s last_duration=%s\n",
		exec.TickCount, exec.SuccessCount, exec.FailureCount, exec.ErrorCount, exec.TotalDuration, exec.LastTickDuration)

	nodeStats := mgr.NodeStats()
	ids := make([]string, 0, len(nodeStats))
	for id := range nodeStats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := nodeStats[id]
		fmt.Fprintf(stdout, "%s: ticks=%d success=%d failure=%d error=%d last=%s\n",
			id, s.TickCount, s.SuccessCount, s.FailureCount, s.ErrorCount, s.LastStatus)
	}
	return nil
}
