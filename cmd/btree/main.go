// Command btree runs, ticks, validates, and inspects behavior trees
// described by YAML descriptor files.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kittinook/behavior-tree/internal/command"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	registry := command.NewRegistry()
	registry.Register(command.NewRunCommand())
	registry.Register(command.NewTickCommand())
	registry.Register(command.NewValidateCommand())
	registry.Register(command.NewSnapshotCommand())
	registry.Register(command.NewStatsCommand())

	if len(os.Args) < 2 {
		printUsage(registry)
		return nil
	}

	cmdName := os.Args[1]
	if cmdName == "-h" || cmdName == "--help" || cmdName == "help" {
		printUsage(registry)
		return nil
	}
	if cmdName == "-v" || cmdName == "--version" || cmdName == "version" {
		fmt.Println(version)
		return nil
	}

	cmd, err := registry.Get(cmdName)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmdName)
		printUsage(registry)
		return err
	}

	fs := flag.NewFlagSet(cmd.Name(), flag.ExitOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s\n\n%s\n\nOptions:\n", cmd.Usage(), cmd.Description())
		fs.PrintDefaults()
	}
	cmd.SetupFlags(fs)

	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}

	return cmd.Execute(fs.Args(), os.Stdout, os.Stderr)
}

func printUsage(registry *command.Registry) {
	fmt.Fprintln(os.Stderr, "Usage: btree <command> [flags]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	for _, name := range registry.List() {
		cmd, _ := registry.Get(name)
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, cmd.Description())
	}
}
