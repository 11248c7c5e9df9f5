// Command inject is the injector CLI (§4.14): it reverses the
// dump-descriptor interpreter, writing previously extracted binary dump
// files back into a core at the offsets recorded in that core's
// symbol.map. Built with cobra the way golang-debug's viewcore and
// ja7ad-consumption's CLI entrypoints structure their command trees,
// rather than the teacher's bare flag.Parse shim (this tool has a fixed
// positional-arg shape with no flags of its own, which cobra still
// structures cleanly into a documented, testable Command).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kraj/minicoredumper/internal/injector"
)

func newInjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inject <core> <symbol.map> <binary-dump>...",
		Short: "Inject previously dumped binary files back into a core",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			corePath := args[0]
			mapPath := args[1]
			dumpPaths := args[2:]
			return injector.InjectAll(corePath, mapPath, dumpPaths)
		},
	}
	return cmd
}

func main() {
	if err := newInjectCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "inject: %v\n", err)
		os.Exit(1)
	}
}
