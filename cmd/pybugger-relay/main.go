// Command pybugger-relay runs the debug-adapter relay: a long-lived
// process that accepts HTTP requests from driving agents, spawns and
// supervises debugpy adapter subprocesses, and exposes their DAP
// sessions as a small synchronous request/response + poll surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPathFlag string

func main() {
	root := &cobra.Command{
		Use:           "pybugger-relay",
		Short:         "Relay that exposes debugpy debug sessions over HTTP",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPathFlag, "config", "", "path to relay config YAML (optional)")
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
