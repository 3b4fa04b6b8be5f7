package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mbellotti/testyard/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "testyard.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ty",
		Short: "Testyard - agent-orchestrated test automation",
		Long:  "Testyard turns plain-language requirements into executable test scripts and runs them on demand or on a schedule.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newExecCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ty %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// loadConfig reads the config file, falling back to built-in defaults when
// the default path does not exist and no explicit path was given.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
