package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}
	clientFlags := &ClientFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createStatusCommand(clientFlags),
		createStartCommand(clientFlags),
		createStopCommand(clientFlags),
		createRestartCommand(clientFlags),
		createInstallCommand(clientFlags),
		createVersionCommand(clientFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "netwarden",
		Short: "Network monitor backend host",
		Long:  "netwarden supervises the Python network-monitor backend and exposes its lifecycle over HTTP.",
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to netwarden.toml")
	return root
}
