package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/netwarden/netwarden"
)

func createServeCommand(global *GlobalFlags, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: launch the backend and serve the bridge/control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(global, flags)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&flags.BackendDir, "backend-dir", "", "backend directory (overrides config)")
	cmd.Flags().BoolVar(&flags.Packaged, "packaged", false, "anchor the backend next to the executable")
	cmd.Flags().BoolVar(&flags.NoAutorun, "no-autorun", false, "do not launch the backend at startup")
	return cmd
}

func runServe(global *GlobalFlags, flags *ServeFlags) error {
	cfg := netwarden.DefaultConfig()
	if global.ConfigPath != "" {
		loaded, err := netwarden.LoadConfig(global.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}
	if flags.BackendDir != "" {
		cfg.BackendDir = flags.BackendDir
	}
	if flags.Packaged {
		cfg.Packaged = true
	}

	host, err := netwarden.NewHost(cfg, netwarden.HostOptions{Version: version})
	if err != nil {
		return err
	}
	defer host.Shutdown()

	server, err := host.NewServer()
	if err != nil {
		return err
	}

	if !flags.NoAutorun {
		// A launch failure is not fatal: the control surface stays up so the
		// operator can install dependencies and start again.
		if err := host.Start(context.Background()); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "backend launch failed: %v\n", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
	return nil
}

func createStatusCommand(flags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend status from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(flags.APIUrl, flags.APITimeout)
			st, err := client.Status()
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createStartCommand(flags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(flags.APIUrl, flags.APITimeout)
			if err := client.Start(); err != nil {
				return err
			}
			fmt.Println("backend started")
			return nil
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createStopCommand(flags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(flags.APIUrl, flags.APITimeout)
			if err := client.Stop(); err != nil {
				return err
			}
			fmt.Println("backend stopping")
			return nil
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createRestartCommand(flags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(flags.APIUrl, flags.APITimeout)
			if err := client.Restart(); err != nil {
				return err
			}
			fmt.Println("backend restarted")
			return nil
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createInstallCommand(flags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install-deps",
		Short: "Install backend dependencies via pip",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(flags.APIUrl, flags.APITimeout)
			if err := client.Install(); err != nil {
				return err
			}
			fmt.Println("dependency install started; outcome is reported by the daemon")
			return nil
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createVersionCommand(flags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show CLI and daemon versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("cli: %s\n", version)
			client := NewAPIClient(flags.APIUrl, flags.APITimeout)
			if v, err := client.Version(); err == nil {
				fmt.Printf("daemon: %s\n", v)
			} else {
				fmt.Println("daemon: unreachable")
			}
			return nil
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func addClientFlags(cmd *cobra.Command, flags *ClientFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon base URL (default http://127.0.0.1:9876)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 0, "request timeout (default 10s)")
}
