package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/spoolq/internal/cmd/client"
	serverrun "github.com/rzbill/spoolq/internal/cmd/server"
	cfgpkg "github.com/rzbill/spoolq/internal/config"
	logpkg "github.com/rzbill/spoolq/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "spoolq",
		Short:         "Filesystem spool work queue",
		Long:          "spoolq runs requests queued as files in a shared spool directory. Clients enqueue and wait; one server dispatches.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	clientcmd.Register(rootCmd)

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Run the dispatch loop",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := clientcmd.LoadConfig(cmd)
			if err != nil {
				return err
			}
			applyServerFlags(cmd, &cfg)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	f := serverStartCmd.Flags()
	f.String("data-dir", "", "History directory (empty keeps the configured one)")
	f.Bool("no-history", false, "Disable the history journal")
	f.String("runner", "", "Task runner: exec|docker")
	f.Int("max-running", 0, "Concurrent task limit (0 = unlimited)")
	f.String("capacity", "", "CEL capacity expression, e.g. 'running < limit && hour >= 1'")
	f.String("docker-image", "", "Default image for the docker runner")
	f.Duration("sample-interval", 0, "Dispatch loop period")
	f.String("fsync", "", "History fsync mode: interval|always|never")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		logpkg.NewLogger(logpkg.WithFormatter(&logpkg.TextFormatter{DisableTimestamp: true})).Error(err.Error())
		os.Exit(1)
	}
}

// applyServerFlags overrides cfg with flags the user set explicitly.
func applyServerFlags(cmd *cobra.Command, cfg *cfgpkg.Config) {
	f := cmd.Flags()
	if f.Changed("data-dir") {
		cfg.DataDir, _ = f.GetString("data-dir")
	}
	if off, _ := f.GetBool("no-history"); off {
		cfg.DataDir = ""
	}
	if f.Changed("runner") {
		cfg.Runner, _ = f.GetString("runner")
	}
	if f.Changed("max-running") {
		cfg.MaxRunning, _ = f.GetInt("max-running")
	}
	if f.Changed("capacity") {
		cfg.CapacityExpr, _ = f.GetString("capacity")
	}
	if f.Changed("docker-image") {
		cfg.DockerImage, _ = f.GetString("docker-image")
	}
	if f.Changed("sample-interval") {
		d, _ := f.GetDuration("sample-interval")
		cfg.SampleInterval = cfgpkg.Duration(d)
	}
	if f.Changed("fsync") {
		cfg.Fsync, _ = f.GetString("fsync")
	}
	if f.Changed("log-level") {
		cfg.Log.Level, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		cfg.Log.Format, _ = f.GetString("log-format")
	}
}
