package client

import (
	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/spoolq/internal/config"
	"github.com/rzbill/spoolq/internal/spool"
	"github.com/rzbill/spoolq/internal/workqueue"
)

const defaultAdminAddr = "127.0.0.1:7070"

// Register adds the client command set and its persistent flags to root.
func Register(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.String("config", "", "Path to a JSON config file")
	pf.String("spool", "", "Spool directory (overrides config and SPOOLQ_SPOOL_DIR)")
	pf.String("admin", "", "Admin endpoint address (overrides config and SPOOLQ_ADMIN_ADDR)")

	root.AddCommand(
		newEnqueueCommand(),
		newWaitCommand(),
		newAbortCommand(),
		newCallCommand(),
		newListCommand(),
		newStatsCommand(),
		newHistoryCommand(),
	)
}

// LoadConfig resolves the effective configuration for cmd: file, then
// environment, then the persistent flags.
func LoadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)
	if v, _ := cmd.Flags().GetString("spool"); v != "" {
		cfg.SpoolDir = v
	}
	if v, _ := cmd.Flags().GetString("admin"); v != "" {
		cfg.AdminAddr = v
	}
	return cfg, nil
}

func newQueueClient(cmd *cobra.Command) (*workqueue.Client, *spool.Spool, error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	sp := spool.New(cfg.SpoolDir)
	c := workqueue.NewClient(sp, workqueue.ClientOptions{
		PollInterval: durationOf(cfg.WaitPollInterval),
	})
	return c, sp, nil
}
