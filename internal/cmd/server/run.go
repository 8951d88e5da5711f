package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rzbill/spoolq/internal/capacity"
	cfgpkg "github.com/rzbill/spoolq/internal/config"
	"github.com/rzbill/spoolq/internal/history"
	grpcserver "github.com/rzbill/spoolq/internal/server/grpc"
	"github.com/rzbill/spoolq/internal/spool"
	pebblestore "github.com/rzbill/spoolq/internal/storage/pebble"
	"github.com/rzbill/spoolq/internal/taskmgr"
	"github.com/rzbill/spoolq/internal/workqueue"
	logpkg "github.com/rzbill/spoolq/pkg/log"
)

// Manager is a task manager that can be stopped.
type Manager interface {
	workqueue.TaskManager
	Shutdown()
}

// Options configures Run.
type Options struct {
	Config cfgpkg.Config
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
	// Manager overrides the runner selected by Config.Runner.
	Manager Manager
}

// Run starts the dispatch loop and blocks until ctx is cancelled or the
// loop fails.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logpkg.ApplyConfig(&cfg.Log)
		if err != nil {
			return err
		}
		// Pebble logs through the standard library.
		logpkg.RedirectStdLog(logger)
	}

	var metrics workqueue.MetricsHook = workqueue.NoopMetrics{}
	var journal grpcserver.Journal
	if cfg.DataDir != "" {
		fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
		if err != nil {
			return err
		}
		j, err := history.Open(history.Options{DataDir: cfg.DataDir, Fsync: fsync, Logger: logger})
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer j.Close()
		metrics, journal = j, j
	}

	tm := opts.Manager
	if tm == nil {
		var err error
		if tm, err = buildManager(cfg, logger); err != nil {
			return err
		}
	}

	sp := spool.New(cfg.SpoolDir)
	logger.Info("Starting spoolq server",
		logpkg.Str("spool", cfg.SpoolDir),
		logpkg.Str("history", cfg.DataDir),
		logpkg.Str("runner", cfg.Runner),
		logpkg.Int("max_running", cfg.MaxRunning),
		logpkg.Str("capacity_expr", cfg.CapacityExpr),
		logpkg.Str("admin", cfg.AdminAddr),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	var wg sync.WaitGroup
	var admin *grpcserver.Server
	srvOpts := workqueue.ServerOptions{
		Logger:            logger,
		Metrics:           metrics,
		HeartbeatInterval: time.Duration(cfg.HeartbeatInterval),
	}
	if cfg.AdminAddr != "" {
		admin = grpcserver.New(sp, journal, logger)
		srvOpts.OnTick = admin.OnTick
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := admin.ListenAndServe(sctx, cfg.AdminAddr); err != nil && sctx.Err() == nil {
				logger.Error("admin endpoint failed", logpkg.Err(err))
			}
		}()
	}

	err := workqueue.NewServer(sp, srvOpts).ProcessRequests(sctx, tm)
	if admin != nil {
		admin.Stopped()
	}
	tm.Shutdown()
	stop()
	if admin != nil {
		admin.Close()
	}
	wg.Wait()
	return err
}

func buildManager(cfg cfgpkg.Config, logger logpkg.Logger) (Manager, error) {
	limit := cfg.MaxRunning
	if limit == 0 {
		limit = -1
	}
	policy, err := capacity.FromConfig(cfg.CapacityExpr, limit)
	if err != nil {
		return nil, err
	}
	opts := taskmgr.Options{
		Policy:         policy,
		SampleInterval: time.Duration(cfg.SampleInterval),
		Logger:         logger,
	}
	switch cfg.Runner {
	case cfgpkg.RunnerDocker:
		d, err := taskmgr.NewDockerFromEnv(cfg.DockerImage, opts)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return taskmgr.NewExec(opts, cfg.InheritEnv), nil
	}
}
