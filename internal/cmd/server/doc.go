// Package serverrun exposes the Run entrypoint used by `spoolq server
// start`: it builds the logger, history journal, capacity policy, task
// manager and optional admin endpoint from a config.Config, then runs the
// dispatch loop until the context is cancelled.
//
// Example:
//
//	cfg := config.Default()
//	config.FromEnv(&cfg)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
