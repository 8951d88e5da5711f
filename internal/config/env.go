package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays SPOOLQ_* environment variables onto cfg. Unparseable
// values are ignored.
func FromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			}
		}
	}

	str("SPOOLQ_SPOOL_DIR", &cfg.SpoolDir)
	str("SPOOLQ_DATA_DIR", &cfg.DataDir)
	str("SPOOLQ_FSYNC", &cfg.Fsync)
	dur("SPOOLQ_SAMPLE_INTERVAL", &cfg.SampleInterval)
	dur("SPOOLQ_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	dur("SPOOLQ_WAIT_POLL_INTERVAL", &cfg.WaitPollInterval)
	str("SPOOLQ_RUNNER", &cfg.Runner)
	if v := os.Getenv("SPOOLQ_MAX_RUNNING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRunning = n
		}
	}
	str("SPOOLQ_CAPACITY_EXPR", &cfg.CapacityExpr)
	str("SPOOLQ_DOCKER_IMAGE", &cfg.DockerImage)
	if v := os.Getenv("SPOOLQ_INHERIT_ENV"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.InheritEnv = b
		}
	}
	str("SPOOLQ_ADMIN_ADDR", &cfg.AdminAddr)
	str("SPOOLQ_LOG_LEVEL", &cfg.Log.Level)
	str("SPOOLQ_LOG_FORMAT", &cfg.Log.Format)
	if v := os.Getenv("SPOOLQ_LOG_OUTPUTS"); v != "" {
		cfg.Log.Outputs = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Log.Outputs = append(cfg.Log.Outputs, p)
			}
		}
	}
}
