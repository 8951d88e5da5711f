// Package config provides loading and environment overlay for spoolq
// server and client settings. It exposes a Default() baseline that a JSON
// file and SPOOLQ_* variables refine.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/spoolq.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { ... }
package config
