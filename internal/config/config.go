package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logpkg "github.com/rzbill/spoolq/pkg/log"
)

// Runner kinds.
const (
	RunnerExec   = "exec"
	RunnerDocker = "docker"
)

// Duration is a time.Duration that reads and writes as "1s" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// SpoolDir is the shared queue directory.
	SpoolDir string `json:"spoolDir"`
	// DataDir holds the history journal. Empty disables history.
	DataDir string `json:"dataDir"`
	// Fsync is the journal's fsync mode: interval, always or never.
	Fsync string `json:"fsync"`

	SampleInterval    Duration `json:"sampleInterval"`
	HeartbeatInterval Duration `json:"heartbeatInterval"`
	WaitPollInterval  Duration `json:"waitPollInterval"`

	Runner string `json:"runner"`
	// MaxRunning caps concurrent tasks; 0 means unlimited.
	MaxRunning   int    `json:"maxRunning"`
	CapacityExpr string `json:"capacityExpr,omitempty"`
	DockerImage  string `json:"dockerImage,omitempty"`
	InheritEnv   bool   `json:"inheritEnv"`

	// AdminAddr enables the gRPC admin endpoint when set.
	AdminAddr string `json:"adminAddr,omitempty"`

	Log logpkg.Config `json:"log"`
}

// Default returns built-in defaults.
func Default() Config {
	data := DefaultDataDir()
	return Config{
		SpoolDir:          filepath.Join(data, "spool"),
		DataDir:           filepath.Join(data, "history"),
		Fsync:             "interval",
		SampleInterval:    Duration(time.Second),
		HeartbeatInterval: Duration(10 * time.Minute),
		WaitPollInterval:  Duration(time.Second),
		Runner:            RunnerExec,
		MaxRunning:        1,
		InheritEnv:        true,
		Log:               logpkg.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON file over the defaults. If path is
// empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return Config{}, errors.New("config: yaml is not supported; use JSON")
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.SpoolDir == "":
		return errors.New("config: spoolDir is required")
	case c.SampleInterval <= 0:
		return errors.New("config: sampleInterval must be positive")
	case c.HeartbeatInterval <= 0:
		return errors.New("config: heartbeatInterval must be positive")
	case c.WaitPollInterval <= 0:
		return errors.New("config: waitPollInterval must be positive")
	case c.MaxRunning < 0:
		return errors.New("config: maxRunning must not be negative")
	}
	switch c.Runner {
	case RunnerExec:
	case RunnerDocker:
		// Payloads may name their own image, so DockerImage stays optional.
	default:
		return fmt.Errorf("config: unknown runner %q", c.Runner)
	}
	switch c.Fsync {
	case "", "interval", "always", "never":
	default:
		return fmt.Errorf("config: unknown fsync mode %q", c.Fsync)
	}
	if _, err := logpkg.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
