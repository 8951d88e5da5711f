package log

import (
	"fmt"
	"strings"
)

// Config declares how to build a process logger.
type Config struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	// Outputs lists sinks: "console", "null", or "file:<path>". Empty means console.
	Outputs []string `json:"outputs,omitempty"`
	// Redact lists field keys whose values are masked.
	Redact []string `json:"redact,omitempty"`
	// SampleInitial/SampleThereafter enable per-message sampling when thereafter > 0.
	SampleInitial    int `json:"sampleInitial,omitempty"`
	SampleThereafter int `json:"sampleThereafter,omitempty"`
}

// ParseLevel parses debug|info|warn|error|fatal (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	opts := []LoggerOption{WithLevel(lvl), WithFormatter(formatter)}
	for _, o := range cfg.Outputs {
		switch {
		case o == "console":
			opts = append(opts, WithOutput(NewConsoleOutput()))
		case o == "null":
			opts = append(opts, WithOutput(NullOutput{}))
		case strings.HasPrefix(o, "file:"):
			fo, err := NewFileOutput(strings.TrimPrefix(o, "file:"))
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithOutput(fo))
		default:
			return nil, fmt.Errorf("log: unknown output %q", o)
		}
	}
	if len(cfg.Redact) > 0 {
		opts = append(opts, WithRedaction(cfg.Redact...))
	}
	if cfg.SampleThereafter > 0 {
		opts = append(opts, WithSampling(cfg.SampleInitial, cfg.SampleThereafter))
	}
	return NewLogger(opts...), nil
}
