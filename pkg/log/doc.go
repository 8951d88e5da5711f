// Package log provides spoolq's structured logging facade and utilities.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that feeds our formatter and
// outputs pipeline.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("server"), log.Str("spool", "/var/spool/spoolq"))
//	l.Info("dispatch loop started", log.Dur("sample_interval", time.Second))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config, supporting JSON
// or text formatting and multiple outputs (console, file, null). Redaction and
// sampling are applied at the handler.
//
// # Interop
//
// To integrate with libraries expecting *log.Logger (Pebble, for one), use
// ToStdLogger or RedirectStdLog.
package log
