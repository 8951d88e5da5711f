// Package client provides the spoolq command-line client.
//
// Queue commands work directly on the spool directory and need no running
// server to enqueue; wait and call need one to make progress. Stats and
// history query the server's gRPC admin endpoint.
//
// # Configuration
//
// Settings come from --config (JSON), then SPOOLQ_* variables, then
// flags. --spool overrides the spool directory and --admin the admin
// address (default 127.0.0.1:7070).
//
// Usage
//
//	spoolq enqueue --data '{"argv":["make","test"]}'
//	spoolq wait 1718000000.000001 --timeout 2m
//	spoolq call --data '{"argv":["uname","-a"]}' --timeout 30s
//	spoolq abort 1718000000.000001
//	spoolq ls --state running
//	spoolq stats
//	spoolq history 1718000000.000001
//	spoolq history --limit 5
package client
