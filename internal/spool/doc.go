// Package spool implements the on-disk layout shared by work-queue clients
// and the server.
//
// # Layout
//
//	<root>/
//	  1-requested/<id>   client-written payload
//	  2-pending/<id>     server-moved payload
//	  3-running/<id>     server-moved payload
//	  4-complete/<id>    server-written result envelope
//	  5-aborting/<id>    client-written empty marker
//
// A request's state is its location. Transitions are renames within one
// filesystem, so a concurrent reader sees a request in exactly one of the
// first four directories. New files appear under their final name only once
// fully written: bytes go to a dot-prefixed temp file in the root first and
// are then linked (exclusive) or renamed (overwrite) into place.
package spool
