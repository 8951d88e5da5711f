// Package workqueue implements a file-system mediated work queue: many
// client processes enqueue requests into a spool, a single server process
// runs them under a capacity cap through a TaskManager, and clients collect
// results or give up.
//
// # Request Lifecycle
//
//  1. Enqueue: client creates requested/<id> (exclusive create)
//  2. Admit: server moves it to pending/ and appends to its FIFO
//  3. Dispatch: while the TaskManager has capacity, the oldest pending
//     request is started and moved to running/
//  4. Reap: finished results are written over running/<id>, which is then
//     renamed to complete/<id>
//  5. Collect: the waiting client reads and deletes complete/<id>
//
// Abort is a side channel: a client touches aborting/<id>; on its next tick
// the server deletes the marker and removes the request from whichever
// state holds it, terminating the task if it is running.
//
// # Results
//
// complete/<id> holds a JSON Result envelope: {"ok": <value>} or
// {"error": {"kind", "message", "causes"}}. Wait returns the value, or a
// *TaskError reconstructed from the descriptor.
//
// # Failure Model
//
// Every filesystem error inside a server tick is fatal: ProcessRequests
// returns it and the supervisor is expected to restart the process, which
// wipes the spool. Clients observe a dead or slow server identically, as a
// *TimeoutError from Wait.
package workqueue
