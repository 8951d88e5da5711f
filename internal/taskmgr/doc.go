// Package taskmgr provides workqueue.TaskManager implementations.
//
//   - Func runs an in-process Go handler per request.
//   - Exec runs the payload as a subprocess: {"argv": [...], "env": {...}, "dir": "..."}.
//   - Docker runs the payload in a container: {"image": "...", "cmd": [...], "env": {...}}.
//
// All three share the same bookkeeping: each task runs on its own
// goroutine, admission is delegated to a capacity.Policy, and finished
// tasks queue up until the server reaps them. A terminated task's context
// is cancelled and its eventual result is discarded.
package taskmgr
