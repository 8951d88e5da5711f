// Package grpcserver hosts the server's admin endpoint: the standard gRPC
// health service, driven by the dispatch loop, plus an Admin service that
// reports spool counts and the history journal.
//
// Admin messages are google.protobuf.Struct values carrying the JSON form
// of Stats, history.Entry and []history.Entry.
//
//	s := grpcserver.New(sp, journal, logger)
//	srv := workqueue.NewServer(sp, workqueue.ServerOptions{OnTick: s.OnTick})
//	go s.ListenAndServe(ctx, ":7070")
package grpcserver
