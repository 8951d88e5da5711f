package grpcserver

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rzbill/spoolq/internal/history"
	"github.com/rzbill/spoolq/internal/spool"
	"github.com/rzbill/spoolq/internal/workqueue"
)

const (
	adminServiceName = "spoolq.v1.Admin"
	statsMethod      = "/" + adminServiceName + "/Stats"
	historyMethod    = "/" + adminServiceName + "/History"
)

// Journal is the read side of history.Journal.
type Journal interface {
	Stats() history.Stats
	LastTick() workqueue.TickStats
	Get(requestID string) (history.Entry, error)
	Recent(n int) ([]history.Entry, error)
}

// Stats is the Admin/Stats reply.
type Stats struct {
	Spool    map[string]int      `json:"spool"`
	LastTick workqueue.TickStats `json:"last_tick"`
	Totals   history.Stats       `json:"totals"`
}

// HistoryQuery is the Admin/History request: one id, or the newest Limit
// entries when ID is empty.
type HistoryQuery struct {
	ID    string `json:"id,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type adminServer interface {
	Stats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type adminSvc struct {
	spool   *spool.Spool
	journal Journal
}

func (a *adminSvc) Stats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	counts, err := a.spool.Counts()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "spool counts: %v", err)
	}
	out := Stats{Spool: make(map[string]int, len(counts))}
	for st, n := range counts {
		out.Spool[st.String()] = n
	}
	if a.journal != nil {
		out.LastTick = a.journal.LastTick()
		out.Totals = a.journal.Stats()
	}
	return toStruct(out)
}

func (a *adminSvc) History(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if a.journal == nil {
		return nil, status.Error(codes.Unavailable, "history is disabled")
	}
	var q HistoryQuery
	if err := fromStruct(in, &q); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "history query: %v", err)
	}
	if q.ID != "" {
		e, err := a.journal.Get(q.ID)
		if errors.Is(err, history.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "request %s not found", q.ID)
		}
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return toStruct(map[string]any{"entries": []history.Entry{e}})
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	entries, err := a.journal.Recent(q.Limit)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return toStruct(map[string]any{"entries": entries})
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(adminServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statsMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(adminServer).Stats(ctx, req.(*structpb.Struct))
	})
}

func historyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(adminServer).History(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: historyMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(adminServer).History(ctx, req.(*structpb.Struct))
	})
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*adminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: statsHandler},
		{MethodName: "History", Handler: historyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spoolq/v1/admin",
}
