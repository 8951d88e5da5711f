package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rzbill/spoolq/internal/history"
)

// Client calls a remote admin endpoint.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an established connection.
func NewClient(conn *grpc.ClientConn) *Client { return &Client{conn: conn} }

// Stats fetches spool counts and history totals.
func (c *Client) Stats(ctx context.Context) (Stats, *structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, statsMethod, &structpb.Struct{}, out); err != nil {
		return Stats{}, nil, err
	}
	var st Stats
	err := fromStruct(out, &st)
	return st, out, err
}

// History fetches entries matching q.
func (c *Client) History(ctx context.Context, q HistoryQuery) ([]history.Entry, *structpb.Struct, error) {
	in, err := toStruct(q)
	if err != nil {
		return nil, nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, historyMethod, in, out); err != nil {
		return nil, nil, err
	}
	var reply struct {
		Entries []history.Entry `json:"entries"`
	}
	err = fromStruct(out, &reply)
	return reply.Entries, out, err
}

// Healthy reports whether the remote dispatch loop is ticking.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	res, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, err
	}
	return res.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
