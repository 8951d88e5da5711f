package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	cfgpkg "github.com/rzbill/spoolq/internal/config"
	grpcserver "github.com/rzbill/spoolq/internal/server/grpc"
	"github.com/rzbill/spoolq/internal/workqueue"
)

func durationOf(d cfgpkg.Duration) time.Duration { return time.Duration(d) }

// withAdminClient dials the admin endpoint with insecure transport and
// closes the connection afterwards.
func withAdminClient(addr string, fn func(*grpcserver.Client) error) error {
	if addr == "" {
		addr = defaultAdminAddr
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	return fn(grpcserver.NewClient(conn))
}

// readPayload parses --data as JSON; anything else is sent as a string.
func readPayload(data string) json.RawMessage {
	if json.Valid([]byte(data)) {
		return json.RawMessage(data)
	}
	b, _ := json.Marshal(data)
	return b
}

func printJSON(w io.Writer, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func printProto(w io.Writer, m proto.Message) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// describeWaitError renders the failure modes of Wait for a terminal.
func describeWaitError(err error) error {
	var te *workqueue.TaskError
	var to *workqueue.TimeoutError
	switch {
	case errors.As(err, &te):
		return fmt.Errorf("request %s failed: %s: %s", te.RequestID, te.Kind, te.Message)
	case errors.As(err, &to):
		return fmt.Errorf("request %s timed out after %s and was aborted", to.RequestID, to.Timeout)
	case errors.Is(err, context.Canceled):
		return errors.New("interrupted; request aborted")
	}
	return err
}
