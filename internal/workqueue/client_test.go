package workqueue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rzbill/spoolq/internal/spool"
	"github.com/rzbill/spoolq/pkg/id"
)

func newTestClient(t *testing.T, opts ClientOptions) (*Client, *spool.Spool) {
	t.Helper()
	sp := spool.New(filepath.Join(t.TempDir(), "wq"))
	if err := sp.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return NewClient(sp, opts), sp
}

func TestEnqueueWritesRequestedFile(t *testing.T) {
	cli, sp := newTestClient(t, ClientOptions{})
	reqID, err := cli.EnqueueRequest(context.Background(), map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !id.Valid(reqID) {
		t.Fatalf("malformed id %q", reqID)
	}
	b, err := sp.Read(reqID, spool.Requested)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != `{"n":1}` {
		t.Fatalf("payload %s", b)
	}
}

func TestEnqueueRetriesOnCollision(t *testing.T) {
	prev := id.NowMicros
	id.NowMicros = func() int64 { return 1700000000_000000 }
	t.Cleanup(func() { id.NowMicros = prev })

	cli, sp := newTestClient(t, ClientOptions{})
	// another client already holds the first id this process would produce
	if err := sp.CreateExclusive("1700000000.000001", spool.Requested, []byte(`"other"`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	reqID, err := cli.EnqueueRequest(context.Background(), "mine")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if reqID != "1700000000.000002" {
		t.Fatalf("expected retry to next id, got %s", reqID)
	}
	b, _ := sp.Read("1700000000.000001", spool.Requested)
	if string(b) != `"other"` {
		t.Fatalf("collision overwrote existing request: %s", b)
	}
}

func TestEnqueueExhaustion(t *testing.T) {
	prev := id.NowMicros
	id.NowMicros = func() int64 { return 1700000000_000000 }
	t.Cleanup(func() { id.NowMicros = prev })

	cli, sp := newTestClient(t, ClientOptions{MaxAttempts: 2})
	for _, seed := range []string{"1700000000.000001", "1700000000.000002"} {
		if err := sp.CreateExclusive(seed, spool.Requested, nil); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if _, err := cli.EnqueueRequest(context.Background(), 1); !errors.Is(err, ErrIDExhausted) {
		t.Fatalf("want ErrIDExhausted, got %v", err)
	}
}

func TestEnqueueRejectsInvalidRawPayload(t *testing.T) {
	cli, _ := newTestClient(t, ClientOptions{})
	if _, err := cli.EnqueueRequest(context.Background(), json.RawMessage(`{bad`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRejectsMalformedRequestIDs(t *testing.T) {
	cli, sp := newTestClient(t, ClientOptions{PollInterval: 5 * time.Millisecond, DisableNotify: true})
	victim := filepath.Join(filepath.Dir(sp.Root()), "victim.json")
	data, _ := Result{Value: json.RawMessage(`"stolen"`)}.Encode()
	if err := os.WriteFile(victim, data, 0o644); err != nil {
		t.Fatalf("write victim: %v", err)
	}

	for _, bad := range []string{"../../victim.json", "", "..", "a/b", "1700000000.000001/../x"} {
		v, err := cli.Wait(context.Background(), bad, 20*time.Millisecond)
		if !errors.Is(err, ErrInvalidID) || v != nil {
			t.Fatalf("Wait(%q): want ErrInvalidID, got %s %v", bad, v, err)
		}
		if err := cli.AbortRequest(bad); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("AbortRequest(%q): want ErrInvalidID, got %v", bad, err)
		}
	}
	if _, err := os.Stat(victim); err != nil {
		t.Fatalf("file outside spool consumed: %v", err)
	}
	if ids, _ := sp.List(spool.Aborting); len(ids) != 0 {
		t.Fatalf("abort markers written for malformed ids: %v", ids)
	}
}

func TestWaitTimeoutSelfAborts(t *testing.T) {
	cli, sp := newTestClient(t, ClientOptions{PollInterval: 5 * time.Millisecond, DisableNotify: true})
	reqID, _ := cli.EnqueueRequest(context.Background(), "slow")

	start := time.Now()
	_, err := cli.Wait(context.Background(), reqID, 30*time.Millisecond)
	var te *TimeoutError
	if !errors.As(err, &te) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("want timeout, got %v", err)
	}
	if te.RequestID != reqID || te.Timeout != 30*time.Millisecond {
		t.Fatalf("timeout error %+v", te)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("returned before deadline")
	}
	if !sp.IsInState(reqID, spool.Aborting) {
		t.Fatalf("no abort marker after timeout")
	}
}

func TestWaitContextCancelAborts(t *testing.T) {
	cli, sp := newTestClient(t, ClientOptions{PollInterval: time.Hour, DisableNotify: true})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := cli.Wait(ctx, "1700000000.000009", time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want canceled, got %v", err)
	}
	if !sp.IsInState("1700000000.000009", spool.Aborting) {
		t.Fatalf("no abort marker after cancel")
	}
}

func TestWaitWakesOnNotification(t *testing.T) {
	cli, sp := newTestClient(t, ClientOptions{PollInterval: time.Hour})
	reqID := "1700000000.000042"

	time.AfterFunc(20*time.Millisecond, func() {
		data, _ := Result{Value: json.RawMessage(`"done"`)}.Encode()
		_ = sp.WriteAtomic(reqID, spool.Complete, data)
	})
	v, err := cli.Wait(context.Background(), reqID, 5*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if string(v) != `"done"` {
		t.Fatalf("got %s", v)
	}
	if sp.IsInState(reqID, spool.Complete) {
		t.Fatalf("result not consumed")
	}
}

func TestCallRoundTrip(t *testing.T) {
	tm := newFakeTM(-1, true)
	sp := spool.New(filepath.Join(t.TempDir(), "wq"))
	srv := NewServer(sp, ServerOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.ProcessRequests(ctx, tm) }()

	// wait for the server to create the spool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(sp.Dir(spool.Aborting)); err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}

	cli := NewClient(sp, ClientOptions{PollInterval: 5 * time.Millisecond})
	v, err := cli.Call(ctx, []int{1, 2, 3}, 5*time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(v) != `[1,2,3]` {
		t.Fatalf("got %s", v)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server: %v", err)
	}
}
