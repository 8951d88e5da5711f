package workqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rzbill/spoolq/internal/spool"
	"github.com/rzbill/spoolq/pkg/id"
	logpkg "github.com/rzbill/spoolq/pkg/log"
)

const (
	defaultPollInterval = time.Second
	defaultMaxAttempts  = 1000
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// PollInterval bounds how long Wait goes without checking for a result.
	PollInterval time.Duration
	// DisableNotify makes Wait rely on polling only.
	DisableNotify bool
	// MaxAttempts caps id collisions tolerated by EnqueueRequest.
	MaxAttempts int
	Generator   *id.Generator
	Logger      logpkg.Logger
}

// Client introduces work into a spool and collects results.
type Client struct {
	spool       *spool.Spool
	gen         *id.Generator
	poll        time.Duration
	notify      bool
	maxAttempts int
	logger      logpkg.Logger
}

// NewClient returns a Client for sp.
func NewClient(sp *spool.Spool, opts ClientOptions) *Client {
	c := &Client{
		spool:       sp,
		gen:         opts.Generator,
		poll:        opts.PollInterval,
		notify:      !opts.DisableNotify,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
	}
	if c.gen == nil {
		c.gen = id.NewGenerator()
	}
	if c.poll <= 0 {
		c.poll = defaultPollInterval
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.logger == nil {
		c.logger = logpkg.NewNopLogger()
	}
	c.logger = c.logger.With(logpkg.Component("workqueue.client"))
	return c
}

// EnqueueRequest stores payload under a fresh id in requested/ and returns
// the id. A json.RawMessage payload is stored verbatim; anything else is
// JSON-encoded.
func (c *Client) EnqueueRequest(ctx context.Context, payload any) (string, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		reqID := c.gen.Next()
		if c.known(reqID) {
			continue
		}
		err := c.spool.CreateExclusive(reqID, spool.Requested, data)
		if err == nil {
			c.logger.Debug("request enqueued", logpkg.RequestID(reqID), logpkg.Int("bytes", len(data)))
			return reqID, nil
		}
		if !errors.Is(err, spool.ErrExists) {
			return "", err
		}
		c.logger.Debug("request id collision", logpkg.RequestID(reqID), logpkg.Int("attempt", attempt))
	}
	return "", ErrIDExhausted
}

// known reports whether reqID already lives anywhere downstream of requested/.
func (c *Client) known(reqID string) bool {
	for _, st := range []spool.State{spool.Pending, spool.Running, spool.Complete} {
		if c.spool.IsInState(reqID, st) {
			return true
		}
	}
	return false
}

// AbortRequest asks the server to drop reqID wherever it currently is.
// It is idempotent and does not confirm the request existed. Malformed ids
// return ErrInvalidID.
func (c *Client) AbortRequest(reqID string) error {
	if err := checkID(reqID); err != nil {
		return err
	}
	if err := c.spool.Touch(reqID, spool.Aborting); err != nil {
		return err
	}
	c.logger.Debug("abort requested", logpkg.RequestID(reqID))
	return nil
}

// Wait blocks until complete/<reqID> appears, then consumes it and returns
// the result value. A failed task is returned as a *TaskError. If timeout
// elapses first the request is aborted and a *TimeoutError returned; if ctx
// ends first the request is aborted and ctx.Err() returned.
func (c *Client) Wait(ctx context.Context, reqID string, timeout time.Duration) (json.RawMessage, error) {
	if err := checkID(reqID); err != nil {
		return nil, err
	}
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if c.notify {
		if w, err := fsnotify.NewWatcher(); err == nil {
			if err := w.Add(c.spool.Dir(spool.Complete)); err == nil {
				defer w.Close()
				events, errs = w.Events, w.Errors
			} else {
				_ = w.Close()
			}
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		if v, ok, err := c.collect(reqID); ok || err != nil {
			return v, err
		}
		select {
		case <-ctx.Done():
			c.abortQuietly(reqID)
			return nil, ctx.Err()
		case <-deadline.C:
			if v, ok, err := c.collect(reqID); ok || err != nil {
				return v, err
			}
			c.abortQuietly(reqID)
			return nil, &TimeoutError{RequestID: reqID, Timeout: timeout}
		case <-ticker.C:
		case _, ok := <-events:
			// any change in complete/ triggers a re-check
			if !ok {
				events = nil
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		}
	}
}

func checkID(reqID string) error {
	if !id.Valid(reqID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, reqID)
	}
	return nil
}

// WaitInto is Wait followed by JSON decoding into out.
func (c *Client) WaitInto(ctx context.Context, reqID string, timeout time.Duration, out any) error {
	v, err := c.Wait(ctx, reqID, timeout)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(v, out); err != nil {
		return fmt.Errorf("workqueue: decode result of %s: %w", reqID, err)
	}
	return nil
}

// Call enqueues payload and waits for its result.
func (c *Client) Call(ctx context.Context, payload any, timeout time.Duration) (json.RawMessage, error) {
	reqID, err := c.EnqueueRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, reqID, timeout)
}

func (c *Client) collect(reqID string) (json.RawMessage, bool, error) {
	b, err := c.spool.Read(reqID, spool.Complete)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if _, err := c.spool.Remove(reqID, spool.Complete); err != nil {
		return nil, false, err
	}
	res, err := DecodeResult(b)
	if err != nil {
		return nil, true, err
	}
	if res.Failed() {
		return nil, true, res.Err(reqID)
	}
	return res.Value, true, nil
}

func (c *Client) abortQuietly(reqID string) {
	if err := c.AbortRequest(reqID); err != nil {
		c.logger.Warn("abort after wait failed", logpkg.RequestID(reqID), logpkg.Err(err))
	}
}

func encodePayload(payload any) ([]byte, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, errors.New("workqueue: payload is not valid JSON")
		}
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("workqueue: encode payload: %w", err)
	}
	return b, nil
}
