package workqueue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorDescriptor is the serialized form of a task failure.
type ErrorDescriptor struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Causes  []string `json:"causes,omitempty"`
}

// Result is the tagged union written to complete/<id>: exactly one of
// Value or Error is set.
type Result struct {
	Value json.RawMessage  `json:"ok,omitempty"`
	Error *ErrorDescriptor `json:"error,omitempty"`
}

// Kinder lets an error choose the kind recorded in its descriptor.
type Kinder interface {
	Kind() string
}

// OK wraps a successful value.
func OK(v any) (Result, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return Result{}, errors.New("workqueue: result is not valid JSON")
		}
		return Result{Value: raw}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("workqueue: encode result: %w", err)
	}
	return Result{Value: b}, nil
}

// Failure describes err, flattening its Unwrap chain into Causes.
func Failure(err error) Result {
	if err == nil {
		err = errors.New("unknown failure")
	}
	var te *TaskError
	if errors.As(err, &te) {
		return Result{Error: &ErrorDescriptor{Kind: te.Kind, Message: te.Message, Causes: te.Causes}}
	}
	d := &ErrorDescriptor{Kind: kindOf(err), Message: err.Error()}
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		d.Causes = append(d.Causes, cause.Error())
	}
	return Result{Error: d}
}

func kindOf(err error) string {
	var k Kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return fmt.Sprintf("%T", err)
}

// Failed reports whether r carries an error.
func (r Result) Failed() bool { return r.Error != nil }

// Err returns the failure as a *TaskError, or nil for a successful result.
func (r Result) Err(requestID string) error {
	if r.Error == nil {
		return nil
	}
	return &TaskError{
		RequestID: requestID,
		Kind:      r.Error.Kind,
		Message:   r.Error.Message,
		Causes:    r.Error.Causes,
	}
}

// Encode serializes r for the spool.
func (r Result) Encode() ([]byte, error) {
	if r.Error == nil && len(r.Value) == 0 {
		r.Value = json.RawMessage("null")
	}
	return json.Marshal(r)
}

// DecodeResult parses a complete/<id> file.
func DecodeResult(b []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(b, &r); err != nil {
		return Result{}, fmt.Errorf("workqueue: decode result: %w", err)
	}
	if r.Error == nil && len(r.Value) == 0 {
		r.Value = json.RawMessage("null")
	}
	return r, nil
}
