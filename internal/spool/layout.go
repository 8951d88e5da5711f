package spool

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// State is a request state, one per spool subdirectory.
type State int

const (
	Requested State = iota
	Pending
	Running
	Complete
	Aborting
)

// States lists every state in lifecycle order.
var States = []State{Requested, Pending, Running, Complete, Aborting}

var dirNames = [...]string{
	Requested: "1-requested",
	Pending:   "2-pending",
	Running:   "3-running",
	Complete:  "4-complete",
	Aborting:  "5-aborting",
}

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Requested:
		return "requested"
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Complete:
		return "complete"
	case Aborting:
		return "aborting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState maps a state name back to a State.
func ParseState(name string) (State, error) {
	for _, s := range States {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("spool: unknown state %q", name)
}

// ErrExists is returned by CreateExclusive when the target already exists.
var ErrExists = errors.New("spool: request already exists")

// ErrInvalidName is returned when a request name would resolve outside its
// state directory.
var ErrInvalidName = errors.New("spool: invalid request name")

const tempPrefix = ".tmp-"

// Spool is a handle on a spool root. It holds no state beyond the path and
// is safe for concurrent use.
type Spool struct {
	root string
}

// New returns a Spool rooted at root. No I/O is performed.
func New(root string) *Spool { return &Spool{root: root} }

// Root returns the spool root path.
func (s *Spool) Root() string { return s.root }

// Dir returns the directory for a state.
func (s *Spool) Dir(state State) string {
	return filepath.Join(s.root, dirNames[state])
}

// PathFor returns the path a request occupies in a state. Names that are
// empty, dot-only, or contain a path separator are rejected with
// ErrInvalidName.
func (s *Spool) PathFor(id string, state State) (string, error) {
	if !validName(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, id)
	}
	return filepath.Join(s.root, dirNames[state], id), nil
}

func validName(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.ContainsRune(id, filepath.Separator)
}

// IsInState reports whether the request currently has a file in state.
func (s *Spool) IsInState(id string, state State) bool {
	p, err := s.PathFor(id, state)
	if err != nil {
		return false
	}
	_, err = os.Lstat(p)
	return err == nil
}

// Reset deletes everything under the root and recreates the state directories.
func (s *Spool) Reset() error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("spool: wipe %s: %w", s.root, err)
	}
	return s.Ensure()
}

// Ensure creates any missing state directories without touching contents.
func (s *Spool) Ensure() error {
	for _, st := range States {
		if err := os.MkdirAll(s.Dir(st), 0o755); err != nil {
			return fmt.Errorf("spool: create %s: %w", s.Dir(st), err)
		}
	}
	return nil
}

// List returns the ids present in state, sorted lexically (creation order).
func (s *Spool) List(state State) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(state))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

// Counts returns the number of entries per state.
func (s *Spool) Counts() (map[State]int, error) {
	out := make(map[State]int, len(States))
	for _, st := range States {
		ids, err := s.List(st)
		if err != nil {
			return nil, err
		}
		out[st] = len(ids)
	}
	return out, nil
}

// CreateExclusive creates id in state with data, failing with ErrExists if
// the name is taken. The file becomes visible only with its full contents.
func (s *Spool) CreateExclusive(id string, state State, data []byte) error {
	dst, err := s.PathFor(id, state)
	if err != nil {
		return err
	}
	tmp, err := s.writeTemp(data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	if err := os.Link(tmp, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("spool: create %s/%s: %w", state, id, err)
	}
	return nil
}

// WriteAtomic writes data to id in state, replacing any existing file.
func (s *Spool) WriteAtomic(id string, state State, data []byte) error {
	dst, err := s.PathFor(id, state)
	if err != nil {
		return err
	}
	tmp, err := s.writeTemp(data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("spool: write %s/%s: %w", state, id, err)
	}
	return nil
}

// Touch creates an empty file for id in state if none exists.
func (s *Spool) Touch(id string, state State) error {
	p, err := s.PathFor(id, state)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("spool: touch %s/%s: %w", state, id, err)
	}
	return f.Close()
}

// Read returns the contents of id in state.
func (s *Spool) Read(id string, state State) ([]byte, error) {
	p, err := s.PathFor(id, state)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Move renames id from one state to another.
func (s *Spool) Move(id string, from, to State) error {
	src, err := s.PathFor(id, from)
	if err != nil {
		return err
	}
	dst, err := s.PathFor(id, to)
	if err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("spool: move %s %s->%s: %w", id, from, to, err)
	}
	return nil
}

// Remove deletes id from state. It reports false, without error, if the
// file was already gone.
func (s *Spool) Remove(id string, state State) (bool, error) {
	p, err := s.PathFor(id, state)
	if err != nil {
		return false, err
	}
	err = os.Remove(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("spool: remove %s/%s: %w", state, id, err)
}

func (s *Spool) writeTemp(data []byte) (string, error) {
	tmp := filepath.Join(s.root, tempPrefix+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("spool: temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("spool: temp write: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("spool: temp close: %w", err)
	}
	return tmp, nil
}
