package diskcache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

var (
	// ErrNotFound reports a miss.
	ErrNotFound = errors.New("diskcache: not found")
	// ErrCorrupt reports an entry whose header or checksum does not verify.
	// The entry is removed; callers treat it as a miss.
	ErrCorrupt = errors.New("diskcache: corrupt entry")
	// ErrWriteConflict is returned by Edit while another editor is active for
	// the same key. It is recoverable: skip the write.
	ErrWriteConflict = errors.New("diskcache: write conflict")
	// ErrTooLarge is returned by Commit when the entry alone exceeds the budget.
	ErrTooLarge = errors.New("diskcache: entry exceeds budget")
	// ErrEditorDone is returned by Write/Commit after Commit or Abort.
	ErrEditorDone = errors.New("diskcache: editor already committed or aborted")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("diskcache: closed")
)

// Cache is a byte-budgeted store of immutable blobs.
// Implementations are safe for concurrent use.
type Cache interface {
	// OpenSnapshot returns the committed content for key, or ErrNotFound /
	// ErrCorrupt.
	OpenSnapshot(ctx context.Context, key string) (*Snapshot, error)
	// Edit starts a write for key. At most one editor per key is active.
	Edit(ctx context.Context, key string) (*Editor, error)
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Size is the bytes currently stored.
	Size() int64
	// MaxSize is the budget (0 = unbounded).
	MaxSize() int64
	Close() error
}

// IsMiss reports whether err should be handled as a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt)
}

// Snapshot is an immutable view of one committed entry.
type Snapshot struct {
	Key  string
	Size int64
	body []byte
}

// NewSnapshot wraps body. Cache implementations use it to build snapshots.
func NewSnapshot(key string, body []byte) *Snapshot {
	return &Snapshot{Key: key, Size: int64(len(body)), body: body}
}

// Open returns a reader over the entry body.
func (s *Snapshot) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.body)), nil
}

// Bytes returns the entry body. The slice must not be modified.
func (s *Snapshot) Bytes() []byte { return s.body }

// Editor buffers one write. Nothing is visible to readers until Commit.
type Editor struct {
	Key string

	mu     sync.Mutex
	buf    bytes.Buffer
	done   bool
	commit func(body []byte) error
	abort  func()
}

// NewEditor builds an editor for cache implementations. commit receives the
// complete body; abort runs when the edit is dropped. Exactly one of them
// runs, once.
func NewEditor(key string, commit func(body []byte) error, abort func()) *Editor {
	return &Editor{Key: key, commit: commit, abort: abort}
}

func (e *Editor) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return 0, ErrEditorDone
	}
	return e.buf.Write(p)
}

// Commit publishes the written bytes atomically.
func (e *Editor) Commit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return ErrEditorDone
	}
	e.done = true
	return e.commit(e.buf.Bytes())
}

// Abort drops the edit. It is a no-op after Commit or Abort.
func (e *Editor) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	e.buf.Reset()
	if e.abort != nil {
		e.abort()
	}
}

// Put writes body under key in one step.
func Put(ctx context.Context, c Cache, key string, body []byte) error {
	ed, err := c.Edit(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ed.Write(body); err != nil {
		ed.Abort()
		return err
	}
	return ed.Commit()
}
