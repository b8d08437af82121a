package diskcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"
	"github.com/opencontainers/go-digest"

	"github.com/IvanBrykalov/pixcache/cache"
)

// DefaultMaxBytes is the budget used when Options.MaxBytes is unset.
const DefaultMaxBytes = 256 << 20

const tmpPrefix = ".tmp-"

// Options configures a Disk cache. Zero values are safe:
//   - Dir == ""      => filesystem root
//   - MaxBytes <= 0  => DefaultMaxBytes
//   - nil Metrics    => cache.NoopMetrics
//   - nil Logger     => discard
type Options struct {
	Dir      string
	MaxBytes int64
	// Compress stores entry bodies zstd-compressed. Entries written either
	// way remain readable.
	Compress bool
	Metrics  cache.Metrics
	Logger   *slog.Logger
}

type fileEntry struct {
	name string
	size int64
}

// Disk is a content-addressed Cache on a billy filesystem. Each key is
// stored at Dir/<first two hex>/<sha256 hex of key>; writes go to a temp
// file renamed into place on Commit, so readers only ever see complete
// committed entries.
type Disk struct {
	fs       billy.Filesystem
	dir      string
	max      int64
	compress bool
	log      *slog.Logger

	// index tracks resident files in access order and enforces the budget.
	index cache.Cache[string, fileEntry]

	mu      sync.Mutex
	editing map[string]struct{}
	closed  atomic.Bool
}

var _ Cache = (*Disk)(nil)

// New opens (or creates) a disk cache under opt.Dir and rebuilds its index
// from the files present.
func New(fs billy.Filesystem, opt Options) (*Disk, error) {
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = DefaultMaxBytes
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}
	d := &Disk{
		fs:       fs,
		dir:      opt.Dir,
		max:      opt.MaxBytes,
		compress: opt.Compress,
		log:      opt.Logger.With("component", "diskcache", "dir", opt.Dir),
		editing:  make(map[string]struct{}),
	}
	d.index = cache.New(cache.Options[string, fileEntry]{
		MaxCost: opt.MaxBytes,
		Shards:  1,
		Cost:    func(e fileEntry) int64 { return e.size },
		OnEvict: d.onEvict,
		Metrics: opt.Metrics,
	})
	if err := d.rebuild(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Disk) onEvict(_ string, e fileEntry, reason cache.EvictReason) {
	// A replaced entry was overwritten in place by rename.
	if reason == cache.EvictReplace {
		return
	}
	if err := d.fs.Remove(e.name); err != nil && !os.IsNotExist(err) {
		d.log.Warn("remove entry", "file", e.name, "err", err)
		return
	}
	d.log.Debug("evict", "file", e.name, "bytes", e.size, "reason", reason.String())
}

// rebuild indexes existing entries, oldest first, and deletes stale temp
// files from interrupted writes.
func (d *Disk) rebuild() error {
	if err := d.fs.MkdirAll(d.root(), 0o755); err != nil {
		return fmt.Errorf("diskcache: create dir: %w", err)
	}
	subdirs, err := d.fs.ReadDir(d.root())
	if err != nil {
		return fmt.Errorf("diskcache: read dir: %w", err)
	}
	var found []os.FileInfo
	var names []string
	for _, sd := range subdirs {
		if !sd.IsDir() || len(sd.Name()) != 2 {
			continue
		}
		sub := path.Join(d.root(), sd.Name())
		files, err := d.fs.ReadDir(sub)
		if err != nil {
			return fmt.Errorf("diskcache: read dir: %w", err)
		}
		for _, fi := range files {
			name := path.Join(sub, fi.Name())
			if strings.HasPrefix(fi.Name(), tmpPrefix) {
				_ = d.fs.Remove(name)
				continue
			}
			if fi.IsDir() {
				continue
			}
			found = append(found, fi)
			names = append(names, name)
		}
	}
	order := make([]int, len(found))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return found[a].ModTime().Compare(found[b].ModTime())
	})
	for _, i := range order {
		id := path.Base(names[i])
		if !d.index.Set(id, fileEntry{name: names[i], size: found[i].Size()}) {
			_ = d.fs.Remove(names[i])
		}
	}
	d.log.Debug("index rebuilt", "entries", d.index.Len(), "bytes", d.index.Cost())
	return nil
}

func (d *Disk) root() string {
	if d.dir == "" {
		return "/"
	}
	return d.dir
}

// id is the hex sha256 of key.
func id(key string) string { return digest.FromString(key).Encoded() }

func (d *Disk) fileName(id string) string { return path.Join(d.root(), id[:2], id) }

func (d *Disk) OpenSnapshot(_ context.Context, key string) (*Snapshot, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	fid := id(key)
	e, ok := d.index.Get(fid)
	if !ok {
		return nil, ErrNotFound
	}
	raw, err := d.readFile(e.name)
	if err != nil {
		if os.IsNotExist(err) {
			d.index.Remove(fid)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("diskcache: read %s: %w", key, err)
	}
	body, err := DecodeEntry(raw)
	if err != nil {
		d.log.Warn("corrupt entry removed", "key", key, "err", err)
		d.index.Remove(fid)
		return nil, err
	}
	return NewSnapshot(key, body), nil
}

func (d *Disk) readFile(name string) ([]byte, error) {
	f, err := d.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func (d *Disk) Edit(_ context.Context, key string) (*Editor, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	fid := id(key)
	d.mu.Lock()
	if _, busy := d.editing[fid]; busy {
		d.mu.Unlock()
		return nil, ErrWriteConflict
	}
	d.editing[fid] = struct{}{}
	d.mu.Unlock()

	done := func() {
		d.mu.Lock()
		delete(d.editing, fid)
		d.mu.Unlock()
	}
	return NewEditor(key, func(body []byte) error {
		defer done()
		return d.commit(key, fid, body)
	}, done), nil
}

func (d *Disk) commit(key, fid string, body []byte) error {
	if d.closed.Load() {
		return ErrClosed
	}
	raw, err := EncodeEntry(body, d.compress)
	if err != nil {
		return err
	}
	if int64(len(raw)) > d.max {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(raw))
	}
	final := d.fileName(fid)
	dir := path.Dir(final)
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("diskcache: create dir: %w", err)
	}
	tmp, err := d.fs.TempFile(dir, tmpPrefix)
	if err != nil {
		return fmt.Errorf("diskcache: temp file: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(raw)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = d.fs.Remove(tmpName)
		return fmt.Errorf("diskcache: write %s: %w", key, err)
	}
	if err := d.fs.Rename(tmpName, final); err != nil {
		_ = d.fs.Remove(tmpName)
		return fmt.Errorf("diskcache: rename %s: %w", key, err)
	}
	d.index.Set(fid, fileEntry{name: final, size: int64(len(raw))})
	d.log.Debug("commit", "key", key, "bytes", len(raw))
	return nil
}

func (d *Disk) Remove(_ context.Context, key string) error {
	if d.closed.Load() {
		return ErrClosed
	}
	fid := id(key)
	if d.index.Remove(fid) {
		return nil
	}
	if err := d.fs.Remove(d.fileName(fid)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("diskcache: remove %s: %w", key, err)
	}
	return nil
}

// Clear deletes every committed entry. Active editors are unaffected.
func (d *Disk) Clear(context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.index.Clear()
	return nil
}

func (d *Disk) Size() int64    { return d.index.Cost() }
func (d *Disk) MaxSize() int64 { return d.max }

// Len is the number of committed entries.
func (d *Disk) Len() int { return d.index.Len() }

// Trim removes least recently used entries until Size() <= bytes.
func (d *Disk) Trim(bytes int64) { d.index.Trim(bytes) }

// Close stops the cache. Files stay on disk for the next New.
func (d *Disk) Close() error {
	d.closed.Store(true)
	return nil
}
