package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/request"
)

// FileFetcher serves file:// uris and absolute paths from a billy
// filesystem (osfs in production, memfs in tests).
type FileFetcher struct {
	FS billy.Filesystem
}

// NewFileURI returns the file:// uri for an absolute path.
func NewFileURI(p string) string { return "file://" + p }

// Create implements Factory.
func (f *FileFetcher) Create(req *request.Request) Fetcher {
	if _, ok := filePath(req.URI()); ok {
		return f
	}
	return nil
}

func filePath(uri string) (string, bool) {
	switch {
	case strings.HasPrefix(uri, "file://"):
		u, err := url.Parse(uri)
		if err != nil || u.Path == "" {
			return "", false
		}
		return u.Path, true
	case strings.HasPrefix(uri, "/"):
		return uri, true
	}
	return "", false
}

func (f *FileFetcher) Fetch(_ context.Context, req *request.Request) (*Result, error) {
	p, ok := filePath(req.URI())
	if !ok {
		return nil, &Error{URI: req.URI(), Op: "match", Err: ErrUnsupportedURI}
	}
	fi, err := f.FS.Stat(p)
	if err != nil {
		return nil, &Error{URI: req.URI(), Op: "stat", Err: err}
	}
	if fi.IsDir() {
		return nil, &Error{URI: req.URI(), Op: "stat", Err: fmt.Errorf("%s is a directory", p)}
	}
	src := FileSource{FS: f.FS, Path: p}
	var hd []byte
	if rc, err := src.Open(); err == nil {
		buf := make([]byte, 512)
		n, _ := rc.Read(buf)
		hd = buf[:n]
		_ = rc.Close()
	}
	return &Result{
		Source:   src,
		MimeType: DetectMimeType(p, "", hd),
		DataFrom: bitmap.FromLocal,
	}, nil
}

// DataURIFetcher serves data: uris.
type DataURIFetcher struct{}

// Create implements Factory.
func (f DataURIFetcher) Create(req *request.Request) Fetcher {
	if strings.HasPrefix(req.URI(), "data:") {
		return f
	}
	return nil
}

func (DataURIFetcher) Fetch(_ context.Context, req *request.Request) (*Result, error) {
	mimeType, body, err := parseDataURI(req.URI())
	if err != nil {
		return nil, &Error{URI: shortURI(req.URI()), Op: "parse", Err: err}
	}
	return &Result{
		Source:   BytesSource(body),
		MimeType: DetectMimeType("", mimeType, head(body)),
		DataFrom: bitmap.FromMemory,
	}, nil
}

func parseDataURI(uri string) (string, []byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return "", nil, errors.New("missing ','")
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, err
		}
		return mimeType, []byte(s), nil
	}
	body, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		body, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return "", nil, fmt.Errorf("base64: %w", err)
	}
	return mimeType, body, nil
}

func shortURI(uri string) string {
	if len(uri) > 48 {
		return uri[:48] + "..."
	}
	return uri
}

// MemoryScheme prefixes uris served by MemoryFetcher.
const MemoryScheme = "memory://"

// MemoryFetcher serves bytes registered in process under memory://<name>.
// It counts every fetch it serves.
type MemoryFetcher struct {
	mu      sync.RWMutex
	items   map[string]memItem
	fetches atomic.Int64
}

type memItem struct {
	data     []byte
	mimeType string
}

// NewMemory returns an empty MemoryFetcher.
func NewMemory() *MemoryFetcher { return &MemoryFetcher{items: make(map[string]memItem)} }

// Put registers data and returns its uri.
func (f *MemoryFetcher) Put(name string, data []byte, mimeType string) string {
	f.mu.Lock()
	f.items[name] = memItem{data: data, mimeType: mimeType}
	f.mu.Unlock()
	return MemoryScheme + name
}

// Fetches reports how many fetches ran.
func (f *MemoryFetcher) Fetches() int64 { return f.fetches.Load() }

// Create implements Factory.
func (f *MemoryFetcher) Create(req *request.Request) Fetcher {
	if strings.HasPrefix(req.URI(), MemoryScheme) {
		return f
	}
	return nil
}

func (f *MemoryFetcher) Fetch(_ context.Context, req *request.Request) (*Result, error) {
	f.fetches.Add(1)
	name := strings.TrimPrefix(req.URI(), MemoryScheme)
	f.mu.RLock()
	it, ok := f.items[name]
	f.mu.RUnlock()
	if !ok {
		return nil, &Error{URI: req.URI(), Op: "get", Err: os.ErrNotExist}
	}
	return &Result{
		Source:   BytesSource(it.data),
		MimeType: DetectMimeType(req.URI(), it.mimeType, head(it.data)),
		DataFrom: bitmap.FromMemory,
	}, nil
}
