package config

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/engine"
	"github.com/IvanBrykalov/pixcache/fetch"
	"github.com/IvanBrykalov/pixcache/request"
)

const tomlDoc = `
workers = 4

[pool]
max_bytes = "32MiB"

[memory]
max_bytes = 67108864
shards = 2

[result_cache]
dir = "/var/cache/pixcache/result"
max_bytes = "1GiB"
compress = true

[http]
timeout = "5s"
user_agent = "pixcache-test"

[defaults]
depth = "LOCAL"
result_cache_policy = "READ_ONLY"
format = "RGBA"
disallow_reuse_buffer = true

[log]
level = "debug"
format = "json"
`

const yamlDoc = `
workers: 4
pool:
  max_bytes: 32MiB
memory:
  max_bytes: 64MiB
  shards: 2
result_cache:
  dir: /var/cache/pixcache/result
  max_bytes: 1GiB
  compress: true
http:
  timeout: 5s
  user_agent: pixcache-test
defaults:
  depth: LOCAL
  result_cache_policy: READ_ONLY
  format: RGBA
  disallow_reuse_buffer: true
log:
  level: debug
  format: json
`

func TestParse_TOMLAndYAMLAgree(t *testing.T) {
	t.Parallel()
	fromTOML, err := Parse([]byte(tomlDoc), "toml")
	if err != nil {
		t.Fatal(err)
	}
	fromYAML, err := Parse([]byte(yamlDoc), ".yaml")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(fromTOML, fromYAML); diff != "" {
		t.Fatalf("toml vs yaml (-toml +yaml):\n%s", diff)
	}
	if fromTOML.Memory.MaxBytes != 64<<20 || fromTOML.Result.MaxBytes != 1<<30 {
		t.Fatalf("sizes: %+v", fromTOML)
	}
	if fromTOML.Metrics.Namespace != "pixcache" {
		t.Fatalf("default namespace lost: %q", fromTOML.Metrics.Namespace)
	}

	opts, err := fromTOML.Defaults.options()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Depth != request.DepthLocal || opts.ResultCachePolicy != request.ReadOnly || *opts.Format != bitmap.FormatRGBA {
		t.Fatalf("defaults=%+v", opts)
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	for name, tc := range map[string]struct{ doc, format string }{
		"unknown toml key": {"bogus = 1", "toml"},
		"unknown yaml key": {"bogus: 1", "yaml"},
		"bad depth":        {"[defaults]\ndepth = \"SOMEWHERE\"", "toml"},
		"bad size":         {"[pool]\nmax_bytes = \"lots\"", "toml"},
		"bad level":        {"log:\n  level: loud", "yaml"},
		"bad format":       {"", "ini"},
	} {
		if _, err := Parse([]byte(tc.doc), tc.format); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestByteSize(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]ByteSize{
		"":       0,
		"512":    512,
		"10B":    10,
		"4KiB":   4 << 10,
		"64MiB":  64 << 20,
		"1.5GiB": 3 << 29,
		"2MB":    2e6,
		"8M":     8 << 20,
	} {
		got, err := ParseByteSize(in)
		if err != nil || got != want {
			t.Errorf("ParseByteSize(%q)=%d,%v want %d", in, got, err, want)
		}
	}
	if s := ByteSize(64 << 20).String(); s != "64MiB" {
		t.Fatalf("String=%s", s)
	}
	if _, err := ParseByteSize("-1"); err == nil {
		t.Fatal("negative size accepted")
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "pixcache.yml")
	if err := os.WriteFile(p, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 4 {
		t.Fatalf("workers=%d", cfg.Workers)
	}
	var buf bytes.Buffer
	cfg.Logger(&buf).Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("log output %q", buf.String())
	}
}

func TestBuild_EndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Default()
	cfg.Result = DiskConfig{Dir: filepath.Join(dir, "result"), Compress: true}
	cfg.Download = DiskConfig{Dir: filepath.Join(dir, "download")}

	reg := prometheus.NewRegistry()
	opt, closeAll, err := cfg.Build(ctx, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if opt.ResultCache == nil || opt.DownloadCache == nil || opt.Metrics == nil {
		t.Fatalf("options=%+v", opt)
	}

	img := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 1, A: 0xff})
	var b bytes.Buffer
	if err := png.Encode(&b, img); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "src.png")
	if err := os.WriteFile(src, b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	e := engine.New(opt)
	res, err := e.Execute(ctx, request.NewBuilder(fetch.NewFileURI(src)).ResizeSize(10, 10).Build())
	if err != nil || !res.OK() {
		t.Fatalf("execute: %v %+v", err, res)
	}
	if res.DataFrom != bitmap.FromLocal {
		t.Fatalf("from=%s", res.DataFrom)
	}
	res.Release()
	if opt.ResultCache.Size() == 0 {
		t.Fatal("result cache not written")
	}
	if err := e.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := closeAll(); err != nil {
		t.Fatal(err)
	}
	mfs, err := reg.Gather()
	if err != nil || len(mfs) == 0 {
		t.Fatalf("gather: %d families, %v", len(mfs), err)
	}
}
