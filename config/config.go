// Package config loads engine settings from TOML or YAML and builds the
// engine options they describe.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/request"
)

// Config is the file representation of an engine.
type Config struct {
	Workers  int            `toml:"workers" yaml:"workers"`
	Pool     PoolConfig     `toml:"pool" yaml:"pool"`
	Memory   MemoryConfig   `toml:"memory" yaml:"memory"`
	Result   DiskConfig     `toml:"result_cache" yaml:"result_cache"`
	Download DiskConfig     `toml:"download_cache" yaml:"download_cache"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	HTTP     HTTPConfig     `toml:"http" yaml:"http"`
	Defaults DefaultsConfig `toml:"defaults" yaml:"defaults"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`
}

type PoolConfig struct {
	MaxBytes    ByteSize `toml:"max_bytes" yaml:"max_bytes"`
	MaxOversize int      `toml:"max_oversize" yaml:"max_oversize"`
}

type MemoryConfig struct {
	MaxBytes ByteSize `toml:"max_bytes" yaml:"max_bytes"`
	Shards   int      `toml:"shards" yaml:"shards"`
}

// DiskConfig describes a file-backed cache; an empty Dir disables it.
type DiskConfig struct {
	Dir      string   `toml:"dir" yaml:"dir"`
	MaxBytes ByteSize `toml:"max_bytes" yaml:"max_bytes"`
	Compress bool     `toml:"compress" yaml:"compress"`
}

// RedisConfig moves the result cache to Redis when Addr is set.
type RedisConfig struct {
	Addr     string   `toml:"addr" yaml:"addr"`
	Password string   `toml:"password" yaml:"password"`
	DB       int      `toml:"db" yaml:"db"`
	Prefix   string   `toml:"prefix" yaml:"prefix"`
	TTL      Duration `toml:"ttl" yaml:"ttl"`
	MaxBytes ByteSize `toml:"max_bytes" yaml:"max_bytes"`
	Compress bool     `toml:"compress" yaml:"compress"`
}

type HTTPConfig struct {
	Timeout     Duration `toml:"timeout" yaml:"timeout"`
	UserAgent   string   `toml:"user_agent" yaml:"user_agent"`
	MaxDownload ByteSize `toml:"max_download" yaml:"max_download"`
}

// DefaultsConfig holds request defaults. Enum values use their String
// forms ("NETWORK", "READ_ONLY", "RGBA", ...); empty means unset.
type DefaultsConfig struct {
	Depth                 string `toml:"depth" yaml:"depth"`
	MemoryCachePolicy     string `toml:"memory_cache_policy" yaml:"memory_cache_policy"`
	ResultCachePolicy     string `toml:"result_cache_policy" yaml:"result_cache_policy"`
	DownloadCachePolicy   string `toml:"download_cache_policy" yaml:"download_cache_policy"`
	Format                string `toml:"format" yaml:"format"`
	IgnoreExifOrientation *bool  `toml:"ignore_exif_orientation" yaml:"ignore_exif_orientation"`
	DisallowReuseBuffer   *bool  `toml:"disallow_reuse_buffer" yaml:"disallow_reuse_buffer"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" yaml:"level"`
	// Format is text or json.
	Format string `toml:"format" yaml:"format"`
}

type MetricsConfig struct {
	Namespace string `toml:"namespace" yaml:"namespace"`
}

// Default returns the configuration used for missing fields.
func Default() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Namespace: "pixcache"},
	}
}

// Load reads path, choosing the syntax from its extension (.toml, .yaml,
// .yml).
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over Default(). format is "toml", "yaml" or "yml",
// with or without a leading dot.
func Parse(data []byte, format string) (Config, error) {
	cfg := Default()
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, err
		}
		if un := md.Undecoded(); len(un) > 0 {
			return Config{}, fmt.Errorf("unknown keys: %v", un)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", format)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enum spellings and ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, errors.New("workers must be >= 0"))
	}
	if _, err := c.Defaults.options(); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Logger builds the slog logger described by c.Log, writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	lvl, _ := parseLevel(c.Log.Level)
	ho := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, ho))
	}
	return slog.New(slog.NewTextHandler(w, ho))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q", s)
	}
	return l, nil
}

func (d DefaultsConfig) options() (request.Options, error) {
	var o request.Options
	var err error
	if d.Depth != "" {
		if o.Depth, err = request.ParseDepth(d.Depth); err != nil {
			return o, err
		}
	}
	for _, p := range []struct {
		name string
		dst  *request.CachePolicy
	}{
		{d.MemoryCachePolicy, &o.MemoryCachePolicy},
		{d.ResultCachePolicy, &o.ResultCachePolicy},
		{d.DownloadCachePolicy, &o.DownloadCachePolicy},
	} {
		if p.name == "" {
			continue
		}
		if *p.dst, err = request.ParseCachePolicy(p.name); err != nil {
			return o, err
		}
	}
	if d.Format != "" {
		f, err := bitmap.ParseFormat(d.Format)
		if err != nil {
			return o, err
		}
		o.Format = &f
	}
	o.IgnoreExifOrientation = d.IgnoreExifOrientation
	o.DisallowReuseBuffer = d.DisallowReuseBuffer
	return o, nil
}
