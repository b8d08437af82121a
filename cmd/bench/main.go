// Command bench runs a synthetic image workload against the engine and
// exposes optional pprof/Prometheus endpoints.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/config"
	"github.com/IvanBrykalov/pixcache/engine"
	"github.com/IvanBrykalov/pixcache/fetch"
	"github.com/IvanBrykalov/pixcache/request"
	"github.com/IvanBrykalov/pixcache/transform"
)

func main() {
	// ---- Flags ----
	var (
		cfgPath  = flag.String("config", "", "engine config file (.toml, .yaml); flags below override it")
		memBytes = flag.String("mem", "64MiB", "memory cache budget")
		poolSize = flag.String("pool", "32MiB", "buffer pool budget")
		shards   = flag.Int("shards", 1, "memory cache shards")
		decoders = flag.Int("decoders", runtime.GOMAXPROCS(0), "decode worker slots")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of request goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")

		images = flag.Int("images", 200, "number of distinct source images")
		side   = flag.Int("side", 256, "source image width and height")
		zipfS  = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV  = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed   = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		xform  = flag.Int("transform", 10, "percentage of requests that add a transformation [0..100]")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Config: file first, explicit flags on top ----
	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			log.Fatal(err)
		}
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if *cfgPath == "" || set["mem"] {
		cfg.Memory.MaxBytes = mustSize(*memBytes)
	}
	if *cfgPath == "" || set["pool"] {
		cfg.Pool.MaxBytes = mustSize(*poolSize)
	}
	if *cfgPath == "" || set["shards"] {
		cfg.Memory.Shards = *shards
	}
	if *cfgPath == "" || set["decoders"] {
		cfg.Workers = *decoders
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build engine ----
	ctx := context.Background()
	opt, closeAll, err := cfg.Build(ctx, prometheus.DefaultRegisterer, cfg.Logger(os.Stderr))
	if err != nil {
		log.Fatal(err)
	}
	mem := fetch.NewMemory()
	opt.Fetchers = opt.Fetchers.With(mem)
	e := engine.New(opt)

	uris := make([]string, max(*images, 1))
	for i := range uris {
		uris[i] = mem.Put("img-"+strconv.Itoa(i)+".png", synth(*side, i), "image/png")
	}
	sizes := []int{32, 64, 96, 128}

	workersN := max(*workers, 1)
	seedBase := *seed
	keysMax := uint64(len(uris) - 1)
	xformPct := *xform

	// ---- Load generation ----
	var total, ok, failed, hits, pixels atomic.Uint64
	runCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			r := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			z := rand.NewZipf(r, *zipfS, *zipfV, keysMax)

			for runCtx.Err() == nil {
				s := sizes[r.Intn(len(sizes))]
				b := request.NewBuilder(uris[z.Uint64()]).
					Resize(request.Resize{Width: s, Height: s, Precision: request.Exactly})
				if int(r.Int31n(100)) < xformPct {
					b.Transformations(transform.Rotate{Degrees: 90})
				}
				res, err := e.Execute(runCtx, b.Build())
				if err != nil {
					return // canceled at the deadline
				}
				total.Add(1)
				if !res.OK() {
					failed.Add(1)
					res.Release()
					continue
				}
				ok.Add(1)
				if res.DataFrom == bitmap.FromMemoryCache {
					hits.Add(1)
				}
				pixels.Add(uint64(res.Image.Width * res.Image.Height))
				res.Release()
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	st := e.Pool().Stats()
	memSize, memMax := e.MemoryCache().Size(), e.MemoryCache().MaxSize()
	if err := e.Shutdown(ctx); err != nil {
		log.Println(err)
	}
	if err := closeAll(); err != nil {
		log.Println(err)
	}

	// ---- Report ----
	n := total.Load()
	hitRate := 0.0
	if n > 0 {
		hitRate = float64(hits.Load()) / float64(n) * 100
	}
	bold := color.New(color.Bold)
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)

	bold.Printf("images=%d side=%d workers=%d decoders=%d dur=%v seed=%d\n",
		*images, *side, workersN, cfg.Workers, elapsed.Round(time.Millisecond), seedBase)
	fmt.Printf("requests=%d (%.0f req/s)  ", n, float64(n)/elapsed.Seconds())
	good.Printf("ok=%d  ", ok.Load())
	if failed.Load() > 0 {
		bad.Printf("failed=%d\n", failed.Load())
	} else {
		fmt.Println("failed=0")
	}
	fmt.Printf("memory-cache hit-rate=%.2f%%  Mpx/s=%.2f\n", hitRate, float64(pixels.Load())/1e6/elapsed.Seconds())
	fmt.Printf("memory-cache bytes=%s/%s  pool hits=%d misses=%d free=%s discards=%d\n",
		config.ByteSize(memSize), config.ByteSize(memMax),
		st.Hits, st.Misses, config.ByteSize(st.Size), st.Discards)
}

func mustSize(s string) config.ByteSize {
	b, err := config.ParseByteSize(s)
	if err != nil {
		log.Fatal(err)
	}
	return b
}

// synth draws a deterministic gradient so every image decodes differently.
func synth(side, i int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			o := img.PixOffset(x, y)
			img.Pix[o+0] = uint8(x + i)
			img.Pix[o+1] = uint8(y * (i + 1))
			img.Pix[o+2] = uint8(x ^ y ^ i)
			img.Pix[o+3] = 0xff
		}
	}
	var b bytes.Buffer
	if err := png.Encode(&b, img); err != nil {
		log.Fatal(err)
	}
	return b.Bytes()
}
