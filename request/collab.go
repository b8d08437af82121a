package request

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/IvanBrykalov/pixcache/bitmap"
)

// Transformation post-processes a decoded image. Key must be stable: it is
// part of the request fingerprint.
type Transformation interface {
	Key() string
	// Transform returns the new image, or nil to leave the input untouched.
	Transform(ctx context.Context, img image.Image) (image.Image, error)
}

// SizeResolver supplies the resize size when the request does not carry one,
// e.g. from the laid-out size of a view.
type SizeResolver interface {
	Size(ctx context.Context) (width, height int, err error)
}

// FixedSize is a SizeResolver returning a constant size.
type FixedSize Size

func (s FixedSize) Size(context.Context) (int, int, error) { return s.Width, s.Height, nil }

// Target receives the lifecycle of one load. Calls are serialized on the
// engine dispatcher goroutine.
type Target interface {
	OnStart(placeholder image.Image)
	// OnSuccess receives a reference owned by the engine result; call Retain
	// to keep the image past the callback.
	OnSuccess(img *bitmap.Image)
	OnError(errorImage image.Image)
}

// Listener observes request progress. Calls are serialized like Target.
type Listener interface {
	OnStart(req *Request)
	OnSuccess(req *Request, img *bitmap.Image)
	OnError(req *Request, err error)
	OnCancel(req *Request)
}

// StateImage produces the placeholder or error image for a request.
// err is nil for placeholders.
type StateImage interface {
	Image(req *Request, err error) image.Image
}

// ColorStateImage renders a uniform colour.
type ColorStateImage struct {
	Color colorful.Color
}

// ColorHex parses "#rrggbb" into a ColorStateImage.
func ColorHex(hex string) (ColorStateImage, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return ColorStateImage{}, fmt.Errorf("request: state color: %w", err)
	}
	return ColorStateImage{Color: c}, nil
}

func (s ColorStateImage) Image(*Request, error) image.Image {
	r, g, b := s.Color.RGB255()
	return image.NewUniform(color.NRGBA{R: r, G: g, B: b, A: 0xff})
}

// ImageStateImage returns a fixed image.
type ImageStateImage struct {
	Img image.Image
}

func (s ImageStateImage) Image(*Request, error) image.Image { return s.Img }

// ErrorStateImage picks DepthLimit for depth-limit failures when set, Default
// otherwise.
type ErrorStateImage struct {
	Default    StateImage
	DepthLimit StateImage
}

func (s ErrorStateImage) Image(req *Request, err error) image.Image {
	if s.DepthLimit != nil && isDepth(err) {
		return s.DepthLimit.Image(req, err)
	}
	if s.Default == nil {
		return nil
	}
	return s.Default.Image(req, err)
}

// Lifecycle gates when a queued request may start and ends it when done.
type Lifecycle interface {
	// AwaitStarted blocks until the lifecycle is started, it is destroyed or
	// ctx is done.
	AwaitStarted(ctx context.Context) error
	// Done is closed when the owner is destroyed.
	Done() <-chan struct{}
}

// GlobalLifecycle is always started and never done.
var GlobalLifecycle Lifecycle = globalLifecycle{}

type globalLifecycle struct{}

func (globalLifecycle) AwaitStarted(context.Context) error { return nil }
func (globalLifecycle) Done() <-chan struct{}              { return nil }

// ErrLifecycleDestroyed is returned by AwaitStarted after Destroy.
var ErrLifecycleDestroyed = fmt.Errorf("request: lifecycle destroyed: %w", context.Canceled)

// ManualLifecycle is driven explicitly. The zero value is not usable; call
// NewManualLifecycle.
type ManualLifecycle struct {
	mu        sync.Mutex
	started   bool
	startedCh chan struct{}
	done      chan struct{}
	destroyed bool
}

// NewManualLifecycle returns a stopped lifecycle.
func NewManualLifecycle() *ManualLifecycle {
	return &ManualLifecycle{startedCh: make(chan struct{}), done: make(chan struct{})}
}

// Start releases every waiter.
func (l *ManualLifecycle) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.destroyed {
		return
	}
	l.started = true
	close(l.startedCh)
}

// Stop makes later AwaitStarted calls block again until Start.
func (l *ManualLifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started || l.destroyed {
		return
	}
	l.started = false
	l.startedCh = make(chan struct{})
}

// Destroy ends the lifecycle; Done closes and waiters fail.
func (l *ManualLifecycle) Destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return
	}
	l.destroyed = true
	close(l.done)
}

// Started reports the current state.
func (l *ManualLifecycle) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started && !l.destroyed
}

func (l *ManualLifecycle) AwaitStarted(ctx context.Context) error {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return ErrLifecycleDestroyed
	}
	ch := l.startedCh
	l.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-l.done:
		return ErrLifecycleDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *ManualLifecycle) Done() <-chan struct{} { return l.done }
