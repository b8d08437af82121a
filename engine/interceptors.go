package engine

import (
	"context"
	"sync/atomic"

	"github.com/IvanBrykalov/pixcache/request"
)

// Depth sources recorded by the built-in interceptors.
const (
	DepthFromPauseLoadWhenScrolling = "pause-load-when-scrolling"
	DepthFromSaveCellularTraffic    = "save-cellular-traffic"
)

// PauseLoadWhenScrolling limits opted-in requests to the memory cache while
// the list they belong to is scrolling.
type PauseLoadWhenScrolling struct {
	scrolling atomic.Bool
}

// SetScrolling reports the current scroll state.
func (p *PauseLoadWhenScrolling) SetScrolling(v bool) { p.scrolling.Store(v) }

func (p *PauseLoadWhenScrolling) Scrolling() bool { return p.scrolling.Load() }

func (p *PauseLoadWhenScrolling) Intercept(ctx context.Context, chain *Chain) (*Data, error) {
	req := chain.Request()
	if p.scrolling.Load() && req.PauseLoadWhenScrolling() && req.Depth().Allows(request.DepthLocal) {
		req = req.NewBuilder().Depth(request.DepthMemory, DepthFromPauseLoadWhenScrolling).Build()
	}
	return chain.Proceed(ctx, req)
}

// SaveCellularTraffic keeps opted-in requests off the network while the
// device is on a metered connection.
type SaveCellularTraffic struct {
	cellular atomic.Bool
}

// SetCellular reports whether the current connection is metered.
func (s *SaveCellularTraffic) SetCellular(v bool) { s.cellular.Store(v) }

func (s *SaveCellularTraffic) Cellular() bool { return s.cellular.Load() }

func (s *SaveCellularTraffic) Intercept(ctx context.Context, chain *Chain) (*Data, error) {
	req := chain.Request()
	if s.cellular.Load() && req.SaveCellularTraffic() && req.Depth().Allows(request.DepthNetwork) {
		req = req.NewBuilder().Depth(request.DepthLocal, DepthFromSaveCellularTraffic).Build()
	}
	return chain.Proceed(ctx, req)
}
