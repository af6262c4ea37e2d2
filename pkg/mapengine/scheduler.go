package mapengine

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// zoomDebounce is how long a coarse zoom level must hold before the heavy
// rebuild fires. Wheel-zoom bursts collapse into one rebuild at the final
// level.
const zoomDebounce = 150 * time.Millisecond

// Scheduler coalesces render triggers onto the host's animation frame. Any
// number of RequestRender calls between two Frame calls produce exactly one
// OnRender. While paused it queues at most one pending render, delivered by
// the first Frame after resume. OnRender only ever runs inside Frame, so it
// stays on the goroutine pumping the animation loop.
type Scheduler struct {
	mu    sync.Mutex
	clock clockwork.Clock

	// OnRender runs on Frame when a render is pending. Set before use.
	OnRender func()
	// OnHeavyRebuild runs after the zoom debounce settles on a new coarse
	// zoom level. Optional.
	OnHeavyRebuild func(coarseZoom int)
	// OnViewportInvalidate runs immediately on every coarse zoom crossing,
	// before any debounce. Optional.
	OnViewportInvalidate func()

	pending bool
	paused  bool

	coarseZoom    int
	haveZoom      bool
	debounceTimer clockwork.Timer
	debouncedZoom int
}

// NewScheduler creates a scheduler on the given clock.
func NewScheduler(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock}
}

// RequestRender marks a render as needed. Idempotent between frames.
func (s *Scheduler) RequestRender() {
	s.mu.Lock()
	s.pending = true
	s.mu.Unlock()
}

// Frame is the host's per-animation-frame pump. It fires at most one render.
func (s *Scheduler) Frame() {
	s.mu.Lock()
	fire := s.pending && !s.paused && s.OnRender != nil
	if fire {
		s.pending = false
	}
	cb := s.OnRender
	s.mu.Unlock()
	if fire {
		cb()
	}
}

// SetRenderPaused suspends or resumes rendering. A render requested while
// paused stays pending; the first Frame after resume delivers it. Resume
// never invokes OnRender on the calling goroutine.
func (s *Scheduler) SetRenderPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// Paused reports the current pause state.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// NotifyZoom tracks continuous zoom updates. Crossing a coarse (integer)
// zoom level invalidates the viewport at once and arms the debounced heavy
// rebuild; further crossings inside the window replace the pending rebuild.
func (s *Scheduler) NotifyZoom(zoom float64) {
	coarse := int(math.Floor(zoom))

	s.mu.Lock()
	if s.haveZoom && coarse == s.coarseZoom {
		s.mu.Unlock()
		return
	}
	s.haveZoom = true
	s.coarseZoom = coarse
	s.debouncedZoom = coarse
	invalidate := s.OnViewportInvalidate
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = s.clock.AfterFunc(zoomDebounce, s.fireHeavyRebuild)
	s.mu.Unlock()

	if invalidate != nil {
		invalidate()
	}
}

func (s *Scheduler) fireHeavyRebuild() {
	s.mu.Lock()
	s.debounceTimer = nil
	zoom := s.debouncedZoom
	cb := s.OnHeavyRebuild
	s.pending = true
	s.mu.Unlock()

	if cb != nil {
		cb(zoom)
	}
}

// Stop cancels any armed debounce timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
}
