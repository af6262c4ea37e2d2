package mapengine

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	pulseTick   = 250 * time.Millisecond
	pulsePeriod = 1500 * time.Millisecond
)

// pulser drives the shared attention-pulse animation. It ticks only while
// its predicate reports something worth pulsing and stops itself on the
// first tick where nothing qualifies, so an idle map schedules no work.
type pulser struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	predicate func() bool
	onTick    func(phase float64)
	timer     clockwork.Timer
	running   bool
	stopped   bool
}

func newPulser(clock clockwork.Clock, predicate func() bool, onTick func(float64)) *pulser {
	return &pulser{clock: clock, predicate: predicate, onTick: onTick}
}

// poke starts the ticker if anything currently qualifies. Callers poke after
// every data or score change; redundant pokes while running are no-ops.
func (p *pulser) poke() {
	p.mu.Lock()
	if p.stopped || p.running || !p.predicate() {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.timer = p.clock.AfterFunc(pulseTick, p.tick)
	p.mu.Unlock()
}

func (p *pulser) tick() {
	p.mu.Lock()
	if p.stopped || !p.predicate() {
		p.running = false
		p.timer = nil
		p.mu.Unlock()
		return
	}
	p.timer = p.clock.AfterFunc(pulseTick, p.tick)
	cb := p.onTick
	phase := p.phaseLocked()
	p.mu.Unlock()

	cb(phase)
}

// phase reports the current oscillation position in [-1, 1], derived from
// the wall clock so every pulsing marker beats in sync regardless of when
// it appeared.
func (p *pulser) phase() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phaseLocked()
}

func (p *pulser) phaseLocked() float64 {
	t := p.clock.Now().UnixNano() % int64(pulsePeriod)
	return math.Sin(2 * math.Pi * float64(t) / float64(pulsePeriod))
}

func (p *pulser) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// stop shuts the pulser down for good.
func (p *pulser) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
