package mapengine

import (
	"encoding/binary"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/situroom/situmap/pkg/cluster"
	"github.com/situroom/situmap/pkg/escalation"
	"github.com/situroom/situmap/pkg/geo"
)

const (
	// frameBudget is the soft ceiling for one full BuildLayers pass.
	frameBudget = 16 * time.Millisecond

	// flashDuration is how long FlashHighlight keeps its ids lit.
	flashDuration = 3 * time.Second

	// pulseAmplitude scales a pulsing marker's radius by up to this factor.
	pulseAmplitude = 0.3

	minZoomLevel = 0
	maxZoomLevel = 19
)

type cacheEntry struct {
	sig   uint64
	layer *Layer // nil when the domain had no visible records at build time
	ghost *Layer
}

// Composer owns all map state and turns it into ordered render layers. Every
// mutation schedules a render instead of rendering inline; the host pumps
// Frame once per animation tick and draws what the render func receives.
//
// All methods are safe for concurrent use. Callback fields must be assigned
// before the composer is shared across goroutines.
type Composer struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *Metrics
	sched   *Scheduler
	pulse   *pulser

	view        ViewState
	viewportGen uint64
	timeGen     uint64

	collections map[Domain][]EventRecord
	dataGen     map[Domain]uint64

	hotspots   []Hotspot
	hotspotGen uint64
	matcher    *escalation.Matcher
	scorer     *escalation.Scorer

	highlights   map[Domain]map[string]bool
	highlightGen uint64
	flashTimers  map[Domain]clockwork.Timer

	indexes      map[Domain]*cluster.Index
	clusterCache map[Domain]map[int][]cluster.Cluster

	cache      map[Domain]cacheEntry
	pulsePhase float64
	pulseGen   uint64

	locator *geo.CountryLocator

	// OnStateChange fires after every view state mutation.
	OnStateChange func(ViewState)
	// OnLayerChange fires when a layer is enabled or disabled.
	OnLayerChange func(Domain, bool)
	// OnTimeRangeChange fires when the time filter moves.
	OnTimeRangeChange func(TimeRange)
	// OnHotspotClick fires when a pick resolves to a hotspot.
	OnHotspotClick func(Hotspot)
	// OnCountryClick fires when a click lands on open map covered by a
	// country polygon rather than any marker.
	OnCountryClick func(code, name string)
}

// New creates a composer. Nil arguments select a real clock, the default
// slog logger and a privately registered metrics set.
func New(clock clockwork.Clock, logger *slog.Logger, metrics *Metrics) *Composer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetricsForTesting()
	}

	c := &Composer{
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		view: ViewState{
			Zoom:      2,
			ViewportW: 1024,
			ViewportH: 768,
		},
		collections:  make(map[Domain][]EventRecord),
		dataGen:      make(map[Domain]uint64),
		scorer:       escalation.NewScorer(escalation.DefaultConfig()),
		highlights:   make(map[Domain]map[string]bool),
		flashTimers:  make(map[Domain]clockwork.Timer),
		indexes:      make(map[Domain]*cluster.Index),
		clusterCache: make(map[Domain]map[int][]cluster.Cluster),
		cache:        make(map[Domain]cacheEntry),
	}
	c.sched = NewScheduler(clock)
	c.sched.OnViewportInvalidate = c.invalidateClusterCache
	c.sched.OnHeavyRebuild = func(zoom int) {
		c.logger.Debug("zoom settled", "coarse_zoom", zoom)
	}
	c.pulse = newPulser(clock, c.anyPulsing, c.onPulseTick)
	return c
}

// SetRenderFunc installs the host's draw callback. Each coalesced render
// builds the layer list once and hands it over.
func (c *Composer) SetRenderFunc(fn func([]*Layer)) {
	c.sched.OnRender = func() {
		c.metrics.RendersCoalesced.Inc()
		fn(c.BuildLayers())
	}
}

// Frame is the host's per-animation-frame pump.
func (c *Composer) Frame() { c.sched.Frame() }

// Scheduler exposes the render scheduler, mainly for hosts that manage
// pause state or tests that drive it directly.
func (c *Composer) Scheduler() *Scheduler { return c.sched }

// Stop cancels all timers. The composer is unusable afterwards.
func (c *Composer) Stop() {
	c.pulse.stop()
	c.sched.Stop()
	c.mu.Lock()
	for d, t := range c.flashTimers {
		t.Stop()
		delete(c.flashTimers, d)
	}
	c.mu.Unlock()
}

// SetCountryLocator installs the polygon lookup used for open-map clicks.
func (c *Composer) SetCountryLocator(l *geo.CountryLocator) {
	c.mu.Lock()
	c.locator = l
	c.mu.Unlock()
}

// SetData replaces one domain's record collection wholesale. Clustered
// domains reload their spatial index.
func (c *Composer) SetData(d Domain, records []EventRecord) {
	spec, ok := specFor(d)
	if !ok {
		c.logger.Warn("dropping data for unknown domain", "domain", string(d))
		return
	}

	c.mu.Lock()
	c.collections[d] = records
	c.dataGen[d]++
	if spec.clustered {
		idx := c.indexes[d]
		if idx == nil {
			idx = cluster.New(cluster.Options{})
			c.indexes[d] = idx
		}
		points := make([]cluster.Point, len(records))
		for i, r := range records {
			points[i] = cluster.Point{
				ID:       r.ID,
				Lat:      r.Lat,
				Lon:      r.Lon,
				Severity: r.Severity,
				Category: r.Kind,
			}
		}
		idx.Load(points)
		delete(c.clusterCache, d)
	}
	c.mu.Unlock()

	c.sched.RequestRender()
	c.pulse.poke()
}

// SetHotspots replaces the watch-region set and rebuilds the keyword
// matcher. Existing escalation scores survive for ids that persist.
func (c *Composer) SetHotspots(hotspots []Hotspot) {
	sets := make([]escalation.KeywordSet, len(hotspots))
	for i, h := range hotspots {
		sets[i] = escalation.KeywordSet{HotspotID: h.ID, Keywords: h.Keywords}
	}

	c.mu.Lock()
	c.hotspots = hotspots
	c.matcher = escalation.NewMatcher(sets, time.Hour)
	c.refreshHotspotFieldsLocked()
	c.mu.Unlock()

	c.sched.RequestRender()
	c.pulse.poke()
}

// RefreshEscalation runs one correlation cycle over the given news items and
// updates every hotspot's score, including decay for hotspots the items
// never mention.
func (c *Composer) RefreshEscalation(items []escalation.NewsItem) {
	c.mu.Lock()
	if c.matcher != nil {
		c.matcher.RunCycle(c.scorer, items, c.clock.Now())
		c.refreshHotspotFieldsLocked()
	}
	c.mu.Unlock()

	c.sched.RequestRender()
	c.pulse.poke()
}

func (c *Composer) refreshHotspotFieldsLocked() {
	for i := range c.hotspots {
		h := &c.hotspots[i]
		h.EscalationScore = c.scorer.Score(h.ID)
		h.HasBreaking = c.scorer.HasBreaking(h.ID)
		h.Level = c.scorer.Level(h.ID)
	}
	c.hotspotGen++
}

// Hotspots returns a snapshot of the watch regions with current scores.
func (c *Composer) Hotspots() []Hotspot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Hotspot, len(c.hotspots))
	copy(out, c.hotspots)
	return out
}

// SetZoomLevel updates the continuous zoom. Coarse crossings arm the
// debounced heavy rebuild via the scheduler.
func (c *Composer) SetZoomLevel(zoom float64) {
	zoom = math.Min(math.Max(zoom, minZoomLevel), maxZoomLevel)

	c.mu.Lock()
	c.view.Zoom = zoom
	c.viewportGen++
	c.clusterCache = make(map[Domain]map[int][]cluster.Cluster)
	c.mu.Unlock()

	c.sched.NotifyZoom(zoom)
	c.sched.RequestRender()
	c.notifyState()
}

// SetCenter pans the viewport.
func (c *Composer) SetCenter(lat, lon float64) {
	c.mu.Lock()
	c.view.CenterLat = math.Min(math.Max(lat, -geo.World().MaxLat), geo.World().MaxLat)
	c.view.CenterLon = math.Mod(lon+540, 360) - 180
	c.viewportGen++
	c.clusterCache = make(map[Domain]map[int][]cluster.Cluster)
	c.mu.Unlock()

	c.sched.RequestRender()
	c.notifyState()
}

// SetViewport records the host surface size in pixels.
func (c *Composer) SetViewport(w, h int) {
	c.mu.Lock()
	c.view.ViewportW = w
	c.view.ViewportH = h
	c.viewportGen++
	c.clusterCache = make(map[Domain]map[int][]cluster.Cluster)
	c.mu.Unlock()

	c.sched.RequestRender()
	c.notifyState()
}

// SetActiveView names the dashboard view in effect.
func (c *Composer) SetActiveView(name string) {
	c.mu.Lock()
	c.view.ActiveView = name
	c.mu.Unlock()

	c.sched.RequestRender()
	c.notifyState()
}

// SetLayerEnabled toggles a domain on or off. All domains start enabled.
func (c *Composer) SetLayerEnabled(d Domain, enabled bool) {
	c.mu.Lock()
	if c.view.DisabledLayers == nil {
		c.view.DisabledLayers = make(map[Domain]bool)
	}
	if enabled {
		delete(c.view.DisabledLayers, d)
	} else {
		c.view.DisabledLayers[d] = true
	}
	cb := c.OnLayerChange
	c.mu.Unlock()

	if cb != nil {
		cb(d, enabled)
	}
	c.sched.RequestRender()
	c.pulse.poke()
	c.notifyState()
}

// LayerEnabled reports whether a domain is currently shown.
func (c *Composer) LayerEnabled(d Domain) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.view.DisabledLayers[d]
}

// SetTimeRange moves the time filter applied to timestamped event domains.
func (c *Composer) SetTimeRange(tr TimeRange) {
	c.mu.Lock()
	c.view.TimeRange = tr
	c.timeGen++
	cb := c.OnTimeRangeChange
	c.mu.Unlock()

	if cb != nil {
		cb(tr)
	}
	c.sched.RequestRender()
	c.notifyState()
}

// SetRenderPaused suspends rendering; at most one render queues while
// paused and the first frame after resume delivers it.
func (c *Composer) SetRenderPaused(paused bool) {
	c.mu.Lock()
	c.view.RenderPaused = paused
	c.mu.Unlock()

	c.sched.SetRenderPaused(paused)
	c.notifyState()
}

// Highlight lights the given ids in a domain with the shared highlight
// color until cleared.
func (c *Composer) Highlight(d Domain, ids []string) {
	c.mu.Lock()
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	c.highlights[d] = set
	c.highlightGen++
	c.mu.Unlock()

	c.sched.RequestRender()
}

// ClearHighlight removes a domain's highlight set.
func (c *Composer) ClearHighlight(d Domain) {
	c.mu.Lock()
	delete(c.highlights, d)
	c.highlightGen++
	if t := c.flashTimers[d]; t != nil {
		t.Stop()
		delete(c.flashTimers, d)
	}
	c.mu.Unlock()

	c.sched.RequestRender()
}

// FlashHighlight highlights the ids and clears them automatically after the
// flash duration. A second flash on the same domain restarts the clock.
func (c *Composer) FlashHighlight(d Domain, ids []string) {
	c.Highlight(d, ids)

	c.mu.Lock()
	if t := c.flashTimers[d]; t != nil {
		t.Stop()
	}
	c.flashTimers[d] = c.clock.AfterFunc(flashDuration, func() {
		c.ClearHighlight(d)
	})
	c.mu.Unlock()
}

// View returns a snapshot of the current view state.
func (c *Composer) View() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Composer) viewLocked() ViewState {
	vs := c.view
	if len(c.view.DisabledLayers) > 0 {
		vs.DisabledLayers = make(map[Domain]bool, len(c.view.DisabledLayers))
		for d, v := range c.view.DisabledLayers {
			vs.DisabledLayers[d] = v
		}
	} else {
		vs.DisabledLayers = nil
	}
	return vs
}

func (c *Composer) notifyState() {
	c.mu.Lock()
	cb := c.OnStateChange
	var vs ViewState
	if cb != nil {
		vs = c.viewLocked()
	}
	c.mu.Unlock()

	if cb != nil {
		cb(vs)
	}
}

func (c *Composer) invalidateClusterCache() {
	c.mu.Lock()
	c.clusterCache = make(map[Domain]map[int][]cluster.Cluster)
	c.mu.Unlock()
}

func (c *Composer) onPulseTick(phase float64) {
	c.mu.Lock()
	c.pulsePhase = phase
	c.pulseGen++
	c.mu.Unlock()
	c.sched.RequestRender()
}

// anyPulsing reports whether any visible entity currently qualifies for the
// attention pulse: a high or breaking hotspot, or a breaking protest.
func (c *Composer) anyPulsing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.view.DisabledLayers[DomainHotspot] {
		for i := range c.hotspots {
			if c.hotspots[i].Level == escalation.LevelHigh || c.hotspots[i].HasBreaking {
				return true
			}
		}
	}
	if !c.view.DisabledLayers[DomainProtest] {
		for _, r := range c.collections[DomainProtest] {
			if r.Breaking {
				return true
			}
		}
	}
	return false
}

// BuildLayers assembles the full ordered layer list for the current state.
// Unchanged domains are returned by reference from the layer cache, so
// hosts can compare pointers across renders.
func (c *Composer) BuildLayers() []*Layer {
	start := c.clock.Now()

	c.mu.Lock()
	var out []*Layer
	visible := 0
	for _, spec := range domainOrder {
		if c.view.DisabledLayers[spec.domain] || c.view.Zoom < spec.minZoom {
			continue
		}
		sig := c.signatureLocked(spec)
		ent, ok := c.cache[spec.domain]
		if ok && ent.sig == sig {
			c.metrics.LayerCacheHits.Inc()
		} else {
			c.metrics.LayerCacheMisses.Inc()
			ent = cacheEntry{sig: sig}
			ent.layer = c.buildDomainLocked(spec)
			if ent.layer != nil {
				c.metrics.LayerBuilds.Inc()
				if spec.ghostRadius > 0 {
					ent.ghost = ghostOf(ent.layer, spec.ghostRadius)
				}
			}
			c.cache[spec.domain] = ent
		}
		if ent.layer == nil {
			continue
		}
		out = append(out, ent.layer)
		if ent.ghost != nil {
			out = append(out, ent.ghost)
		}
		visible += len(ent.layer.Markers)
	}
	c.mu.Unlock()

	elapsed := c.clock.Since(start)
	c.metrics.BuildDuration.Observe(elapsed.Seconds())
	c.metrics.VisibleMarkers.Set(float64(visible))
	if elapsed > frameBudget {
		c.metrics.BuildOverruns.Inc()
		c.logger.Warn("layer build over frame budget",
			"elapsed", elapsed, "budget", frameBudget, "layers", len(out))
	}
	return out
}

// signatureLocked fingerprints everything a domain's layer depends on.
func (c *Composer) signatureLocked(spec domainSpec) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 8)
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf, v)
		h.Write(buf)
	}
	h.Write([]byte(spec.domain))
	put(c.highlightGen)
	if spec.domain == DomainHotspot {
		put(c.hotspotGen)
	} else {
		put(c.dataGen[spec.domain])
		put(c.timeGen)
	}
	if spec.clustered {
		put(c.viewportGen)
		put(uint64(int64(math.Floor(c.view.Zoom))))
	}
	if spec.domain == DomainHotspot || spec.domain == DomainProtest {
		put(c.pulseGen)
	}
	return h.Sum64()
}

func (c *Composer) buildDomainLocked(spec domainSpec) *Layer {
	switch {
	case spec.domain == DomainHotspot:
		return c.buildHotspotsLocked(spec)
	case spec.kind == KindPath:
		return c.buildPathsLocked(spec)
	case spec.clustered:
		return c.buildClusteredLocked(spec)
	default:
		return c.buildScatterLocked(spec)
	}
}

func (c *Composer) pulseFactorLocked() float64 {
	return 1 + pulseAmplitude*c.pulsePhase
}

func (c *Composer) buildScatterLocked(spec domainSpec) *Layer {
	recs := c.collections[spec.domain]
	if len(recs) == 0 {
		return nil
	}
	hl := c.highlights[spec.domain]
	factor := c.pulseFactorLocked()

	markers := make([]Marker, 0, len(recs))
	for i, rec := range recs {
		if !c.view.TimeRange.Contains(rec.Time) {
			continue
		}
		m := encodeMarker(spec.domain, i, rec, hl[rec.ID])
		if m.Pulse {
			m.Radius *= factor
		}
		markers = append(markers, m)
	}
	if len(markers) == 0 {
		return nil
	}
	return &Layer{ID: string(spec.domain), Domain: spec.domain, Kind: KindScatter, Markers: markers}
}

func (c *Composer) buildClusteredLocked(spec domainSpec) *Layer {
	recs := c.collections[spec.domain]
	if len(recs) == 0 {
		return nil
	}
	hl := c.highlights[spec.domain]
	// Telemetry layers fade in around their zoom gate.
	alpha := geo.ZoomAlpha(c.view.Zoom, spec.minZoom-0.5, spec.minZoom+0.5)

	markers := make([]Marker, 0, len(recs))
	for _, cl := range c.clustersLocked(spec.domain) {
		var m Marker
		if cl.Count > 1 {
			m = encodeClusterMarker(spec.domain, cl)
		} else {
			idx := cl.Members[0]
			if idx < 0 || idx >= len(recs) {
				continue
			}
			m = encodeMarker(spec.domain, idx, recs[idx], hl[recs[idx].ID])
		}
		if alpha < 1 {
			m.Color = geo.WithAlpha(m.Color, alpha)
		}
		markers = append(markers, m)
	}
	if len(markers) == 0 {
		return nil
	}
	return &Layer{ID: string(spec.domain), Domain: spec.domain, Kind: KindScatter, Markers: markers}
}

func (c *Composer) buildPathsLocked(spec domainSpec) *Layer {
	recs := c.collections[spec.domain]
	if len(recs) == 0 {
		return nil
	}
	hl := c.highlights[spec.domain]

	paths := make([]Path, 0, len(recs))
	for i, rec := range recs {
		if len(rec.Path) < 2 {
			continue
		}
		paths = append(paths, encodePath(i, rec, hl[rec.ID]))
	}
	if len(paths) == 0 {
		return nil
	}
	return &Layer{ID: string(spec.domain), Domain: spec.domain, Kind: KindPath, Paths: paths}
}

func (c *Composer) buildHotspotsLocked(spec domainSpec) *Layer {
	if len(c.hotspots) == 0 {
		return nil
	}
	hl := c.highlights[DomainHotspot]
	factor := c.pulseFactorLocked()

	markers := make([]Marker, 0, len(c.hotspots))
	for i, h := range c.hotspots {
		m := encodeHotspotMarker(i, h, hl[h.ID])
		if m.Pulse {
			m.Radius *= factor
		}
		markers = append(markers, m)
	}
	return &Layer{ID: string(spec.domain), Domain: spec.domain, Kind: KindScatter, Markers: markers}
}

// clustersLocked answers the viewport cluster query for a domain, cached per
// coarse zoom until the viewport or the data moves.
func (c *Composer) clustersLocked(d Domain) []cluster.Cluster {
	z := int(math.Floor(c.view.Zoom))
	byZoom := c.clusterCache[d]
	if byZoom == nil {
		byZoom = make(map[int][]cluster.Cluster)
		c.clusterCache[d] = byZoom
	}
	if cs, ok := byZoom[z]; ok {
		return cs
	}
	idx := c.indexes[d]
	if idx == nil {
		return nil
	}
	cs := idx.Query(c.viewportBBoxLocked(), z)
	c.metrics.ClusterQueries.Inc()
	byZoom[z] = cs
	return cs
}

// viewportBBoxLocked converts center, zoom and surface size into the
// geographic box currently on screen.
func (c *Composer) viewportBBoxLocked() geo.BBox {
	cx, cy := geo.Project(c.view.CenterLat, c.view.CenterLon, c.view.Zoom)
	halfW := float64(c.view.ViewportW) / 2
	halfH := float64(c.view.ViewportH) / 2
	top, left := geo.Unproject(cx-halfW, cy-halfH, c.view.Zoom)
	bottom, right := geo.Unproject(cx+halfW, cy+halfH, c.view.Zoom)
	return geo.BBox{MinLat: bottom, MinLon: left, MaxLat: top, MaxLon: right}.Clamp()
}
