package mapengine

import (
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/situroom/situmap/pkg/escalation"
	"github.com/situroom/situmap/pkg/geo"
)

func newTestComposer(t *testing.T) (*Composer, *clockwork.FakeClock, *Metrics) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	metrics := NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(clock, logger, metrics)
	t.Cleanup(c.Stop)
	return c, clock, metrics
}

func layerByID(layers []*Layer, id string) *Layer {
	for _, l := range layers {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func TestQuakeEncoding(t *testing.T) {
	c, _, _ := newTestComposer(t)
	c.SetData(DomainQuake, []EventRecord{
		{ID: "q1", Lat: 10, Lon: 20, Magnitude: 5.5, DepthKm: 12, Name: "Offshore Sumatra"},
	})

	layers := c.BuildLayers()
	require.Len(t, layers, 1, "one populated domain, no ghost for quakes")

	l := layers[0]
	assert.Equal(t, "quake", l.ID)
	require.Len(t, l.Markers, 1)

	m := l.Markers[0]
	assert.Equal(t, "q1", m.ID)
	assert.Equal(t, 0, m.Index)
	assert.InDelta(t, math.Pow(2, 5.5)*0.35, m.Radius, 1e-9)
	assert.Equal(t, geo.HexToRGBA("#ff4500"), m.Color, "shallow quakes draw in the shallow band color")
}

func TestEmptyDomainsProduceNoLayers(t *testing.T) {
	c, _, _ := newTestComposer(t)
	assert.Empty(t, c.BuildLayers())

	c.SetData(DomainFire, nil)
	assert.Empty(t, c.BuildLayers())
}

func TestLayerOrderAndGhostPlacement(t *testing.T) {
	c, _, _ := newTestComposer(t)
	c.SetData(DomainQuake, []EventRecord{{ID: "q1", Magnitude: 4}})
	c.SetData(DomainProtest, []EventRecord{{ID: "p1", Name: "march"}})
	c.SetHotspots([]Hotspot{{ID: "h1", Name: "Hormuz", Lat: 26, Lon: 56}})

	var ids []string
	for _, l := range c.BuildLayers() {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"quake", "protest", "protest-ghost", "hotspot", "hotspot-ghost"}, ids)
}

func TestGhostMarkersAreOversizedTwins(t *testing.T) {
	c, _, _ := newTestComposer(t)
	c.SetData(DomainProtest, []EventRecord{{ID: "p1", Severity: 1}})

	layers := c.BuildLayers()
	ghost := layerByID(layers, "protest"+GhostSuffix)
	require.NotNil(t, ghost)
	assert.True(t, ghost.Ghost)
	require.Len(t, ghost.Markers, 1)
	assert.Equal(t, "p1", ghost.Markers[0].ID)
	assert.GreaterOrEqual(t, ghost.Markers[0].Radius, 14.0)
}

func TestPipelineGhostWidensPolylines(t *testing.T) {
	c, _, _ := newTestComposer(t)
	c.SetData(DomainPipeline, []EventRecord{
		{ID: "pl1", Kind: "gas", Path: [][2]float64{{10, 20}, {11, 21}, {12, 22}}},
	})

	ghost := layerByID(c.BuildLayers(), "pipeline"+GhostSuffix)
	require.NotNil(t, ghost, "thin polylines get a widened pick layer")
	assert.True(t, ghost.Ghost)
	require.Len(t, ghost.Paths, 1)
	assert.Equal(t, "pl1", ghost.Paths[0].ID)
	assert.Equal(t, 10.0, ghost.Paths[0].Width)
}

func TestUnchangedLayersReuseByReference(t *testing.T) {
	c, _, _ := newTestComposer(t)
	c.SetData(DomainQuake, []EventRecord{{ID: "q1", Magnitude: 5}})
	c.SetData(DomainProtest, []EventRecord{{ID: "p1"}})

	first := c.BuildLayers()
	quake1 := layerByID(first, "quake")
	protest1 := layerByID(first, "protest")
	require.NotNil(t, quake1)
	require.NotNil(t, protest1)

	// Replacing one domain's data must not rebuild the others.
	c.SetData(DomainProtest, []EventRecord{{ID: "p2"}})
	second := c.BuildLayers()
	assert.Same(t, quake1, layerByID(second, "quake"))
	assert.NotSame(t, protest1, layerByID(second, "protest"))
}

func TestZoomGateHidesLowZoomDomains(t *testing.T) {
	c, _, _ := newTestComposer(t)
	c.SetData(DomainVessel, []EventRecord{{ID: "v1", Lat: 0, Lon: 0.001, Kind: "tanker"}})

	// Default zoom 2 is below the vessel gate.
	assert.Nil(t, layerByID(c.BuildLayers(), "vessel"))

	c.SetZoomLevel(3.5)
	assert.NotNil(t, layerByID(c.BuildLayers(), "vessel"))
}

func TestVesselClusteringAcrossZoom(t *testing.T) {
	c, _, _ := newTestComposer(t)
	c.SetData(DomainVessel, []EventRecord{
		{ID: "v1", Lat: 0, Lon: 0.001, Kind: "tanker", Name: "Alpha"},
		{ID: "v2", Lat: 0, Lon: 0.002, Kind: "cargo", Name: "Beta"},
	})

	c.SetZoomLevel(3)
	l := layerByID(c.BuildLayers(), "vessel")
	require.NotNil(t, l)
	require.Len(t, l.Markers, 1, "two near vessels merge at low zoom")
	m := l.Markers[0]
	assert.Equal(t, 2, m.ClusterCount)
	assert.True(t, strings.HasPrefix(m.ID, "c"), "synthetic cluster id")
	assert.InDelta(t, 8+3*math.Log2(2), m.Radius, 1e-9)

	c.SetZoomLevel(14)
	l = layerByID(c.BuildLayers(), "vessel")
	require.NotNil(t, l)
	require.Len(t, l.Markers, 2, "max zoom always shows singletons")
	ids := []string{l.Markers[0].ID, l.Markers[1].ID}
	assert.ElementsMatch(t, []string{"v1", "v2"}, ids, "singletons keep their record ids")
}

func TestClusterQueryCachedUntilViewportMoves(t *testing.T) {
	c, _, metrics := newTestComposer(t)
	c.SetData(DomainVessel, []EventRecord{{ID: "v1", Lat: 0, Lon: 0.001}})
	c.SetZoomLevel(4)

	c.BuildLayers()
	c.BuildLayers()
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ClusterQueries), "repeat builds hit the cluster cache")

	c.SetCenter(0.01, 0.01)
	c.BuildLayers()
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ClusterQueries), "panning re-queries the index")
}

func TestTimeRangeFiltersTimestampedRecords(t *testing.T) {
	c, clock, _ := newTestComposer(t)
	now := clock.Now()
	c.SetData(DomainQuake, []EventRecord{
		{ID: "old", Magnitude: 4, Time: now.Add(-2 * time.Hour)},
		{ID: "recent", Magnitude: 4, Time: now.Add(-10 * time.Minute)},
		{ID: "undated", Magnitude: 4},
	})

	c.SetTimeRange(TimeRange{Start: now.Add(-time.Hour)})
	l := layerByID(c.BuildLayers(), "quake")
	require.NotNil(t, l)
	require.Len(t, l.Markers, 2)
	assert.ElementsMatch(t, []string{"recent", "undated"},
		[]string{l.Markers[0].ID, l.Markers[1].ID},
		"undated records always pass the time filter")
}

func TestHighlightOverridesColor(t *testing.T) {
	c, _, _ := newTestComposer(t)
	c.SetData(DomainQuake, []EventRecord{{ID: "q1", Magnitude: 4, DepthKm: 10}})

	c.Highlight(DomainQuake, []string{"q1"})
	l := layerByID(c.BuildLayers(), "quake")
	assert.Equal(t, geo.HexToRGBA("#ffd700"), l.Markers[0].Color)

	c.ClearHighlight(DomainQuake)
	l = layerByID(c.BuildLayers(), "quake")
	assert.Equal(t, geo.HexToRGBA("#ff4500"), l.Markers[0].Color)
}

func TestFlashHighlightExpires(t *testing.T) {
	c, clock, _ := newTestComposer(t)
	c.SetData(DomainOutage, []EventRecord{{ID: "o1", Kind: "grid"}})

	c.FlashHighlight(DomainOutage, []string{"o1"})
	l := layerByID(c.BuildLayers(), "outage")
	require.Equal(t, geo.HexToRGBA("#ffd700"), l.Markers[0].Color)

	clock.Advance(flashDuration)
	require.Eventually(t, func() bool {
		l := layerByID(c.BuildLayers(), "outage")
		return l.Markers[0].Color == geo.HexToRGBA("#9370db")
	}, time.Second, time.Millisecond, "flash clears itself after the flash duration")
}

func TestMutationBurstRendersOnceWithFinalState(t *testing.T) {
	c, _, _ := newTestComposer(t)

	var renders int
	var last []*Layer
	c.SetRenderFunc(func(layers []*Layer) {
		renders++
		last = layers
	})

	c.SetData(DomainQuake, []EventRecord{{ID: "q1", Magnitude: 5}})
	for i := 0; i < 10; i++ {
		c.SetLayerEnabled(DomainQuake, false)
		c.SetLayerEnabled(DomainQuake, true)
	}
	c.SetZoomLevel(2.4)

	c.Frame()
	assert.Equal(t, 1, renders, "a burst of mutations coalesces into one render")
	assert.NotNil(t, layerByID(last, "quake"), "the render sees the final toggle state")

	c.Frame()
	assert.Equal(t, 1, renders)
}

func TestDisabledLayerSkipped(t *testing.T) {
	c, _, _ := newTestComposer(t)
	c.SetData(DomainFire, []EventRecord{{ID: "f1", Brightness: 340}})

	c.SetLayerEnabled(DomainFire, false)
	assert.Nil(t, layerByID(c.BuildLayers(), "fire"))
	assert.False(t, c.LayerEnabled(DomainFire))

	c.SetLayerEnabled(DomainFire, true)
	assert.NotNil(t, layerByID(c.BuildLayers(), "fire"))
}

func TestEscalationDrivesHotspotEncoding(t *testing.T) {
	c, clock, _ := newTestComposer(t)
	c.SetHotspots([]Hotspot{
		{ID: "hormuz", Name: "Hormuz", Lat: 26, Lon: 56, Keywords: []string{"tanker"}},
		{ID: "calm", Name: "Calm Corner", Lat: 0, Lon: 0, Keywords: []string{"xyzzy"}},
	})

	items := make([]escalation.NewsItem, 20)
	for i := range items {
		items[i] = escalation.NewsItem{
			ID:       string(rune('a' + i)),
			Headline: "tanker incident",
			Breaking: true,
			Time:     clock.Now(),
		}
	}
	c.RefreshEscalation(items)

	l := layerByID(c.BuildLayers(), "hotspot")
	require.NotNil(t, l)
	require.Len(t, l.Markers, 2)

	byID := map[string]Marker{}
	for _, m := range l.Markers {
		byID[m.ID] = m
	}
	hot := byID["hormuz"]
	calm := byID["calm"]
	assert.Equal(t, geo.HexToRGBA("#ff3232"), hot.Color, "high escalation draws red")
	assert.True(t, hot.Pulse)
	assert.Equal(t, geo.HexToRGBA("#808080"), calm.Color)
	assert.False(t, calm.Pulse)
	assert.Greater(t, hot.Radius, calm.Radius)

	hs := c.Hotspots()
	require.Len(t, hs, 2)
	assert.Equal(t, escalation.LevelHigh, hs[0].Level)
	assert.True(t, hs[0].HasBreaking)
}

func TestPulseTickRebuildsOnlyPulsingLayers(t *testing.T) {
	c, clock, _ := newTestComposer(t)
	c.SetData(DomainQuake, []EventRecord{{ID: "q1", Magnitude: 5}})
	c.SetHotspots([]Hotspot{{ID: "hot", Name: "Hot", Keywords: []string{"clash"}}})
	c.RefreshEscalation([]escalation.NewsItem{
		{ID: "n1", Headline: "major clash reported", Breaking: true, Time: clock.Now()},
		{ID: "n2", Headline: "clash escalates", Breaking: true, Time: clock.Now()},
		{ID: "n3", Headline: "third clash in a day", Breaking: true, Time: clock.Now()},
	})

	first := c.BuildLayers()
	quake1 := layerByID(first, "quake")
	hotspot1 := layerByID(first, "hotspot")
	require.NotNil(t, hotspot1)
	require.True(t, hotspot1.Markers[0].Pulse, "breaking hotspot pulses")

	clock.Advance(pulseTick)
	require.Eventually(t, func() bool {
		layers := c.BuildLayers()
		return layerByID(layers, "hotspot") != hotspot1 &&
			layerByID(layers, "quake") == quake1
	}, time.Second, time.Millisecond, "a pulse tick rebuilds pulsing layers and reuses the rest")
}

func TestStateChangeCallback(t *testing.T) {
	c, _, _ := newTestComposer(t)
	var got []ViewState
	c.OnStateChange = func(vs ViewState) { got = append(got, vs) }

	c.SetZoomLevel(5.5)
	c.SetCenter(48.8, 2.3)
	c.SetActiveView("maritime")

	require.Len(t, got, 3)
	assert.Equal(t, 5.5, got[0].Zoom)
	assert.InDelta(t, 48.8, got[1].CenterLat, 1e-9)
	assert.Equal(t, "maritime", got[2].ActiveView)
}

func TestLayerAndTimeRangeCallbacks(t *testing.T) {
	c, clock, _ := newTestComposer(t)

	var layerEvents []string
	c.OnLayerChange = func(d Domain, enabled bool) {
		state := "on"
		if !enabled {
			state = "off"
		}
		layerEvents = append(layerEvents, string(d)+":"+state)
	}
	var ranges []TimeRange
	c.OnTimeRangeChange = func(tr TimeRange) { ranges = append(ranges, tr) }

	c.SetLayerEnabled(DomainFire, false)
	c.SetLayerEnabled(DomainFire, true)
	tr := TimeRange{Start: clock.Now().Add(-time.Hour)}
	c.SetTimeRange(tr)

	assert.Equal(t, []string{"fire:off", "fire:on"}, layerEvents)
	require.Len(t, ranges, 1)
	assert.Equal(t, tr, ranges[0])
}

func TestUnknownDomainDataDropped(t *testing.T) {
	c, _, _ := newTestComposer(t)
	c.SetData(Domain("submarine"), []EventRecord{{ID: "s1"}})
	assert.Empty(t, c.BuildLayers())
}
