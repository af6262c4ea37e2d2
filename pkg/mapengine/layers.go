package mapengine

import (
	"fmt"
	"image/color"
	"math"

	"github.com/situroom/situmap/pkg/cluster"
	"github.com/situroom/situmap/pkg/escalation"
	"github.com/situroom/situmap/pkg/geo"
)

// LayerKind selects the draw primitive for a layer.
type LayerKind int

const (
	KindScatter LayerKind = iota
	KindPath
)

// GhostSuffix marks the invisible oversized pick layer paired with a visual
// layer. Ghost layers are never drawn; the host hit-tests them first.
const GhostSuffix = "-ghost"

// Marker is one drawable point. Index addresses the record inside its
// domain's collection, or -1 for synthetic cluster markers.
type Marker struct {
	ID           string
	Lat, Lon     float64
	Radius       float64
	Color        color.RGBA
	Label        string
	Pulse        bool
	ClusterCount int
	Index        int
}

// Path is one drawable polyline, [lat, lon] pairs.
type Path struct {
	ID     string
	Coords [][2]float64
	Color  color.RGBA
	Width  float64
	Index  int
}

// Layer is one ordered render unit. Slices are never mutated after build, so
// hosts may hold a returned layer across frames and compare by pointer to
// skip redrawing unchanged ones.
type Layer struct {
	ID      string
	Domain  Domain
	Kind    LayerKind
	Ghost   bool
	Markers []Marker
	Paths   []Path
}

type domainSpec struct {
	domain      Domain
	kind        LayerKind
	minZoom     float64
	clustered   bool
	ghostRadius float64 // 0 means no ghost layer
	popup       PopupType
}

// domainOrder fixes the bottom-to-top draw order. Area-style context first,
// point events above, hotspots always on top.
var domainOrder = []domainSpec{
	{domain: DomainPipeline, kind: KindPath, minZoom: 2, ghostRadius: 10, popup: PopupPipeline},
	{domain: DomainOutage, kind: KindScatter, popup: PopupOutage},
	{domain: DomainWeather, kind: KindScatter, popup: PopupWeather},
	{domain: DomainFire, kind: KindScatter, popup: PopupFire},
	{domain: DomainQuake, kind: KindScatter, popup: PopupQuake},
	{domain: DomainProtest, kind: KindScatter, ghostRadius: 14, popup: PopupProtest},
	{domain: DomainVessel, kind: KindScatter, minZoom: 3, clustered: true, ghostRadius: 12, popup: PopupVessel},
	{domain: DomainFlight, kind: KindScatter, minZoom: 4, clustered: true, ghostRadius: 12, popup: PopupFlight},
	{domain: DomainHotspot, kind: KindScatter, ghostRadius: 18, popup: PopupHotspot},
}

// Domains lists every known domain in draw order.
func Domains() []Domain {
	out := make([]Domain, len(domainOrder))
	for i, s := range domainOrder {
		out[i] = s.domain
	}
	return out
}

func specFor(d Domain) (domainSpec, bool) {
	for _, s := range domainOrder {
		if s.domain == d {
			return s, true
		}
	}
	return domainSpec{}, false
}

// Visual encoding palette. Hex values carried over from the dashboard theme.
var (
	colorHighlight = geo.HexToRGBA("#ffd700")

	quakeDepthColors = []struct {
		maxKm float64
		color color.RGBA
	}{
		{70, geo.HexToRGBA("#ff4500")},  // shallow, most destructive
		{300, geo.HexToRGBA("#ff8c00")}, // intermediate
		{math.Inf(1), geo.HexToRGBA("#c71585")},
	}

	outageCauseColors = map[string]color.RGBA{
		"grid":     geo.HexToRGBA("#9370db"),
		"telecom":  geo.HexToRGBA("#4169e1"),
		"internet": geo.HexToRGBA("#1e90ff"),
	}
	outageUnknownColor = geo.HexToRGBA("#808080")

	pipelineProductColors = map[string]color.RGBA{
		"oil": geo.HexToRGBA("#8b4513"),
		"gas": geo.HexToRGBA("#4682b4"),
	}
	pipelineUnknownColor = geo.HexToRGBA("#708090")

	weatherColor = geo.HexToRGBA("#00ced1")
	protestColor = geo.HexToRGBA("#ff69b4")
	vesselColor  = geo.HexToRGBA("#00bfff")
	flightColor  = geo.HexToRGBA("#adff2f")

	fireBands = []struct {
		maxK  float64
		color color.RGBA
	}{
		{330, geo.HexToRGBA("#ffa500")},
		{360, geo.HexToRGBA("#ff6347")},
		{math.Inf(1), geo.HexToRGBA("#ff0000")},
	}

	hotspotLevelColors = map[escalation.Level]color.RGBA{
		escalation.LevelLow:      geo.HexToRGBA("#808080"),
		escalation.LevelElevated: geo.HexToRGBA("#ffa500"),
		escalation.LevelHigh:     geo.HexToRGBA("#ff3232"),
	}
	hotspotLevelRadius = map[escalation.Level]float64{
		escalation.LevelLow:      6,
		escalation.LevelElevated: 9,
		escalation.LevelHigh:     12,
	}
)

const quakeRadiusScale = 0.35

func bandColor(v float64, bands []struct {
	maxK  float64
	color color.RGBA
}) color.RGBA {
	for _, b := range bands {
		if v < b.maxK {
			return b.color
		}
	}
	return bands[len(bands)-1].color
}

// encodeMarker maps one record to its visual marker. The highlighted flag
// overrides the domain color with the shared highlight gold.
func encodeMarker(d Domain, idx int, rec EventRecord, highlighted bool) Marker {
	m := Marker{
		ID:    rec.ID,
		Lat:   rec.Lat,
		Lon:   rec.Lon,
		Label: rec.Name,
		Index: idx,
	}

	switch d {
	case DomainQuake:
		m.Radius = math.Pow(2, rec.Magnitude) * quakeRadiusScale
		for _, band := range quakeDepthColors {
			if rec.DepthKm < band.maxKm {
				m.Color = band.color
				break
			}
		}
		m.Label = fmt.Sprintf("M%.1f %s", rec.Magnitude, rec.Name)
	case DomainFire:
		m.Radius = 4
		m.Color = bandColor(rec.Brightness, fireBands)
	case DomainOutage:
		m.Radius = 5 + math.Log2(1+float64(rec.Customers))*0.6
		if c, ok := outageCauseColors[rec.Kind]; ok {
			m.Color = c
		} else {
			m.Color = outageUnknownColor
		}
	case DomainWeather:
		m.Radius = 5 + rec.Severity*0.8
		m.Color = weatherColor
	case DomainProtest:
		m.Radius = 4 + rec.Severity*0.5
		m.Color = protestColor
		m.Pulse = rec.Breaking
	case DomainVessel:
		m.Radius = 3
		m.Color = vesselColor
	case DomainFlight:
		m.Radius = 3
		m.Color = flightColor
	default:
		m.Radius = 4
		m.Color = outageUnknownColor
	}

	if highlighted {
		m.Color = colorHighlight
	}
	return m
}

// encodeClusterMarker maps a multi-point cluster to its aggregate marker.
// Count==1 clusters never reach here; they encode as their single record.
func encodeClusterMarker(d Domain, c cluster.Cluster) Marker {
	base := vesselColor
	if d == DomainFlight {
		base = flightColor
	}
	return Marker{
		ID:           c.ID,
		Lat:          c.Lat,
		Lon:          c.Lon,
		Radius:       8 + 3*math.Log2(float64(c.Count)),
		Color:        base,
		Label:        fmt.Sprintf("%d", c.Count),
		ClusterCount: c.Count,
		Index:        -1,
	}
}

// encodeHotspotMarker maps a hotspot to its level-scaled marker.
func encodeHotspotMarker(idx int, h Hotspot, highlighted bool) Marker {
	level := h.Level
	if level == "" {
		level = escalation.LevelLow
	}
	m := Marker{
		ID:     h.ID,
		Lat:    h.Lat,
		Lon:    h.Lon,
		Radius: hotspotLevelRadius[level],
		Color:  hotspotLevelColors[level],
		Label:  h.Name,
		Pulse:  level == escalation.LevelHigh || h.HasBreaking,
		Index:  idx,
	}
	if highlighted {
		m.Color = colorHighlight
	}
	return m
}

// encodePath maps one pipeline record to its polyline.
func encodePath(idx int, rec EventRecord, highlighted bool) Path {
	c, ok := pipelineProductColors[rec.Kind]
	if !ok {
		c = pipelineUnknownColor
	}
	if highlighted {
		c = colorHighlight
	}
	return Path{
		ID:     rec.ID,
		Coords: rec.Path,
		Color:  c,
		Width:  2,
		Index:  idx,
	}
}

// ghostOf derives the oversized invisible pick twin of a visual layer.
func ghostOf(visual *Layer, ghostRadius float64) *Layer {
	g := &Layer{
		ID:     visual.ID + GhostSuffix,
		Domain: visual.Domain,
		Kind:   visual.Kind,
		Ghost:  true,
	}
	if len(visual.Markers) > 0 {
		g.Markers = make([]Marker, len(visual.Markers))
		for i, m := range visual.Markers {
			m.Pulse = false
			if m.Radius < ghostRadius {
				m.Radius = ghostRadius
			}
			g.Markers[i] = m
		}
	}
	if len(visual.Paths) > 0 {
		g.Paths = make([]Path, len(visual.Paths))
		for i, p := range visual.Paths {
			p.Width = ghostRadius
			g.Paths[i] = p
		}
	}
	return g
}
