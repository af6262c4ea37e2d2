package mapengine

import (
	"time"

	"github.com/situroom/situmap/pkg/escalation"
)

// Domain names one event collection. Domains are the unit of layer
// toggling, caching and draw ordering.
type Domain string

const (
	DomainPipeline Domain = "pipeline"
	DomainOutage   Domain = "outage"
	DomainWeather  Domain = "weather"
	DomainFire     Domain = "fire"
	DomainQuake    Domain = "quake"
	DomainProtest  Domain = "protest"
	DomainVessel   Domain = "vessel"
	DomainFlight   Domain = "flight"
	DomainHotspot  Domain = "hotspot"
)

// EventRecord is one normalized feed event. A single flat shape covers every
// domain; encoders read only the fields their domain fills. Path is set only
// for pipeline segments, where Lat/Lon hold the segment midpoint.
type EventRecord struct {
	ID       string
	Lat, Lon float64
	Time     time.Time

	Name     string
	Country  string
	Kind     string  // outage cause, pipeline product, vessel class, alert type
	Severity float64 // generic 0..10 severity where the feed supplies one
	Breaking bool

	Magnitude  float64 // quakes
	DepthKm    float64 // quakes
	Brightness float64 // fires, kelvin
	Customers  int     // outages

	Speed   float64 // vessels and flights, knots
	Heading float64 // vessels and flights, degrees

	Path [][2]float64 // pipeline polyline, [lat, lon] pairs
}

// Hotspot is a named watch region. Keywords feed the escalation matcher; the
// score fields are derived and owned by the composer's refresh cycle.
type Hotspot struct {
	ID       string
	Name     string
	Lat, Lon float64
	Keywords []string

	EscalationScore float64
	HasBreaking     bool
	Level           escalation.Level
}

// TimeRange bounds the records shown on the map. A zero Start or End leaves
// that side unbounded; records with a zero timestamp always pass.
type TimeRange struct {
	Start, End time.Time
}

func (tr TimeRange) Contains(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if !tr.Start.IsZero() && t.Before(tr.Start) {
		return false
	}
	if !tr.End.IsZero() && t.After(tr.End) {
		return false
	}
	return true
}

// ViewState is the user-controlled slice of composer state, published to
// OnStateChange subscribers after every mutation.
type ViewState struct {
	Zoom                 float64
	CenterLat, CenterLon float64
	ViewportW, ViewportH int
	ActiveView           string
	TimeRange            TimeRange
	DisabledLayers       map[Domain]bool
	RenderPaused         bool
}
