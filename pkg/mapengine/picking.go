package mapengine

import (
	"fmt"
	"strings"

	"github.com/situroom/situmap/pkg/geo"
)

// PopupType names the popup a resolved pick should open.
type PopupType string

const (
	PopupNone     PopupType = ""
	PopupQuake    PopupType = "quake"
	PopupOutage   PopupType = "outage"
	PopupWeather  PopupType = "weather"
	PopupFire     PopupType = "fire"
	PopupProtest  PopupType = "protest"
	PopupVessel   PopupType = "vessel"
	PopupFlight   PopupType = "flight"
	PopupPipeline PopupType = "pipeline"
	PopupHotspot  PopupType = "hotspot"
	PopupCluster  PopupType = "cluster"
	PopupCountry  PopupType = "country"
)

// PickResult is the stable identity behind a pointer hit. Exactly one of
// Record, Hotspot or the cluster fields is populated, matching Type.
type PickResult struct {
	Type         PopupType
	Domain       Domain
	Record       *EventRecord
	Hotspot      *Hotspot
	ClusterCount int
	MemberIDs    []string
	CountryCode  string
	CountryName  string
	Tooltip      string
}

// ResolvePick maps a hit marker back to the entity it represents. Ghost
// layers resolve exactly like their visual twins. Unknown layers or ids
// resolve to PopupNone rather than an error; a stale pick after a data
// refresh is an expected race, not a fault.
func (c *Composer) ResolvePick(layerID string, m Marker) PickResult {
	return c.resolve(layerID, m.ID, m.Index, m.ClusterCount)
}

// ResolvePathPick maps a hit polyline back to its record.
func (c *Composer) ResolvePathPick(layerID string, p Path) PickResult {
	return c.resolve(layerID, p.ID, p.Index, 0)
}

func (c *Composer) resolve(layerID, id string, index, clusterCount int) PickResult {
	domain := Domain(strings.TrimSuffix(layerID, GhostSuffix))
	spec, ok := specFor(domain)
	if !ok {
		return PickResult{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if domain == DomainHotspot {
		for i := range c.hotspots {
			if c.hotspots[i].ID == id {
				h := c.hotspots[i]
				return PickResult{
					Type:    PopupHotspot,
					Domain:  domain,
					Hotspot: &h,
					Tooltip: hotspotTooltip(h),
				}
			}
		}
		return PickResult{}
	}

	if clusterCount > 1 {
		return c.resolveClusterLocked(domain, id)
	}

	recs := c.collections[domain]
	rec, ok := findRecord(recs, id, index)
	if !ok {
		return PickResult{}
	}
	return PickResult{
		Type:    spec.popup,
		Domain:  domain,
		Record:  &rec,
		Tooltip: recordTooltip(domain, rec),
	}
}

func (c *Composer) resolveClusterLocked(domain Domain, clusterID string) PickResult {
	recs := c.collections[domain]
	for _, cl := range c.clustersLocked(domain) {
		if cl.ID != clusterID {
			continue
		}
		// A degenerate cluster stands for its one record.
		if cl.Count == 1 && len(cl.Members) == 1 {
			if rec, ok := findRecord(recs, "", cl.Members[0]); ok {
				spec, _ := specFor(domain)
				return PickResult{
					Type:    spec.popup,
					Domain:  domain,
					Record:  &rec,
					Tooltip: recordTooltip(domain, rec),
				}
			}
			return PickResult{}
		}
		ids := make([]string, 0, len(cl.Members))
		var spreadKm float64
		for _, mi := range cl.Members {
			if mi >= 0 && mi < len(recs) {
				ids = append(ids, recs[mi].ID)
				if d := geo.HaversineKm(cl.Lat, cl.Lon, recs[mi].Lat, recs[mi].Lon); d > spreadKm {
					spreadKm = d
				}
			}
		}
		if spreadKm < 1 {
			spreadKm = 1
		}
		return PickResult{
			Type:         PopupCluster,
			Domain:       domain,
			ClusterCount: cl.Count,
			MemberIDs:    ids,
			Tooltip:      fmt.Sprintf("%d %ss within %.0f km", cl.Count, domain, spreadKm),
		}
	}
	return PickResult{}
}

// findRecord prefers the positional index and falls back to an id scan when
// the index no longer matches, which happens when a pick races a data swap.
func findRecord(recs []EventRecord, id string, index int) (EventRecord, bool) {
	if index >= 0 && index < len(recs) && (id == "" || recs[index].ID == id) {
		return recs[index], true
	}
	if id != "" {
		for _, r := range recs {
			if r.ID == id {
				return r, true
			}
		}
	}
	return EventRecord{}, false
}

// HandleClick resolves a marker hit and dispatches the hotspot callback when
// one applies. Hosts call this from their pointer handler and open whatever
// popup the result names.
func (c *Composer) HandleClick(layerID string, m Marker) PickResult {
	res := c.ResolvePick(layerID, m)
	if res.Type == PopupHotspot && res.Hotspot != nil {
		c.mu.Lock()
		cb := c.OnHotspotClick
		c.mu.Unlock()
		if cb != nil {
			cb(*res.Hotspot)
		}
	}
	return res
}

// HandleMapClick resolves a click that hit no marker against the country
// polygons, dispatching the country callback on a hit.
func (c *Composer) HandleMapClick(lat, lon float64) PickResult {
	c.mu.Lock()
	locator := c.locator
	cb := c.OnCountryClick
	c.mu.Unlock()

	if locator == nil {
		return PickResult{}
	}
	code, name, ok := locator.Locate(lat, lon)
	if !ok {
		return PickResult{}
	}
	if cb != nil {
		cb(code, name)
	}
	return PickResult{
		Type:        PopupCountry,
		CountryCode: code,
		CountryName: name,
		Tooltip:     name,
	}
}

func hotspotTooltip(h Hotspot) string {
	return fmt.Sprintf("%s - %s (%.1f)", h.Name, strings.ToUpper(string(h.Level)), h.EscalationScore)
}

func recordTooltip(d Domain, rec EventRecord) string {
	switch d {
	case DomainQuake:
		return fmt.Sprintf("M%.1f, %.0fkm deep - %s", rec.Magnitude, rec.DepthKm, rec.Name)
	case DomainFire:
		return fmt.Sprintf("%s - %.0fK", rec.Name, rec.Brightness)
	case DomainOutage:
		if rec.Customers > 0 {
			return fmt.Sprintf("%s - %s outage, %d customers", rec.Name, rec.Kind, rec.Customers)
		}
		return fmt.Sprintf("%s - %s outage", rec.Name, rec.Kind)
	case DomainVessel, DomainFlight:
		if rec.Speed > 0 {
			return fmt.Sprintf("%s (%s, %.0fkt)", rec.Name, rec.Kind, rec.Speed)
		}
		return fmt.Sprintf("%s (%s)", rec.Name, rec.Kind)
	case DomainPipeline:
		return fmt.Sprintf("%s (%s)", rec.Name, rec.Kind)
	case DomainProtest:
		if rec.Breaking {
			return rec.Name + " (breaking)"
		}
		return rec.Name
	default:
		return rec.Name
	}
}
