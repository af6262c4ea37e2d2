package geo

import (
	"fmt"
	"strings"

	"github.com/biter777/countries"
	geojson "github.com/paulmach/go.geojson"
)

// CountryLocator answers "which country is under this coordinate" from a
// world-boundaries GeoJSON FeatureCollection. Used when a map pick misses
// every data layer and falls through to the basemap.
type CountryLocator struct {
	features []countryFeature
}

type countryFeature struct {
	code  string
	name  string
	rings [][][]float64 // outer+hole rings per polygon, geojson [lon, lat] order
	boxes []BBox        // one per polygon, for cheap rejection
}

// NewCountryLocator builds a locator from raw GeoJSON bytes. Features are
// matched by their "iso_a2" property, falling back to "name".
func NewCountryLocator(raw []byte) (*CountryLocator, error) {
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing world boundaries: %w", err)
	}

	loc := &CountryLocator{}
	for _, f := range fc.Features {
		cf := countryFeature{
			code: strings.ToUpper(f.PropertyMustString("iso_a2", "")),
			name: f.PropertyMustString("name", ""),
		}
		if cf.code == "" && cf.name == "" {
			continue
		}

		var polys [][][][]float64
		if f.Geometry.IsPolygon() {
			polys = append(polys, f.Geometry.Polygon)
		} else if f.Geometry.IsMultiPolygon() {
			polys = f.Geometry.MultiPolygon
		}
		for _, poly := range polys {
			if len(poly) == 0 || len(poly[0]) == 0 {
				continue
			}
			cf.rings = append(cf.rings, poly[0])
			cf.boxes = append(cf.boxes, ringBBox(poly[0]))
		}
		if len(cf.rings) > 0 {
			loc.features = append(loc.features, cf)
		}
	}
	return loc, nil
}

// Locate returns the ISO alpha-2 code and display name of the country under
// the coordinate, or ("", "", false) for open ocean. The display name comes
// from the countries table when the ISO code resolves, otherwise from the
// feature's own name property.
func (l *CountryLocator) Locate(lat, lon float64) (code, name string, ok bool) {
	for _, cf := range l.features {
		for i, ring := range cf.rings {
			if !cf.boxes[i].Contains(lat, lon) {
				continue
			}
			if pointInRing(lat, lon, ring) {
				name := cf.name
				if cf.code != "" {
					if c := countries.ByName(cf.code); c != countries.Unknown {
						name = c.String()
					}
				}
				return cf.code, name, true
			}
		}
	}
	return "", "", false
}

func ringBBox(ring [][]float64) BBox {
	b := BBox{MinLat: 90, MinLon: 180, MaxLat: -90, MaxLon: -180}
	for _, p := range ring {
		if p[1] < b.MinLat {
			b.MinLat = p[1]
		}
		if p[1] > b.MaxLat {
			b.MaxLat = p[1]
		}
		if p[0] < b.MinLon {
			b.MinLon = p[0]
		}
		if p[0] > b.MaxLon {
			b.MaxLon = p[0]
		}
	}
	return b
}

// pointInRing is a standard ray cast over a geojson ring ([lon, lat] pairs).
func pointInRing(lat, lon float64, ring [][]float64) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
