package geo

import "testing"

// A square "country" spanning lat 0..10, lon 0..10, plus a second one with a
// MultiPolygon to cover both geometry branches.
const testWorldJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"iso_a2": "US", "name": "Testland"},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]
      }
    },
    {
      "type": "Feature",
      "properties": {"iso_a2": "FR", "name": "Twoisle"},
      "geometry": {
        "type": "MultiPolygon",
        "coordinates": [
          [[[20,20],[25,20],[25,25],[20,25],[20,20]]],
          [[[30,20],[35,20],[35,25],[30,25],[30,20]]]
        ]
      }
    }
  ]
}`

func TestCountryLocator(t *testing.T) {
	loc, err := NewCountryLocator([]byte(testWorldJSON))
	if err != nil {
		t.Fatalf("NewCountryLocator: %v", err)
	}

	tests := []struct {
		name     string
		lat, lon float64
		wantCode string
		wantOK   bool
	}{
		{"inside polygon", 5, 5, "US", true},
		{"inside second multipolygon part", 22, 32, "FR", true},
		{"between the two isles", 22, 27, "", false},
		{"open ocean", -40, -40, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, name, ok := loc.Locate(tt.lat, tt.lon)
			if ok != tt.wantOK {
				t.Fatalf("Locate(%f, %f) ok = %v; want %v", tt.lat, tt.lon, ok, tt.wantOK)
			}
			if code != tt.wantCode {
				t.Errorf("code = %q; want %q", code, tt.wantCode)
			}
			if ok && name == "" {
				t.Error("resolved pick has empty name")
			}
		})
	}
}

func TestCountryLocatorBadInput(t *testing.T) {
	if _, err := NewCountryLocator([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed geojson")
	}
}
