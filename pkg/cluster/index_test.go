package cluster

import (
	"fmt"
	"reflect"
	"sort"
	"testing"

	"github.com/situroom/situmap/pkg/geo"
)

func gridPoints(n int, spacing float64) []Point {
	var pts []Point
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pts = append(pts, Point{
				ID:       fmt.Sprintf("p%d-%d", i, j),
				Lat:      10 + float64(i)*spacing,
				Lon:      20 + float64(j)*spacing,
				Severity: float64(i + j),
				Category: "grid",
			})
		}
	}
	return pts
}

// collectIDs flattens query results back to the contributing input ids.
func collectIDs(t *testing.T, x *Index, result []Cluster) []string {
	t.Helper()
	var ids []string
	for _, c := range result {
		if len(c.Members) != c.Count {
			t.Fatalf("cluster %s: %d members but count %d", c.ID, len(c.Members), c.Count)
		}
		for _, m := range c.Members {
			p, ok := x.Point(m)
			if !ok {
				t.Fatalf("cluster %s references invalid member %d", c.ID, m)
			}
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func TestQueryPartitionsInput(t *testing.T) {
	pts := gridPoints(10, 0.05) // dense 100-point grid
	x := New(Options{})
	x.Load(pts)

	bbox := geo.BBox{MinLat: 9, MinLon: 19, MaxLat: 11, MaxLon: 21}
	for _, zoom := range []int{0, 3, 7, 11, 14, 18} {
		got := collectIDs(t, x, x.Query(bbox, zoom))

		var want []string
		for _, p := range pts {
			want = append(want, p.ID)
		}
		sort.Strings(want)

		if !reflect.DeepEqual(got, want) {
			t.Errorf("zoom %d: result covers %d ids, want %d with no dupes/omissions", zoom, len(got), len(want))
		}
	}
}

func TestQueryBoundaryInclusive(t *testing.T) {
	x := New(Options{})
	x.Load([]Point{
		{ID: "edge", Lat: 10, Lon: 20},
		{ID: "corner", Lat: 30, Lon: 40},
		{ID: "outside", Lat: 30.0001, Lon: 40},
	})

	got := collectIDs(t, x, x.Query(geo.BBox{MinLat: 10, MinLon: 20, MaxLat: 30, MaxLon: 40}, 16))
	want := []string{"corner", "edge"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("boundary query = %v; want %v", got, want)
	}
}

func TestQueryEmptyInput(t *testing.T) {
	x := New(Options{})
	if got := x.Query(geo.World(), 5); got != nil {
		t.Errorf("query on empty index = %v; want nil", got)
	}
	x.Load(nil)
	if got := x.Query(geo.World(), 5); got != nil {
		t.Errorf("query after empty load = %v; want nil", got)
	}
}

func TestQueryDeterministic(t *testing.T) {
	pts := gridPoints(8, 0.2)
	x := New(Options{})
	x.Load(pts)

	bbox := geo.BBox{MinLat: 9, MinLon: 19, MaxLat: 12, MaxLon: 22}
	a := x.Query(bbox, 4)
	b := x.Query(bbox, 4)
	if !reflect.DeepEqual(a, b) {
		t.Error("repeated query over a fixed (bbox, zoom, dataset) differs")
	}
}

func TestSingletonKeepsRecordID(t *testing.T) {
	x := New(Options{MinPoints: 3})
	x.Load([]Point{
		{ID: "lonely", Lat: 50, Lon: 50, Severity: 7, Category: "quake"},
	})

	for _, zoom := range []int{0, 14} {
		result := x.Query(geo.World(), zoom)
		if len(result) != 1 {
			t.Fatalf("zoom %d: got %d results", zoom, len(result))
		}
		c := result[0]
		if c.Count != 1 || c.ID != "lonely" {
			t.Errorf("zoom %d: singleton = {ID:%s Count:%d}; want the record itself", zoom, c.ID, c.Count)
		}
		if c.MaxSeverity != 7 {
			t.Errorf("zoom %d: singleton severity = %f", zoom, c.MaxSeverity)
		}
	}
}

func TestClusterAggregates(t *testing.T) {
	x := New(Options{MinPoints: 2})
	x.Load([]Point{
		{ID: "a", Lat: 10, Lon: 20, Severity: 2, Category: "fire"},
		{ID: "b", Lat: 10.001, Lon: 20.001, Severity: 9, Category: "fire"},
		{ID: "c", Lat: 10.002, Lon: 20.002, Severity: 4, Category: "quake"},
	})

	result := x.Query(geo.World(), 0)
	if len(result) != 1 {
		t.Fatalf("got %d results; want one merged cluster", len(result))
	}
	c := result[0]
	if c.Count != 3 || c.MaxSeverity != 9 {
		t.Errorf("cluster = {Count:%d MaxSeverity:%f}", c.Count, c.MaxSeverity)
	}
	if c.Categories["fire"] != 2 || c.Categories["quake"] != 1 {
		t.Errorf("categories = %v", c.Categories)
	}
	if c.Lat < 10 || c.Lat > 10.002 || c.Lon < 20 || c.Lon > 20.002 {
		t.Errorf("centroid (%f, %f) outside member extent", c.Lat, c.Lon)
	}
}

func TestGenerationBumpsOnLoad(t *testing.T) {
	x := New(Options{})
	g0 := x.Generation()
	x.Load(gridPoints(2, 1))
	g1 := x.Generation()
	x.Load(gridPoints(2, 1))
	g2 := x.Generation()
	if g1 <= g0 || g2 <= g1 {
		t.Errorf("generations %d, %d, %d not strictly increasing", g0, g1, g2)
	}

	// Synthetic ids embed the generation so they can never collide across loads.
	x2 := New(Options{MinPoints: 2})
	x2.Load([]Point{{ID: "a", Lat: 0, Lon: 0}, {ID: "b", Lat: 0.001, Lon: 0.001}})
	first := x2.Query(geo.World(), 0)[0].ID
	x2.Load([]Point{{ID: "a", Lat: 0, Lon: 0}, {ID: "b", Lat: 0.001, Lon: 0.001}})
	second := x2.Query(geo.World(), 0)[0].ID
	if first == second {
		t.Errorf("cluster id %q reused across generations", first)
	}
}
