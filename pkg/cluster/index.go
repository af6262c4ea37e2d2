// Package cluster implements an incremental point-clustering index for map
// viewports. One index holds one event collection; Load replaces the contents
// wholesale and Query answers "what is visible in this bbox at this zoom",
// merging dense neighborhoods into synthetic clusters at low zoom.
package cluster

import (
	"fmt"
	"sort"

	"github.com/situroom/situmap/pkg/geo"
)

// Point is one input record. ID must be unique within a Load call.
type Point struct {
	ID       string
	Lat, Lon float64
	Severity float64
	Category string
}

// Cluster is one query result: either a synthetic merge of nearby points
// (Count > 1) or a singleton wrapper around one point (Count == 1, ID equal
// to the point's own ID). Members holds indices into the loaded point slice;
// resolve them against the live collection at read time, never retain them
// across a Load.
type Cluster struct {
	ID          string
	Lat, Lon    float64
	Count       int
	MaxSeverity float64
	Categories  map[string]int
	Members     []int
}

// Options tunes the clustering behavior. Zero values select the defaults.
type Options struct {
	// Radius is the cluster gathering radius in projected pixels
	// (512px tile extent).
	Radius float64
	// MinPoints is the smallest neighborhood that forms a cluster.
	MinPoints int
	// MaxZoom is the zoom at and above which no clustering happens and
	// every point is returned as a singleton.
	MaxZoom int
}

// Index is a viewport clustering structure over one point collection.
// Not safe for concurrent use; the composer owns it and serializes access.
type Index struct {
	opts       Options
	points     []Point
	byLon      []int // point indices sorted by (lon, lat, index)
	generation uint64
}

// New creates an empty index.
func New(opts Options) *Index {
	if opts.Radius <= 0 {
		opts.Radius = 40
	}
	if opts.MinPoints <= 0 {
		opts.MinPoints = 2
	}
	if opts.MaxZoom <= 0 {
		opts.MaxZoom = 14
	}
	return &Index{opts: opts}
}

// Load replaces the index contents. Any Cluster or member index obtained
// from an earlier generation is invalid afterwards.
func (x *Index) Load(points []Point) {
	x.points = make([]Point, len(points))
	copy(x.points, points)

	x.byLon = make([]int, len(points))
	for i := range x.byLon {
		x.byLon[i] = i
	}
	// Longitude order survives mercator projection at every zoom, so one
	// sort at load time serves all queries. Ties break deterministically.
	sort.Slice(x.byLon, func(a, b int) bool {
		pa, pb := x.points[x.byLon[a]], x.points[x.byLon[b]]
		if pa.Lon != pb.Lon {
			return pa.Lon < pb.Lon
		}
		if pa.Lat != pb.Lat {
			return pa.Lat < pb.Lat
		}
		return x.byLon[a] < x.byLon[b]
	})
	x.generation++
}

// Generation identifies the current dataset; it increments on every Load.
func (x *Index) Generation() uint64 {
	return x.generation
}

// Len returns the number of loaded points.
func (x *Index) Len() int {
	return len(x.points)
}

// Point returns the loaded point at the given member index.
func (x *Index) Point(i int) (Point, bool) {
	if i < 0 || i >= len(x.points) {
		return Point{}, false
	}
	return x.points[i], true
}

// Query returns the clusters and singletons visible in the bounding box at
// the given integer zoom level. Every loaded point inside the box (boundary
// inclusive) appears in exactly one result. Results are deterministic for a
// fixed (bbox, zoom, dataset) triple. Callers should cache per zoom level;
// the index recomputes on every call.
func (x *Index) Query(bbox geo.BBox, zoom int) []Cluster {
	if len(x.points) == 0 {
		return nil
	}
	bbox = bbox.Clamp()

	cand := make([]int, 0, len(x.points))
	for _, i := range x.byLon {
		p := x.points[i]
		if bbox.Contains(p.Lat, p.Lon) {
			cand = append(cand, i)
		}
	}
	if len(cand) == 0 {
		return nil
	}

	if zoom >= x.opts.MaxZoom {
		out := make([]Cluster, 0, len(cand))
		for _, i := range cand {
			out = append(out, x.singleton(i))
		}
		return out
	}

	proj := make([][2]float64, len(cand))
	for k, i := range cand {
		px, py := geo.Project(x.points[i].Lat, x.points[i].Lon, float64(zoom))
		proj[k] = [2]float64{px, py}
	}

	r := x.opts.Radius
	processed := make([]bool, len(cand))
	var out []Cluster
	for k := range cand {
		if processed[k] {
			continue
		}
		memberPos := []int{k}
		for j := k + 1; j < len(cand); j++ {
			if proj[j][0]-proj[k][0] > r {
				break // candidates are X-sorted
			}
			if processed[j] {
				continue
			}
			dx := proj[j][0] - proj[k][0]
			dy := proj[j][1] - proj[k][1]
			if dx*dx+dy*dy <= r*r {
				memberPos = append(memberPos, j)
			}
		}

		if len(memberPos) >= x.opts.MinPoints {
			members := make([]int, len(memberPos))
			for n, pos := range memberPos {
				members[n] = cand[pos]
				processed[pos] = true
			}
			out = append(out, x.merge(members))
		} else {
			// Too sparse to merge: emit the seed alone and leave its
			// neighbors available for later seeds.
			processed[k] = true
			out = append(out, x.singleton(cand[k]))
		}
	}
	return out
}

func (x *Index) singleton(i int) Cluster {
	p := x.points[i]
	return Cluster{
		ID:          p.ID,
		Lat:         p.Lat,
		Lon:         p.Lon,
		Count:       1,
		MaxSeverity: p.Severity,
		Categories:  map[string]int{p.Category: 1},
		Members:     []int{i},
	}
}

func (x *Index) merge(members []int) Cluster {
	minIdx := members[0]
	var sumLat, sumLon, maxSev float64
	cats := make(map[string]int)
	for _, i := range members {
		if i < minIdx {
			minIdx = i
		}
		p := x.points[i]
		sumLat += p.Lat
		sumLon += p.Lon
		if p.Severity > maxSev {
			maxSev = p.Severity
		}
		cats[p.Category]++
	}
	n := float64(len(members))
	return Cluster{
		// Synthetic id, stable only within the current generation.
		ID:          fmt.Sprintf("c%d-%d", x.generation, minIdx),
		Lat:         sumLat / n,
		Lon:         sumLon / n,
		Count:       len(members),
		MaxSeverity: maxSev,
		Categories:  cats,
		Members:     members,
	}
}
