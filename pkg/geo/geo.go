// Package geo provides coordinate, bounding-box and color helpers shared by
// the map engine and its host renderers. Everything here is a pure function.
package geo

import (
	"image/color"
	"math"
	"strconv"
	"strings"
)

// BBox is a geographic bounding box. Edges are inclusive: a point lying
// exactly on a boundary is inside.
type BBox struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Contains reports whether the point lies inside the box, boundary inclusive.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Clamp constrains the box to valid lat/lon ranges and fixes inverted edges.
func (b BBox) Clamp() BBox {
	b.MinLon = math.Max(-180, math.Min(180, b.MinLon))
	b.MaxLon = math.Max(-180, math.Min(180, b.MaxLon))
	b.MinLat = math.Max(-90, math.Min(90, b.MinLat))
	b.MaxLat = math.Max(-90, math.Min(90, b.MaxLat))
	if b.MinLon > b.MaxLon {
		b.MinLon, b.MaxLon = b.MaxLon, b.MinLon
	}
	if b.MinLat > b.MaxLat {
		b.MinLat, b.MaxLat = b.MaxLat, b.MinLat
	}
	return b
}

// World returns the bounding box covering the whole globe.
func World() BBox {
	return BBox{MinLat: -90, MinLon: -180, MaxLat: 90, MaxLon: 180}
}

const maxMercatorLat = 85.05112878

// Project converts lat/lon to web-mercator world pixels at the given zoom,
// using a 512px tile extent. Latitude is clamped to the mercator limit.
func Project(lat, lon float64, zoom float64) (x, y float64) {
	lon = math.Max(-180, math.Min(180, lon))
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))

	latRad := lat * math.Pi / 180
	nx := (lon + 180) / 360
	ny := 0.5 - math.Log(math.Tan(latRad*0.5+math.Pi/4))/math.Pi*0.5

	scale := math.Pow(2, zoom) * 512
	return nx * scale, ny * scale
}

// Unproject converts web-mercator world pixels back to lat/lon.
func Unproject(x, y float64, zoom float64) (lat, lon float64) {
	scale := math.Pow(2, zoom) * 512
	nx := x / scale
	ny := y / scale

	lon = nx*360 - 180
	lat = math.Atan(math.Sinh(math.Pi*(1-2*ny))) * 180 / math.Pi
	return lat, lon
}

// HexToRGBA parses "#rgb", "#rrggbb" or "#rrggbbaa" into a color. Malformed
// input yields opaque white rather than an error; a bad color is a cosmetic
// problem, never a fatal one.
func HexToRGBA(s string) color.RGBA {
	s = strings.TrimPrefix(s, "#")
	white := color.RGBA{255, 255, 255, 255}

	switch len(s) {
	case 3:
		var out [3]uint8
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseUint(strings.Repeat(s[i:i+1], 2), 16, 8)
			if err != nil {
				return white
			}
			out[i] = uint8(v)
		}
		return color.RGBA{out[0], out[1], out[2], 255}
	case 6, 8:
		var out [4]uint8
		out[3] = 255
		for i := 0; i*2 < len(s); i++ {
			v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
			if err != nil {
				return white
			}
			out[i] = uint8(v)
		}
		return color.RGBA{out[0], out[1], out[2], out[3]}
	}
	return white
}

// WithAlpha returns the color with its alpha channel replaced.
func WithAlpha(c color.RGBA, alpha float64) color.RGBA {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	c.A = uint8(alpha * 255)
	return c
}

// ZoomAlpha ramps opacity linearly between two zoom levels: fully transparent
// at or below fadeIn, fully opaque at or above full. Used for progressive
// disclosure of dense layers as the user zooms in.
func ZoomAlpha(zoom, fadeIn, full float64) float64 {
	if full <= fadeIn {
		if zoom >= full {
			return 1
		}
		return 0
	}
	a := (zoom - fadeIn) / (full - fadeIn)
	if a < 0 {
		return 0
	}
	if a > 1 {
		return 1
	}
	return a
}

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	la1 := lat1 * math.Pi / 180
	la2 := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
