package main

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"sort"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"
	geojson "github.com/paulmach/go.geojson"

	"github.com/situroom/situmap/pkg/geo"
	"github.com/situroom/situmap/pkg/mapengine"
)

var (
	oceanColor   = color.RGBA{8, 10, 15, 255}
	landColor    = color.RGBA{26, 29, 35, 255}
	outlineColor = color.RGBA{36, 42, 53, 255}
)

const dragThreshold = 3.0

// Viewer is the ebiten host around the composer: it pumps the scheduler,
// draws the layer list and translates pointer input into composer calls.
type Viewer struct {
	composer *mapengine.Composer
	world    *geojson.FeatureCollection

	width, height int
	layers        []*mapengine.Layer

	bg    *ebiten.Image
	bgKey string

	dragging  bool
	dragMoved float64
	lastX     int
	lastY     int

	tooltip string
	popup   mapengine.PickResult

	captureRequested bool
}

func NewViewer(composer *mapengine.Composer, countriesRaw []byte, w, h int) (*Viewer, error) {
	fc, err := geojson.UnmarshalFeatureCollection(countriesRaw)
	if err != nil {
		return nil, err
	}
	v := &Viewer{
		composer: composer,
		world:    fc,
		width:    w,
		height:   h,
	}
	composer.SetViewport(w, h)
	composer.SetRenderFunc(func(layers []*mapengine.Layer) {
		v.layers = layers
	})
	return v, nil
}

func (v *Viewer) Layout(outsideW, outsideH int) (int, int) {
	if outsideW != v.width || outsideH != v.height {
		v.width, v.height = outsideW, outsideH
		v.composer.SetViewport(outsideW, outsideH)
	}
	return v.width, v.height
}

func (v *Viewer) Update() error {
	v.handleZoom()
	v.handleDragAndClick()
	v.handleHover()
	v.handleKeys()
	v.composer.Frame()
	return nil
}

func (v *Viewer) handleZoom() {
	_, dy := ebiten.Wheel()
	if dy == 0 {
		return
	}
	view := v.composer.View()
	v.composer.SetZoomLevel(view.Zoom + dy*0.25)
}

func (v *Viewer) handleDragAndClick() {
	mx, my := ebiten.CursorPosition()

	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		v.dragging = true
		v.dragMoved = 0
		v.lastX, v.lastY = mx, my
		return
	}

	if v.dragging && ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		dx, dy := float64(mx-v.lastX), float64(my-v.lastY)
		v.dragMoved += math.Abs(dx) + math.Abs(dy)
		if dx != 0 || dy != 0 {
			view := v.composer.View()
			cx, cy := geo.Project(view.CenterLat, view.CenterLon, view.Zoom)
			lat, lon := geo.Unproject(cx-dx, cy-dy, view.Zoom)
			v.composer.SetCenter(lat, lon)
		}
		v.lastX, v.lastY = mx, my
		return
	}

	if inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft) {
		wasClick := v.dragging && v.dragMoved < dragThreshold
		v.dragging = false
		if !wasClick {
			return
		}
		if layerID, marker, ok := v.markerAt(mx, my); ok {
			v.setPopup(v.composer.HandleClick(layerID, marker))
			return
		}
		if layerID, path, ok := v.pathAt(mx, my); ok {
			v.setPopup(v.composer.ResolvePathPick(layerID, path))
			return
		}
		view := v.composer.View()
		cx, cy := geo.Project(view.CenterLat, view.CenterLon, view.Zoom)
		lat, lon := geo.Unproject(cx+float64(mx-v.width/2), cy+float64(my-v.height/2), view.Zoom)
		v.setPopup(v.composer.HandleMapClick(lat, lon))
	}
}

// setPopup opens or closes the popup overlay. Rendering pauses while a popup
// is open; the next frame after it closes delivers any queued render.
func (v *Viewer) setPopup(res mapengine.PickResult) {
	v.popup = res
	v.composer.SetRenderPaused(res.Type != mapengine.PopupNone)
}

func (v *Viewer) handleHover() {
	if v.dragging {
		v.tooltip = ""
		return
	}
	mx, my := ebiten.CursorPosition()
	if layerID, marker, ok := v.markerAt(mx, my); ok {
		v.tooltip = v.composer.ResolvePick(layerID, marker).Tooltip
		return
	}
	if layerID, path, ok := v.pathAt(mx, my); ok {
		v.tooltip = v.composer.ResolvePathPick(layerID, path).Tooltip
		return
	}
	v.tooltip = ""
}

var toggleKeys = []ebiten.Key{
	ebiten.Key1, ebiten.Key2, ebiten.Key3, ebiten.Key4, ebiten.Key5,
	ebiten.Key6, ebiten.Key7, ebiten.Key8, ebiten.Key9,
}

func (v *Viewer) handleKeys() {
	domains := mapengine.Domains()
	for i, key := range toggleKeys {
		if i < len(domains) && inpututil.IsKeyJustPressed(key) {
			d := domains[i]
			v.composer.SetLayerEnabled(d, !v.composer.LayerEnabled(d))
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		v.composer.SetRenderPaused(!v.composer.View().RenderPaused)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		v.setPopup(mapengine.PickResult{})
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		v.captureRequested = true
	}
}

// screenPos converts a geographic point to screen pixels for the current
// view.
func (v *Viewer) screenPos(lat, lon float64, view mapengine.ViewState) (float64, float64) {
	wx, wy := geo.Project(lat, lon, view.Zoom)
	cx, cy := geo.Project(view.CenterLat, view.CenterLon, view.Zoom)
	return wx - cx + float64(v.width)/2, wy - cy + float64(v.height)/2
}

// markerAt hit-tests markers topmost-first. Ghost layers sit after their
// visual twins in the list, so the reverse walk meets the oversized pick
// targets before anything they cover.
func (v *Viewer) markerAt(mx, my int) (string, mapengine.Marker, bool) {
	view := v.composer.View()
	fx, fy := float64(mx), float64(my)
	layers := v.layers
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		for j := len(l.Markers) - 1; j >= 0; j-- {
			m := l.Markers[j]
			x, y := v.screenPos(m.Lat, m.Lon, view)
			r := math.Max(m.Radius, 4)
			if (fx-x)*(fx-x)+(fy-y)*(fy-y) <= r*r {
				return l.ID, m, true
			}
		}
	}
	return "", mapengine.Marker{}, false
}

func (v *Viewer) pathAt(mx, my int) (string, mapengine.Path, bool) {
	view := v.composer.View()
	fx, fy := float64(mx), float64(my)
	layers := v.layers
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		for j := len(l.Paths) - 1; j >= 0; j-- {
			p := l.Paths[j]
			tolerance := math.Max(p.Width/2, 4)
			for k := 0; k < len(p.Coords)-1; k++ {
				x1, y1 := v.screenPos(p.Coords[k][0], p.Coords[k][1], view)
				x2, y2 := v.screenPos(p.Coords[k+1][0], p.Coords[k+1][1], view)
				if pointSegmentDist(fx, fy, x1, y1, x2, y2) <= tolerance {
					return l.ID, p, true
				}
			}
		}
	}
	return "", mapengine.Path{}, false
}

func pointSegmentDist(px, py, x1, y1, x2, y2 float64) float64 {
	dx, dy := x2-x1, y2-y1
	lenSq := dx*dx + dy*dy
	t := 0.0
	if lenSq > 0 {
		t = ((px-x1)*dx + (py-y1)*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}
	cx, cy := x1+t*dx, y1+t*dy
	return math.Hypot(px-cx, py-cy)
}

func (v *Viewer) Draw(screen *ebiten.Image) {
	view := v.composer.View()
	v.ensureBackground(view)
	if v.bg != nil {
		screen.DrawImage(v.bg, nil)
	}

	for _, l := range v.layers {
		if l.Ghost {
			continue
		}
		switch l.Kind {
		case mapengine.KindPath:
			v.drawPaths(screen, l, view)
		default:
			v.drawMarkers(screen, l, view)
		}
	}

	v.drawOverlay(screen, view)

	if v.captureRequested {
		v.captureRequested = false
		v.capture(screen)
	}
}

func (v *Viewer) drawMarkers(screen *ebiten.Image, l *mapengine.Layer, view mapengine.ViewState) {
	for _, m := range l.Markers {
		x, y := v.screenPos(m.Lat, m.Lon, view)
		if x < -50 || x > float64(v.width)+50 || y < -50 || y > float64(v.height)+50 {
			continue
		}
		vector.DrawFilledCircle(screen, float32(x), float32(y), float32(m.Radius), m.Color, true)
		if m.ClusterCount > 1 {
			ebitenutil.DebugPrintAt(screen, m.Label, int(x)-4, int(y)-8)
		} else if l.Domain == mapengine.DomainHotspot && m.Label != "" {
			ebitenutil.DebugPrintAt(screen, m.Label, int(x)+int(m.Radius)+4, int(y)-8)
		}
	}
}

func (v *Viewer) drawPaths(screen *ebiten.Image, l *mapengine.Layer, view mapengine.ViewState) {
	for _, p := range l.Paths {
		for k := 0; k < len(p.Coords)-1; k++ {
			x1, y1 := v.screenPos(p.Coords[k][0], p.Coords[k][1], view)
			x2, y2 := v.screenPos(p.Coords[k+1][0], p.Coords[k+1][1], view)
			vector.StrokeLine(screen, float32(x1), float32(y1), float32(x2), float32(y2),
				float32(p.Width), p.Color, true)
		}
	}
}

func (v *Viewer) drawOverlay(screen *ebiten.Image, view mapengine.ViewState) {
	status := fmt.Sprintf("zoom %.2f  center %.2f,%.2f", view.Zoom, view.CenterLat, view.CenterLon)
	if view.RenderPaused {
		status += "  [PAUSED]"
	}
	ebitenutil.DebugPrintAt(screen, status, 8, v.height-20)

	if v.tooltip != "" {
		mx, my := ebiten.CursorPosition()
		ebitenutil.DebugPrintAt(screen, v.tooltip, mx+12, my+12)
	}
	if v.popup.Type != mapengine.PopupNone {
		ebitenutil.DebugPrintAt(screen, fmt.Sprintf("[%s] %s", v.popup.Type, v.popup.Tooltip), 8, 8)
	}
}

// ensureBackground regenerates the CPU-rendered country background whenever
// the viewport it was drawn for changes.
func (v *Viewer) ensureBackground(view mapengine.ViewState) {
	key := fmt.Sprintf("%dx%d|%.3f|%.4f|%.4f", v.width, v.height, view.Zoom, view.CenterLat, view.CenterLon)
	if v.bg != nil && key == v.bgKey {
		return
	}
	v.bgKey = key

	cpuImg := image.NewRGBA(image.Rect(0, 0, v.width, v.height))
	draw.Draw(cpuImg, cpuImg.Bounds(), &image.Uniform{oceanColor}, image.Point{}, draw.Src)

	for _, f := range v.world.Features {
		if f.Geometry == nil {
			continue
		}
		if f.Geometry.IsPolygon() {
			v.fillPolygon(cpuImg, f.Geometry.Polygon, view)
		} else if f.Geometry.IsMultiPolygon() {
			for _, poly := range f.Geometry.MultiPolygon {
				v.fillPolygon(cpuImg, poly, view)
			}
		}
	}
	v.bg = ebiten.NewImageFromImage(cpuImg)
}

// fillPolygon scanline-fills one polygon's outer ring and strokes its
// outline, all in screen space.
func (v *Viewer) fillPolygon(img *image.RGBA, rings [][][]float64, view mapengine.ViewState) {
	if len(rings) == 0 {
		return
	}
	type point struct{ x, y float64 }
	projected := make([][]point, len(rings))
	minY, maxY := float64(v.height), 0.0
	offscreen := true
	for i, ring := range rings {
		projected[i] = make([]point, len(ring))
		for j, p := range ring {
			x, y := v.screenPos(p[1], p[0], view)
			projected[i][j] = point{x, y}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
			if x >= 0 && x < float64(v.width) && y >= 0 && y < float64(v.height) {
				offscreen = false
			}
		}
	}
	if offscreen && (maxY < 0 || minY > float64(v.height)) {
		return
	}

	for y := int(minY); y <= int(maxY); y++ {
		if y < 0 || y >= v.height {
			continue
		}
		var nodes []int
		fy := float64(y)
		for _, ring := range projected {
			for i := 0; i < len(ring); i++ {
				j := (i + 1) % len(ring)
				if (ring[i].y < fy && ring[j].y >= fy) || (ring[j].y < fy && ring[i].y >= fy) {
					nodeX := ring[i].x + (fy-ring[i].y)/(ring[j].y-ring[i].y)*(ring[j].x-ring[i].x)
					nodes = append(nodes, int(nodeX))
				}
			}
		}
		sort.Ints(nodes)
		for i := 0; i < len(nodes)-1; i += 2 {
			xs, xe := nodes[i], nodes[i+1]
			if xs < 0 {
				xs = 0
			}
			if xe >= v.width {
				xe = v.width - 1
			}
			for x := xs; x < xe; x++ {
				off := y*img.Stride + x*4
				img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = landColor.R, landColor.G, landColor.B, 255
			}
		}
	}

	for _, ring := range projected {
		for i := 0; i < len(ring)-1; i++ {
			drawLineFast(img, int(ring[i].x), int(ring[i].y), int(ring[i+1].x), int(ring[i+1].y),
				outlineColor, v.width, v.height)
		}
	}
}

func drawLineFast(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA, w, h int) {
	dx, dy := math.Abs(float64(x2-x1)), math.Abs(float64(y2-y1))
	sx, sy := -1, -1
	if x1 < x2 {
		sx = 1
	}
	if y1 < y2 {
		sy = 1
	}
	err := dx - dy
	for {
		if x1 >= 0 && x1 < w && y1 >= 0 && y1 < h {
			off := y1*img.Stride + x1*4
			img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = c.R, c.G, c.B, 255
		}
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func (v *Viewer) capture(screen *ebiten.Image) {
	b := screen.Bounds()
	buf := make([]byte, 4*b.Dx()*b.Dy())
	screen.ReadPixels(buf)

	img := &image.RGBA{Pix: buf, Stride: 4 * b.Dx(), Rect: image.Rect(0, 0, b.Dx(), b.Dy())}
	name := fmt.Sprintf("situmap-%s.png", time.Now().Format("20060102-150405"))
	f, err := os.Create(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "capture failed: %v\n", err)
		return
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		fmt.Fprintf(os.Stderr, "capture encode failed: %v\n", err)
	}
}
