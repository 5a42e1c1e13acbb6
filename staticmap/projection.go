package staticmap

import (
	"math"

	"github.com/paulmach/orb/maptile"
)

// Layout is the rectangular tile grid covering one viewport, plus the pixel
// corrections that line the grid up with the requested center. Tile ranges
// are half-open and unwrapped: XMin may be negative or XMax may exceed the
// pyramid width when the viewport crosses the antimeridian.
type Layout struct {
	Zoom        int
	XMin, XMax  int
	YMin, YMax  int
	XCorrection int
	YCorrection int
	// Canvas size in output pixels, already multiplied by the scale factor.
	Width  int
	Height int
}

// ComputeLayout converts a viewport center into the tile ranges and pixel
// corrections needed to render it.
//
// https://wiki.openstreetmap.org/wiki/Slippy_map_tilenames#Implementations
func ComputeLayout(lat, lng float64, zoom, width, height, scale int) Layout {
	w := width * scale
	h := height * scale
	pyramid := float64(uint64(1) << uint(zoom))

	xTile := pyramid * (lng + 180) / 360

	latRad := lat * math.Pi / 180
	yTile := pyramid * (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2

	xMin, xMax, xCorrection := rangeCorrection(xTile, w)
	yMin, yMax, yCorrection := rangeCorrection(yTile, h)

	return Layout{
		Zoom:        zoom,
		XMin:        xMin,
		XMax:        xMax,
		YMin:        yMin,
		YMax:        yMax,
		XCorrection: xCorrection,
		YCorrection: yCorrection,
		Width:       w,
		Height:      h,
	}
}

// rangeCorrection returns the half-open tile range covering size pixels
// centered on a fractional tile coordinate, and the pixel offset to subtract
// from the first tile so the center lands at the canvas center. A viewport
// aligned exactly to a tile boundary gets a correction of zero.
func rangeCorrection(center float64, size int) (min, max, correction int) {
	half := float64(size) / 2 / TileSize
	min = int(math.Floor(center - half))
	max = int(math.Ceil(center + half))
	correction = int(math.Round((center-float64(min))*TileSize - float64(size)/2))
	return min, max, correction
}

// Placements expands the layout into the tiles to draw. Columns wrap modulo
// the pyramid width so the map repeats across the antimeridian; rows outside
// the pyramid are skipped entirely because the poles are not tiled. At low
// zooms a canvas wider than the world references the same tile at more than
// one position, so the result may contain duplicate tile coordinates.
func (l Layout) Placements() []Placement {
	n := 1 << uint(l.Zoom)

	placements := make([]Placement, 0, (l.XMax-l.XMin)*(l.YMax-l.YMin))
	for col, x := 0, l.XMin; x < l.XMax; col, x = col+1, x+1 {
		wrapped := ((x % n) + n) % n
		for row, y := 0, l.YMin; y < l.YMax; row, y = row+1, y+1 {
			if y < 0 || y >= n {
				continue
			}
			placements = append(placements, Placement{
				Tile: maptile.New(uint32(wrapped), uint32(y), maptile.Zoom(l.Zoom)),
				X:    col*TileSize - l.XCorrection,
				Y:    row*TileSize - l.YCorrection,
			})
		}
	}
	return placements
}
