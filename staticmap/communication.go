package staticmap

import (
	"time"

	"github.com/paulmach/orb/maptile"
)

// TileSize is the pixel size of one square slippy-map tile.
const TileSize = 256

// ViewportRequest describes one map image to render: a center, a zoom level
// and the output size in logical pixels. The validate tags mirror the bounds
// the HTTP layer enforces before a request reaches the builder.
type ViewportRequest struct {
	Lat      float64 `validate:"gte=-85,lte=85"`
	Lng      float64 `validate:"gte=-180,lte=180"`
	Zoom     int     `validate:"gt=0,lt=20"`
	Width    int     `validate:"gte=95,lte=1000"`
	Height   int     `validate:"gte=60,lte=1000"`
	Scale    int     `validate:"gte=1,lte=2"`
	Referrer string  `validate:"-"`
}

// Placement is one tile the canvas needs together with the top-left pixel
// position it is pasted at. X and Y may be negative or beyond the canvas at
// viewport edges; pasting clips.
type Placement struct {
	Tile maptile.Tile
	X    int
	Y    int
}

// Outcome is the result of fetching a single tile. A failed fetch carries
// Err (and Status for non-2xx responses) instead of Data; it never fails the
// batch it belongs to.
type Outcome struct {
	Tile    maptile.Tile
	Data    []byte
	Status  int
	Err     error
	Elapsed time.Duration
}

// OK reports whether the tile arrived.
func (o Outcome) OK() bool { return o.Err == nil }
