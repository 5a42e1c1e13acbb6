package staticmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog/log"
)

// ErrTooManyTileFailures is returned by Render when fewer than the configured
// share of tiles arrived.
var ErrTooManyTileFailures = errors.New("too many tile fetch failures")

// Builder turns viewport requests into map images. One Builder serves the
// whole process; all per-request state (tile set, canvas) is created inside
// Render and discarded with the response.
type Builder struct {
	fetcher *Fetcher

	// minSuccessRatio errors a render when fewer than this share of its
	// tiles arrive. Zero keeps the upstream-outage behaviour of the
	// degrade-to-blank policy: even zero successful tiles still produce an
	// all-white map.
	minSuccessRatio float64
}

// NewBuilder wires a Builder to a shared Fetcher. minSuccessRatio of 0
// disables the failure threshold.
func NewBuilder(fetcher *Fetcher, minSuccessRatio float64) *Builder {
	return &Builder{fetcher: fetcher, minSuccessRatio: minSuccessRatio}
}

// Render runs one request through planning, fetching and composition and
// returns the encoded JPEG. Individual tile failures degrade to background
// color; only the failure threshold or an encoding problem produce an error.
func (b *Builder) Render(ctx context.Context, req ViewportRequest) ([]byte, error) {
	layout := ComputeLayout(req.Lat, req.Lng, req.Zoom, req.Width, req.Height, req.Scale)
	placements := layout.Placements()

	// Fetch each distinct tile once, even when a low-zoom viewport wraps
	// far enough around the globe to show it at several positions.
	tiles := make([]maptile.Tile, 0, len(placements))
	seen := make(map[maptile.Tile]struct{}, len(placements))
	for _, p := range placements {
		if _, dup := seen[p.Tile]; dup {
			continue
		}
		seen[p.Tile] = struct{}{}
		tiles = append(tiles, p.Tile)
	}

	outcomes := b.fetcher.FetchAll(ctx, tiles, req.Referrer)

	byTile := make(map[maptile.Tile][]byte, len(outcomes))
	succeeded := 0
	var total time.Duration
	timed := 0
	for _, o := range outcomes {
		if o.Elapsed > 0 {
			total += o.Elapsed
			timed++
		}
		if !o.OK() {
			continue
		}
		byTile[o.Tile] = o.Data
		succeeded++
	}

	if b.minSuccessRatio > 0 && len(tiles) > 0 {
		if ratio := float64(succeeded) / float64(len(tiles)); ratio < b.minSuccessRatio {
			return nil, fmt.Errorf("%w: %d of %d tiles arrived", ErrTooManyTileFailures, succeeded, len(tiles))
		}
	}

	placed := make([]PlacedTile, 0, len(placements))
	for _, p := range placements {
		if data, ok := byTile[p.Tile]; ok {
			placed = append(placed, PlacedTile{Data: data, X: p.X, Y: p.Y})
		}
	}

	img, err := Compose(layout.Width, layout.Height, req.Scale, placed)
	if err != nil {
		return nil, err
	}

	var avg time.Duration
	if timed > 0 {
		avg = total / time.Duration(timed)
	}
	log.Info().
		Float64("lat", req.Lat).
		Float64("lng", req.Lng).
		Int("zoom", req.Zoom).
		Int("tiles", len(tiles)).
		Int("failed", len(tiles)-succeeded).
		Dur("avg_tile_fetch", avg).
		Msg("map rendered")
	rendersTotal.Inc()

	return img, nil
}
