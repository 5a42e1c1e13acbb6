package staticmap

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	jpegQuality = 95

	attributionText = "© OpenStreetMap contributors"
)

// PlacedTile pairs fetched tile bytes with the top-left canvas position they
// are pasted at.
type PlacedTile struct {
	Data []byte
	X    int
	Y    int
}

// attributionFace is built once; glyph rendering is deterministic so composed
// images are byte-identical for identical inputs.
var attributionFace = sync.OnceValue(func() font.Face {
	parsed, err := opentype.Parse(goregular.TTF)
	if err != nil {
		panic(fmt.Sprintf("parsing embedded attribution font: %v", err))
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    10,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		panic(fmt.Sprintf("building attribution font face: %v", err))
	}
	return face
})

// Compose pastes the tiles onto an opaque white canvas of width x height
// pixels (already scaled), draws the attribution overlay and encodes the
// result as JPEG. Tiles that fail to decode are skipped so their region stays
// white, exactly like a failed fetch. Later tiles overwrite earlier ones
// where placements overlap.
func Compose(width, height, scale int, tiles []PlacedTile) ([]byte, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	for _, t := range tiles {
		img, _, err := image.Decode(bytes.NewReader(t.Data))
		if err != nil {
			log.Warn().Err(err).Int("canvas_x", t.X).Int("canvas_y", t.Y).Msg("skipping undecodable tile")
			continue
		}
		dp := image.Pt(t.X, t.Y).Sub(img.Bounds().Min)
		draw.Draw(canvas, img.Bounds().Add(dp), img, img.Bounds().Min, draw.Src)
	}

	drawAttribution(canvas, scale)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding map image: %w", err)
	}
	return buf.Bytes(), nil
}

// drawAttribution draws a translucent box anchored at the bottom-right corner
// with the attribution text on top. The box has two size tiers keyed on the
// unscaled output width; the 95px minimum viewport width exists so the small
// tier still fits the text. Box and text positions scale with the scale
// factor, the glyphs themselves do not.
func drawAttribution(canvas *image.RGBA, scale int) {
	w := canvas.Bounds().Dx()
	h := canvas.Bounds().Dy()

	boxW, boxH := 95, 8
	textX, textY := 94, 8
	if w/scale >= 205 {
		boxW, boxH = 205, 20
		textX, textY = 200, 20
	}

	box := image.Rect(w-boxW*scale, h-boxH*scale, w, h)
	draw.Draw(canvas, box, image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 128}), image.Point{}, draw.Over)

	face := attributionFace()
	drawer := font.Drawer{
		Dst:  canvas,
		Src:  image.Black,
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(w - textX*scale),
			Y: fixed.I(h-textY*scale) + face.Metrics().Ascent,
		},
	}
	drawer.DrawString(attributionText)
}
