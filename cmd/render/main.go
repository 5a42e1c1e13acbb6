// Command render fetches and composes a single map image to a file. It is
// mainly useful for checking viewport parameters without running the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"github.com/osmview/go-staticmap/config"
	"github.com/osmview/go-staticmap/staticmap"
)

func main() {
	lat := flag.Float64("lat", 51.5074, "Latitude of the viewport center.")
	lng := flag.Float64("lng", -0.1, "Longitude of the viewport center.")
	zoom := flag.Int("zoom", 10, "Zoom level, exclusive range (0, 20).")
	width := flag.Int("width", 600, "Output width in logical pixels, 95-1000.")
	height := flag.Int("height", 400, "Output height in logical pixels, 60-1000.")
	scale := flag.Int("scale", 1, "Pixel density multiplier, 1 or 2.")
	output := flag.String("o", "map.jpg", "Output file path.")
	configPath := flag.String("config", "", "Optional YAML config file for upstream settings.")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}

	req := staticmap.ViewportRequest{
		Lat:    *lat,
		Lng:    *lng,
		Zoom:   *zoom,
		Width:  *width,
		Height: *height,
		Scale:  *scale,
	}
	if err := validator.New().Struct(req); err != nil {
		log.Fatal().Err(err).Msg("invalid viewport parameters")
	}

	var bar *progressbar.ProgressBar
	var barOnce sync.Once
	progress := func(done, total int) {
		barOnce.Do(func() {
			bar = progressbar.Default(int64(total), "fetching tiles")
		})
		bar.Add(1)
	}

	fetcher := staticmap.NewFetcher(
		cfg.Tiles.URLTemplate,
		cfg.Tiles.Shards,
		cfg.Tiles.FetchPermits,
		cfg.Tiles.FetchTimeout,
		staticmap.WithUserAgent(cfg.Tiles.UserAgent),
		staticmap.WithProgress(progress),
	)
	builder := staticmap.NewBuilder(fetcher, cfg.Tiles.MinSuccessRatio)

	img, err := builder.Render(context.Background(), req)
	if err != nil {
		log.Fatal().Err(err).Msg("render failed")
	}

	if err := os.WriteFile(*output, img, 0644); err != nil {
		log.Fatal().Err(err).Str("path", *output).Msg("could not write output file")
	}
	fmt.Printf("wrote %s (%d bytes)\n", *output, len(img))
}
