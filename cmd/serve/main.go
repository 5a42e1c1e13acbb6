package main

import (
	"context"
	"errors"
	"flag"
	gohttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/osmview/go-staticmap/config"
	"github.com/osmview/go-staticmap/http"
	"github.com/osmview/go-staticmap/staticmap"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file. Defaults are used when omitted.")
	listen := flag.String("listen", "", "Address and port to listen on. Overrides the config file.")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	setupLogging(cfg.LogLevel, cfg.LogFormat)

	fetcher := staticmap.NewFetcher(
		cfg.Tiles.URLTemplate,
		cfg.Tiles.Shards,
		cfg.Tiles.FetchPermits,
		cfg.Tiles.FetchTimeout,
		staticmap.WithUserAgent(cfg.Tiles.UserAgent),
	)
	builder := staticmap.NewBuilder(fetcher, cfg.Tiles.MinSuccessRatio)

	server := &gohttp.Server{
		Addr:         cfg.Listen,
		Handler:      http.NewRouter(builder, cfg.RateLimit.RequestsPerMinute),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("listen", cfg.Listen).Msg("tiling service starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, gohttp.ErrServerClosed) {
			log.Fatal().Err(err).Str("listen", cfg.Listen).Msg("server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown did not complete cleanly")
	}
}

func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}
