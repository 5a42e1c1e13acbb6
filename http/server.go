// Package http exposes the map rendering service over HTTP.
package http

import (
	"errors"
	"fmt"
	gohttp "net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/osmview/go-staticmap/staticmap"
)

// validate is shared; the validator caches struct metadata and is safe for
// concurrent use.
var validate = validator.New()

type server struct {
	builder *staticmap.Builder
}

// NewRouter builds the service router around a shared Builder.
// requestsPerMinute > 0 enables per-IP rate limiting on the map endpoint.
func NewRouter(builder *staticmap.Builder, requestsPerMinute int) gohttp.Handler {
	s := &server{builder: builder}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", s.index)
	r.Head("/", s.index)
	r.Get("/health", s.health)
	r.Head("/health", s.health)
	r.Get("/robots.txt", s.robotsTxt)
	r.Get("/favicon.ico", s.notFound)
	r.Method(gohttp.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if requestsPerMinute > 0 {
			r.Use(httprate.Limit(requestsPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Get("/map.jpg", s.mapImage)
	})

	return r
}

func (s *server) index(w gohttp.ResponseWriter, r *gohttp.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Tiling service\n")
}

func (s *server) health(w gohttp.ResponseWriter, r *gohttp.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "OK\n")
}

func (s *server) robotsTxt(w gohttp.ResponseWriter, r *gohttp.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "User-agent: *\nDisallow: /\n")
}

func (s *server) notFound(w gohttp.ResponseWriter, r *gohttp.Request) {
	gohttp.NotFound(w, r)
}

func (s *server) mapImage(w gohttp.ResponseWriter, r *gohttp.Request) {
	req, err := parseViewportRequest(r)
	if err != nil {
		gohttp.Error(w, err.Error(), gohttp.StatusBadRequest)
		return
	}

	img, err := s.builder.Render(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("map render failed")
		if errors.Is(err, staticmap.ErrTooManyTileFailures) {
			gohttp.Error(w, "tile upstream unavailable", gohttp.StatusBadGateway)
			return
		}
		gohttp.Error(w, "map render failed", gohttp.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "max-age=1209600") // 14 days
	w.Header().Set("X-Robots-Tag", "noindex")
	w.Write(img)
}

// parseViewportRequest reads the query parameters, applies the documented
// defaults and validates the result before any tile is fetched.
func parseViewportRequest(r *gohttp.Request) (staticmap.ViewportRequest, error) {
	q := r.URL.Query()

	req := staticmap.ViewportRequest{
		Zoom:     10,
		Width:    600,
		Height:   400,
		Scale:    1,
		Referrer: r.Header.Get("Referer"),
	}

	if q.Get("lat") == "" || q.Get("lng") == "" {
		return req, errors.New("lat and lng query parameters are required")
	}

	var err error
	if req.Lat, err = strconv.ParseFloat(q.Get("lat"), 64); err != nil {
		return req, fmt.Errorf("invalid lat: %w", err)
	}
	if req.Lng, err = strconv.ParseFloat(q.Get("lng"), 64); err != nil {
		return req, fmt.Errorf("invalid lng: %w", err)
	}
	if req.Zoom, err = intParam(q, "zoom", req.Zoom); err != nil {
		return req, err
	}
	if req.Width, err = intParam(q, "width", req.Width); err != nil {
		return req, err
	}
	if req.Height, err = intParam(q, "height", req.Height); err != nil {
		return req, err
	}
	if req.Scale, err = intParam(q, "scale", req.Scale); err != nil {
		return req, err
	}

	if err := validate.Struct(req); err != nil {
		return req, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}
