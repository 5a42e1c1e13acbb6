package staticmap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tilesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staticmap_tiles_fetched_total",
		Help: "Tile fetches by result (ok, failed, error).",
	}, []string{"result"})

	tileFetchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "staticmap_tile_fetch_seconds",
		Help:    "Per-tile fetch duration including permit wait.",
		Buckets: prometheus.DefBuckets,
	})

	rendersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staticmap_renders_total",
		Help: "Completed map renders.",
	})
)
