package staticmap

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultURLTemplate points at the OpenStreetMap tile mirrors. {s} is
	// replaced with a shard name, {z}/{x}/{y} with the tile coordinate.
	DefaultURLTemplate = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"

	// DefaultUserAgent identifies this client to the tile upstream, per the
	// OSM tile usage policy.
	DefaultUserAgent = "go-staticmap/1.0 (+https://github.com/osmview/go-staticmap)"

	// DefaultFetchPermits bounds concurrent outbound tile requests for the
	// whole process, not per request.
	DefaultFetchPermits = 32

	maxDiagnosticBody = 200
)

// DefaultShards are the equivalent OSM mirror hostname prefixes. Content is
// identical across shards; picking one at random only spreads load.
var DefaultShards = []string{"a", "b", "c"}

// Fetcher downloads map tiles from a sharded upstream. A single Fetcher is
// shared by all concurrent renders so that its permit gate bounds the
// process-wide number of in-flight tile requests.
type Fetcher struct {
	client      *http.Client
	urlTemplate string
	shards      []string
	userAgent   string
	sem         *semaphore.Weighted
	progress    func(done, total int)
}

// FetcherOption adjusts a Fetcher at construction time.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = client }
}

// WithUserAgent overrides the User-Agent sent to the tile upstream.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithProgress registers a callback invoked after each tile of a batch
// completes, successful or not. Callbacks run concurrently from fetch
// goroutines.
func WithProgress(fn func(done, total int)) FetcherOption {
	return func(f *Fetcher) { f.progress = fn }
}

// NewFetcher builds a Fetcher with a permit gate of the given capacity.
// permits <= 0 falls back to DefaultFetchPermits.
func NewFetcher(urlTemplate string, shards []string, permits int64, timeout time.Duration, opts ...FetcherOption) *Fetcher {
	if permits <= 0 {
		permits = DefaultFetchPermits
	}

	f := &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: int(permits),
			},
		},
		urlTemplate: urlTemplate,
		shards:      shards,
		userAgent:   DefaultUserAgent,
		sem:         semaphore.NewWeighted(permits),
	}

	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll retrieves every tile concurrently and returns one outcome per
// tile, in input order. Fetch failures are recorded in the outcomes rather
// than returned; the batch always waits for all of them.
func (f *Fetcher) FetchAll(ctx context.Context, tiles []maptile.Tile, referrer string) []Outcome {
	outcomes := make([]Outcome, len(tiles))

	var done atomic.Int64
	var wg sync.WaitGroup
	for i, tile := range tiles {
		wg.Add(1)
		go func(i int, tile maptile.Tile) {
			defer wg.Done()
			outcomes[i] = f.fetchOne(ctx, tile, referrer)
			if f.progress != nil {
				f.progress(int(done.Add(1)), len(tiles))
			}
		}(i, tile)
	}
	wg.Wait()

	return outcomes
}

func (f *Fetcher) fetchOne(ctx context.Context, tile maptile.Tile, referrer string) Outcome {
	out := Outcome{Tile: tile}
	url := f.tileURL(tile)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		out.Err = err
		return out
	}
	req.Header.Set("User-Agent", f.userAgent)
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}

	// Elapsed includes time spent waiting for a permit, matching what a
	// caller of the upstream actually experiences under load.
	start := time.Now()
	if err := f.sem.Acquire(ctx, 1); err != nil {
		out.Err = fmt.Errorf("waiting for fetch permit: %w", err)
		return out
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.sem.Release(1)
		out.Err = fmt.Errorf("fetching %s: %w", url, err)
		tilesFetched.WithLabelValues("error").Inc()
		return out
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	f.sem.Release(1)

	out.Elapsed = time.Since(start)
	tileFetchSeconds.Observe(out.Elapsed.Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out.Status = resp.StatusCode
		out.Err = fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
		snippet := body
		if len(snippet) > maxDiagnosticBody {
			snippet = snippet[:maxDiagnosticBody]
		}
		log.Warn().
			Int("status", resp.StatusCode).
			Str("url", url).
			Str("body", string(snippet)).
			Interface("response_headers", resp.Header).
			Msg("tile fetch failed")
		tilesFetched.WithLabelValues("failed").Inc()
		return out
	}
	if readErr != nil {
		out.Err = fmt.Errorf("reading tile body from %s: %w", url, readErr)
		tilesFetched.WithLabelValues("error").Inc()
		return out
	}

	out.Data = body
	tilesFetched.WithLabelValues("ok").Inc()
	return out
}

// tileURL fills the URL template for one tile, picking a shard uniformly at
// random. Shards are mirrors of identical content so the choice carries no
// correctness weight.
func (f *Fetcher) tileURL(tile maptile.Tile) string {
	shard := ""
	if len(f.shards) > 0 {
		shard = f.shards[rand.Intn(len(f.shards))]
	}

	return strings.NewReplacer(
		"{s}", shard,
		"{z}", strconv.Itoa(int(tile.Z)),
		"{x}", strconv.Itoa(int(tile.X)),
		"{y}", strconv.Itoa(int(tile.Y)),
	).Replace(f.urlTemplate)
}
