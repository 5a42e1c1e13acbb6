package staticmap

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tilePNG renders a uniform 256x256 PNG tile for test upstreams.
func tilePNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testTiles(n int) []maptile.Tile {
	tiles := make([]maptile.Tile, n)
	for i := range tiles {
		tiles[i] = maptile.New(uint32(i), 0, 10)
	}
	return tiles
}

func newTestFetcher(upstream string, permits int64, opts ...FetcherOption) *Fetcher {
	return NewFetcher(upstream+"/{s}/{z}/{x}/{y}.png", []string{"a", "b", "c"}, permits, 5*time.Second, opts...)
}

func TestFetchAll_OutcomesMatchInputOrder(t *testing.T) {
	tile := tilePNG(t, color.White)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tile)
	}))
	defer ts.Close()

	tiles := testTiles(5)
	outcomes := newTestFetcher(ts.URL, 8).FetchAll(context.Background(), tiles, "")

	require.Len(t, outcomes, 5)
	for i, o := range outcomes {
		assert.Equal(t, tiles[i], o.Tile)
		assert.True(t, o.OK())
		assert.Equal(t, tile, o.Data)
		assert.Greater(t, o.Elapsed, time.Duration(0))
	}
}

func TestFetchAll_PartialFailureDoesNotAbortBatch(t *testing.T) {
	tile := tilePNG(t, color.White)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/3/3.png") {
			http.Error(w, "tile gone", http.StatusNotFound)
			return
		}
		w.Write(tile)
	}))
	defer ts.Close()

	tiles := []maptile.Tile{
		maptile.New(1, 1, 10),
		maptile.New(3, 3, 10),
		maptile.New(2, 2, 10),
	}
	outcomes := newTestFetcher(ts.URL, 8).FetchAll(context.Background(), tiles, "")

	require.Len(t, outcomes, 3)
	assert.True(t, outcomes[0].OK())
	assert.True(t, outcomes[2].OK())

	failed := outcomes[1]
	require.False(t, failed.OK())
	assert.Equal(t, http.StatusNotFound, failed.Status)
	assert.Nil(t, failed.Data)
}

func TestFetchAll_TransportErrorIsRecorded(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // connection refused from here on

	outcomes := newTestFetcher(ts.URL, 8).FetchAll(context.Background(), testTiles(2), "")
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.False(t, o.OK())
		assert.Zero(t, o.Status)
	}
}

func TestFetchAll_ConcurrencyBoundedByPermits(t *testing.T) {
	const permits = 4

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	tile := tilePNG(t, color.White)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()

		w.Write(tile)
	}))
	defer ts.Close()

	outcomes := newTestFetcher(ts.URL, permits).FetchAll(context.Background(), testTiles(32), "")

	require.Len(t, outcomes, 32)
	for _, o := range outcomes {
		require.True(t, o.OK())
	}
	assert.LessOrEqual(t, maxInFlight, permits)
}

func TestFetchAll_RefererHeader(t *testing.T) {
	var mu sync.Mutex
	var referers []string

	tile := tilePNG(t, color.White)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		referers = append(referers, r.Header.Get("Referer"))
		mu.Unlock()
		w.Write(tile)
	}))
	defer ts.Close()

	f := newTestFetcher(ts.URL, 8)

	f.FetchAll(context.Background(), testTiles(1), "https://example.com/page")
	f.FetchAll(context.Background(), testTiles(1), "")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, referers, 2)
	assert.Equal(t, "https://example.com/page", referers[0])
	assert.Empty(t, referers[1], "no Referer header without a caller-supplied referrer")
}

func TestFetchAll_UserAgentAndShard(t *testing.T) {
	var mu sync.Mutex
	var agents, shards []string

	tile := tilePNG(t, color.White)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		shards = append(shards, r.URL.Path[1:2])
		mu.Unlock()
		w.Write(tile)
	}))
	defer ts.Close()

	f := newTestFetcher(ts.URL, 8, WithUserAgent("test-agent/1.0"))
	outcomes := f.FetchAll(context.Background(), testTiles(10), "")
	require.Len(t, outcomes, 10)

	mu.Lock()
	defer mu.Unlock()
	for i := range agents {
		assert.Equal(t, "test-agent/1.0", agents[i])
		assert.Contains(t, []string{"a", "b", "c"}, shards[i])
	}
}

func TestFetchAll_ProgressCallback(t *testing.T) {
	tile := tilePNG(t, color.White)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tile)
	}))
	defer ts.Close()

	var mu sync.Mutex
	calls := 0
	lastTotal := 0
	f := newTestFetcher(ts.URL, 8, WithProgress(func(done, total int) {
		mu.Lock()
		calls++
		lastTotal = total
		mu.Unlock()
	}))

	f.FetchAll(context.Background(), testTiles(7), "")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 7, calls)
	assert.Equal(t, 7, lastTotal)
}

func TestTileURL(t *testing.T) {
	f := NewFetcher("https://{s}.tile.example.org/{z}/{x}/{y}.png", []string{"a"}, 1, time.Second)
	url := f.tileURL(maptile.New(511, 340, 10))
	assert.Equal(t, "https://a.tile.example.org/10/511/340.png", url)
}

func TestTileURL_NoShards(t *testing.T) {
	f := NewFetcher("https://tiles.example.org/{z}/{x}/{y}.png", nil, 1, time.Second)
	url := f.tileURL(maptile.New(1, 2, 3))
	assert.Equal(t, "https://tiles.example.org/3/1/2.png", url)
}
