package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contestboard/internal/config"
)

func bannerPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func listingSite(t *testing.T) *httptest.Server {
	t.Helper()
	pngBytes := bannerPNG(t)
	future := time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339)
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)

	mux := http.NewServeMux()
	mux.HandleFunc("/contest/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body><div id="cur-contests">
<div class="contest-banner"><a href="/contest/robots/"><img alt="Robots Contest" src="/banners/robots.png"></a>
<span class="contest-meta-deadline" data-deadline="%s"></span><span class="contest-meta-count">12 entries</span></div>
<div class="contest-banner"><a href="/contest/old/"><img alt="Old" src="/banners/robots.png"></a>
<span class="contest-meta-deadline" data-deadline="%s"></span></div>
</div></body></html>`, future, past)
	})
	mux.HandleFunc("/banners/robots.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, sourceURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Source.URL = sourceURL
	cfg.Source.RespectRobots = false
	cfg.Storage.Backend = "memory"
	cfg.HTTP.ImageRPS = 0
	cfg.HTTP.MaxRetries = 0
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	return cfg
}

func TestBuildAndRunOnce(t *testing.T) {
	site := listingSite(t)
	ctx := context.Background()

	app, err := Build(ctx, testConfig(t, site.URL+"/contest/"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	snap, meta, err := app.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, 1, meta.ContestCount)
	assert.Equal(t, snap.BuildID(), meta.BuildID)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/contests", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var contests []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contests))
	require.Len(t, contests, 1)
	assert.Equal(t, "Robots Contest", contests[0]["name"])
	assert.Equal(t, site.URL+"/contest/robots/", contests[0]["url"])
	assert.Equal(t, "images/RobotsContest.bmp", contests[0]["contest_graphic_uri"])
	assert.EqualValues(t, 2, contests[0]["days_until"])

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/RobotsContest.bmp", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/bmp", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("BM"), rec.Body.Bytes()[:2])

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunOnceFailureKeepsPreviousSnapshot(t *testing.T) {
	site := listingSite(t)
	ctx := context.Background()

	app, err := Build(ctx, testConfig(t, site.URL+"/missing/"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	_, _, err = app.RunOnce(ctx)
	require.Error(t, err)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/meta", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Nil(t, meta["last_update"])
	assert.EqualValues(t, 0, meta["contest_count"])
	assert.NotEmpty(t, meta["last_error"])
	assert.Equal(t, "failed", meta["state"])
}

func TestBuildWithLocalStorageCloseIsIdempotent(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/")
	cfg.Storage.Backend = "local"
	cfg.Images.Dir = t.TempDir()
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))
	require.NoError(t, app.Close(context.Background()))
}

func TestImageOptionsCrop(t *testing.T) {
	t.Parallel()

	opts := imageOptions(config.ImagesConfig{Width: 10, Height: 8, PaletteSize: 16})
	assert.True(t, opts.Crop.Empty())

	opts = imageOptions(config.ImagesConfig{
		Width: 10, Height: 8, PaletteSize: 16,
		Crop: config.CropConfig{X: 5, Y: 6, Width: 20, Height: 10},
	})
	assert.Equal(t, image.Rect(5, 6, 25, 16), opts.Crop)
}
