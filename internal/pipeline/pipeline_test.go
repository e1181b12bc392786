package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/overlay-ocr/internal/cache"
	"github.com/MeKo-Tech/overlay-ocr/internal/engine"
	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/tesseract"
	"github.com/MeKo-Tech/overlay-ocr/internal/testutil"
	"github.com/MeKo-Tech/overlay-ocr/internal/tiling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendONNX, cfg.Backend)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, StoreMemory, cfg.Cache.Backend)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "paddle" }},
		{"empty language", func(c *Config) { c.Settings.Language = "" }},
		{"threshold out of range", func(c *Config) { c.Settings.RecognitionThreshold = 1.5 }},
		{"bad tile grid", func(c *Config) { c.Settings.Tiling.TileColumns = 0 }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis without url", func(c *Config) { c.Cache.Backend = StoreRedis }},
		{"negative cache size", func(c *Config) { c.Cache.Size = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	disabled := DefaultConfig()
	disabled.Cache = CacheConfig{Enabled: false, Backend: "anything"}
	assert.NoError(t, disabled.Validate())
}

func TestBuilderFluent(t *testing.T) {
	b := NewBuilder().
		WithModelsDir("/opt/models").
		WithLanguage("en").
		WithThresholds(0.4, 0.6).
		WithGPU(true).
		WithThreads(2).
		WithBackend(BackendTesseract)
	cfg := b.Config()
	assert.Equal(t, "/opt/models", cfg.Engine.ModelsDir)
	assert.Equal(t, "en", cfg.Settings.Language)
	assert.InDelta(t, 0.4, cfg.Settings.DetectionThreshold, 1e-9)
	assert.InDelta(t, 0.6, cfg.Settings.RecognitionThreshold, 1e-9)
	assert.True(t, cfg.Settings.UseGPU)
	assert.True(t, cfg.Engine.GPU.UseGPU)
	assert.Equal(t, 2, cfg.Engine.NumThreads)
	assert.Equal(t, BackendTesseract, cfg.Backend)

	// empty values keep the current ones
	b.WithModelsDir("").WithLanguage("").WithThreads(0).WithBackend("")
	assert.Equal(t, cfg, b.Config())
}

func TestBuildLayerOrder(t *testing.T) {
	base := &testutil.FakeProvider{Language: "ja"}
	p, err := NewBuilder().WithBaseProvider(base).Build()
	require.NoError(t, err)

	top, ok := p.Provider().(*cache.Decorator)
	require.True(t, ok, "outermost layer should be the cache")
	exec, ok := top.Inner().(*tiling.Executor)
	require.True(t, ok, "cache should wrap the tiled executor")
	assert.Same(t, base, exec.Inner())
	assert.Same(t, base, p.Base())
}

func TestBuildWithoutCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Enabled = false
	p, err := NewBuilder().WithConfig(cfg).WithBaseProvider(&testutil.FakeProvider{}).Build()
	require.NoError(t, err)
	_, ok := p.Provider().(*tiling.Executor)
	assert.True(t, ok)
	assert.Nil(t, p.Stats().Cache)
}

func TestBuildSelectsBackend(t *testing.T) {
	p, err := NewBuilder().WithModelsDir(t.TempDir()).Build()
	require.NoError(t, err)
	assert.Equal(t, engine.Name, p.Base().Name())

	p, err = NewBuilder().WithBackend(BackendTesseract).Build()
	require.NoError(t, err)
	assert.Equal(t, tesseract.Name, p.Base().Name())
}

func TestBuildRejectsBadRedisURL(t *testing.T) {
	_, err := NewBuilder().
		WithBaseProvider(&testutil.FakeProvider{}).
		WithCache(CacheConfig{Enabled: true, Backend: StoreRedis, RedisURL: "not a url", TTL: time.Minute}).
		Build()
	assert.Error(t, err)
}

func TestInitializeUnavailable(t *testing.T) {
	no := false
	p, err := NewBuilder().WithBaseProvider(&testutil.FakeProvider{InitializeResult: &no}).Build()
	require.NoError(t, err)
	ok, err := p.Initialize(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInitializeWithMissingModels(t *testing.T) {
	p, err := NewBuilder().WithModelsDir(t.TempDir()).Build()
	require.NoError(t, err)
	ok, err := p.Initialize(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, p.Stats().Initialized)
}

func TestStatsReportCacheHitRate(t *testing.T) {
	base := &testutil.FakeProvider{Language: "ja"}
	p, err := NewBuilder().WithBaseProvider(base).Build()
	require.NoError(t, err)
	ok, err := p.Initialize(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	img := testutil.Gradient(64, 48, 3)
	for range 4 {
		_, err := p.Recognize(context.Background(), ocr.Request{Image: img})
		require.NoError(t, err)
	}
	s := p.Stats()
	assert.Equal(t, "fake", s.Backend)
	assert.Equal(t, "ja", s.Language)
	assert.True(t, s.Initialized)
	assert.Equal(t, int64(1), s.Performance.ProcessedCount)
	require.NotNil(t, s.Cache)
	assert.Equal(t, int64(4), s.Cache.TotalRequests)
	assert.Equal(t, int64(3), s.Cache.Hits)
	assert.InDelta(t, 0.75, s.Cache.HitRate, 1e-9)

	require.NoError(t, p.Close())
	assert.True(t, base.Closed())
}

func sampleOutput(t *testing.T) *ResultOutput {
	t.Helper()
	q := ocr.Quad{{X: 10, Y: 10}, {X: 60, Y: 10}, {X: 60, Y: 30}, {X: 10, Y: 30}}
	roi := image.Rect(0, 0, 200, 100)
	res := &ocr.Result{
		Source:   testutil.Uniform(320, 240, testutil.DialogBackground),
		Language: "ja",
		Elapsed:  1500 * time.Microsecond,
		ROI:      &roi,
		Regions: []ocr.TextRegion{
			testutil.Region("second", image.Rect(10, 50, 80, 70), 0.8),
			{Text: "first", Bounds: image.Rect(10, 10, 60, 30), Confidence: 0.9, Contour: &q, Direction: ocr.DirectionHorizontal},
		},
	}
	out, err := NewResultOutput("shot.png", res)
	require.NoError(t, err)
	return out
}

func TestNewResultOutput(t *testing.T) {
	out := sampleOutput(t)
	assert.Equal(t, 320, out.Width)
	assert.Equal(t, 240, out.Height)
	assert.InDelta(t, 1.5, out.ElapsedMs, 1e-9)
	assert.Equal(t, &Box{X: 0, Y: 0, W: 200, H: 100}, out.ROI)
	require.Len(t, out.Regions, 2)
	assert.Equal(t, Box{X: 10, Y: 50, W: 70, H: 20}, out.Regions[0].Box)
	assert.Len(t, out.Regions[1].Contour, 4)

	SortRegionsTopLeft(out)
	assert.Equal(t, "first\nsecond", ToPlainText(out))

	_, err := NewResultOutput("", nil)
	assert.Error(t, err)
}

func TestWriteResults(t *testing.T) {
	out := sampleOutput(t)

	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, FormatText, []*ResultOutput{out}))
	assert.Equal(t, "second\nfirst\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteResults(&buf, FormatText, []*ResultOutput{out, out}))
	assert.True(t, strings.HasPrefix(buf.String(), "== shot.png ==\n"))

	buf.Reset()
	require.NoError(t, WriteResults(&buf, FormatJSON, []*ResultOutput{out}))
	var decoded ResultOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "ja", decoded.Language)
	assert.Len(t, decoded.Regions, 2)

	buf.Reset()
	require.NoError(t, WriteResults(&buf, FormatYAML, []*ResultOutput{out, out}))
	var list []ResultOutput
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Regions[0].Text)

	assert.Error(t, WriteResults(&buf, "csv", []*ResultOutput{out}))
}

func TestRenderOverlay(t *testing.T) {
	img := testutil.Uniform(100, 80, testutil.DialogBackground)
	q := ocr.Quad{{X: 20, Y: 20}, {X: 60, Y: 20}, {X: 60, Y: 40}, {X: 20, Y: 40}}
	res := &ocr.Result{Regions: []ocr.TextRegion{
		{Text: "x", Bounds: image.Rect(10, 10, 50, 30), Contour: &q},
	}}
	red := color.RGBA{R: 255, A: 255}
	green := color.RGBA{G: 255, A: 255}

	out := RenderOverlay(img, res, red, green)
	require.NotNil(t, out)
	assert.Equal(t, red, out.RGBAAt(10, 10))
	assert.Equal(t, red, out.RGBAAt(49, 29))
	assert.Equal(t, green, out.RGBAAt(60, 30))
	assert.Equal(t, testutil.DialogBackground, out.RGBAAt(80, 70))
	// source untouched
	assert.Equal(t, testutil.DialogBackground, img.RGBAAt(10, 10))

	assert.Nil(t, RenderOverlay(nil, res, red, green))
}

func TestParseHexColor(t *testing.T) {
	fallback := color.RGBA{A: 255}
	tests := []struct {
		in   string
		want color.Color
	}{
		{"#FF0000", color.RGBA{R: 255, A: 255}},
		{"00ff80", color.RGBA{G: 255, B: 128, A: 255}},
		{"", fallback},
		{"#FFF", fallback},
		{"zzzzzz", fallback},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseHexColor(tt.in, fallback), tt.in)
	}
}
