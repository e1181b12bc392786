package cmd

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/overlay-ocr/internal/config"
	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"github.com/MeKo-Tech/overlay-ocr/internal/pipeline"
	"github.com/MeKo-Tech/overlay-ocr/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageCommand(t *testing.T) {
	assert.NotNil(t, imageCmd)
	assert.True(t, strings.HasPrefix(imageCmd.Use, "image"))
	assert.NotEmpty(t, imageCmd.Short)
	assert.NotEmpty(t, imageCmd.Long)
}

func TestImageCommandFlags(t *testing.T) {
	for _, name := range []string{"format", "output", "roi", "language", "overlay-dir", "no-tiling", "gpu"} {
		assert.NotNil(t, imageCmd.Flags().Lookup(name), "flag %s", name)
	}
}

func TestImageCommandWithoutFile(t *testing.T) {
	_, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"image"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input files")
}

func TestImageCommandWithNonExistentFile(t *testing.T) {
	err := imageCmd.RunE(imageCmd, []string{"/non/existent/file.png"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read")
}

func TestImageCommandUnsupportedFormat(t *testing.T) {
	err := imageCmd.RunE(imageCmd, []string{"notes.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported image format")
}

func TestImageCommandMissingModels(t *testing.T) {
	dir := t.TempDir()
	img := testutil.SavePNG(t, testutil.Gradient(32, 32, 1), dir, "shot.png")

	_, err := executeCommandAndCaptureOutput(t, rootCmd,
		[]string{"image", img, "--models-dir", filepath.Join(dir, "no-models")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestSaveOverlay(t *testing.T) {
	dir := t.TempDir()
	img := testutil.Uniform(40, 20, color.White)
	res := &ocr.Result{
		Source:  img,
		Regions: []ocr.TextRegion{testutil.Region("hi", image.Rect(5, 5, 20, 15), 0.9)},
	}

	out, err := saveOverlay(filepath.Join(dir, "ov"), "/screens/frame.png", img, res, config.DefaultConfig().Output)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ov", "frame_overlay.png"), out)
	_, err = os.Stat(out)
	require.NoError(t, err)
}

func TestWriteOutputs(t *testing.T) {
	outs := []*pipeline.ResultOutput{{
		Source:   "a.png",
		Language: "ja",
		Regions:  []pipeline.RegionOutput{{Text: "hello"}},
	}}

	var stdout bytes.Buffer
	require.NoError(t, writeOutputs(&stdout, config.OutputConfig{Format: "text"}, outs))
	assert.Equal(t, "hello\n", stdout.String())

	file := filepath.Join(t.TempDir(), "out.json")
	stdout.Reset()
	require.NoError(t, writeOutputs(&stdout, config.OutputConfig{Format: "json", File: file}, outs))
	assert.Contains(t, stdout.String(), "Results written to")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var got pipeline.ResultOutput
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "a.png", got.Source)
	assert.Equal(t, "hello", got.Regions[0].Text)
}
