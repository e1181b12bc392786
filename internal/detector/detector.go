// Package detector finds text regions with a DB-style segmentation model.
package detector

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/overlay-ocr/internal/mempool"
	"github.com/MeKo-Tech/overlay-ocr/internal/onnx"
	"github.com/MeKo-Tech/overlay-ocr/internal/utils"
)

// Region is a detected text quadrilateral in source image coordinates,
// ordered top-left, top-right, bottom-right, bottom-left.
type Region struct {
	Quad  [4]utils.Point
	Score float64
}

// Detector runs the detection model. It is safe for concurrent use when the
// underlying session is.
type Detector struct {
	session onnx.Session
	config  Config
	logger  *slog.Logger
}

// New wraps a detection session.
func New(session onnx.Session, config Config, logger *slog.Logger) (*Detector, error) {
	if session == nil {
		return nil, errors.New("detector session is nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{session: session, config: config, logger: logger}, nil
}

// Session returns the underlying session.
func (d *Detector) Session() onnx.Session { return d.session }

// Config returns the detector configuration.
func (d *Detector) Config() Config { return d.config }

// Detect returns the text regions of img using threshold to binarise the
// probability map. Coordinates are relative to img.Bounds().Min.
func (d *Detector) Detect(img image.Image, threshold float64) ([]Region, error) {
	input, meta, err := Preprocess(img, d.config.MaxSideLen)
	if err != nil {
		return nil, err
	}
	defer mempool.PutFloat32(input.Data)

	out, err := d.session.Run(input)
	if err != nil {
		return nil, fmt.Errorf("detection inference failed: %w", err)
	}
	mapW, mapH, err := probabilityMapSize(out)
	if err != nil {
		return nil, err
	}

	opts := PostProcessOptions{
		Threshold:     threshold,
		BoxThreshold:  d.config.BoxThreshold,
		UnclipRatio:   d.config.UnclipRatio,
		MinArea:       d.config.MinArea,
		MinSide:       d.config.MinSide,
		MaxCandidates: d.config.MaxCandidates,
	}
	regions := PostProcess(out.Data[:mapW*mapH], mapW, mapH, opts)
	scaled := meta.ScaleToSource(regions, mapW, mapH)
	d.logger.Debug("detection complete",
		"regions", len(scaled), "map_w", mapW, "map_h", mapH,
		"src_w", meta.SourceWidth, "src_h", meta.SourceHeight)
	return scaled, nil
}

// probabilityMapSize accepts [1,1,H,W] or [1,H,W] outputs.
func probabilityMapSize(t onnx.Tensor) (int, int, error) {
	s := t.Shape
	var w, h int
	switch len(s) {
	case 4:
		h, w = int(s[2]), int(s[3])
	case 3:
		h, w = int(s[1]), int(s[2])
	default:
		return 0, 0, fmt.Errorf("unexpected detection output rank %d (shape %v)", len(s), s)
	}
	if w <= 0 || h <= 0 || len(t.Data) < w*h {
		return 0, 0, fmt.Errorf("invalid detection output shape %v for %d values", s, len(t.Data))
	}
	return w, h, nil
}

// Close releases the session.
func (d *Detector) Close() error {
	return d.session.Close()
}

// Meta records the geometry of a preprocessed image.
type Meta struct {
	SourceWidth   int
	SourceHeight  int
	ResizedWidth  int
	ResizedHeight int
	PaddedWidth   int
	PaddedHeight  int
}

// Preprocess scales img so its longer side is at most maxSide, pads it to a
// multiple of 32 and normalises with ImageNet statistics into [1,3,H,W]. The
// tensor data comes from mempool and should be returned with PutFloat32.
func Preprocess(img image.Image, maxSide int) (onnx.Tensor, Meta, error) {
	if img == nil {
		return onnx.Tensor{}, Meta{}, &utils.ImageProcessingError{Operation: "detect", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	meta := Meta{SourceWidth: b.Dx(), SourceHeight: b.Dy()}

	resized, err := utils.ResizeToLimit(img, maxSide)
	if err != nil {
		return onnx.Tensor{}, Meta{}, err
	}
	meta.ResizedWidth, meta.ResizedHeight = resized.Bounds().Dx(), resized.Bounds().Dy()

	padded := utils.PadToMultiple(resized, 32)
	meta.PaddedWidth, meta.PaddedHeight = padded.Bounds().Dx(), padded.Bounds().Dy()

	buf := mempool.GetFloat32(3 * meta.PaddedWidth * meta.PaddedHeight)
	data, w, h, err := utils.NormalizeInto(padded, buf, utils.ImageNetMean, utils.ImageNetStd)
	if err != nil {
		mempool.PutFloat32(buf)
		return onnx.Tensor{}, Meta{}, err
	}
	t, err := onnx.NewImageTensor(data, 3, h, w)
	if err != nil {
		mempool.PutFloat32(buf)
		return onnx.Tensor{}, Meta{}, err
	}
	return t, meta, nil
}

// ScaleToSource maps regions from probability-map coordinates back to the
// source image and clamps them to its bounds.
func (m Meta) ScaleToSource(regions []Region, mapW, mapH int) []Region {
	if len(regions) == 0 {
		return nil
	}
	sx := float64(m.PaddedWidth) / float64(mapW) * float64(m.SourceWidth) / float64(m.ResizedWidth)
	sy := float64(m.PaddedHeight) / float64(mapH) * float64(m.SourceHeight) / float64(m.ResizedHeight)
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		pts := utils.ScalePoints(r.Quad[:], sx, sy)
		pts = utils.ClampPoints(pts, float64(m.SourceWidth), float64(m.SourceHeight))
		q := [4]utils.Point(pts)
		if b := utils.BoundingBox(pts); b.Width() < 1 || b.Height() < 1 {
			continue
		}
		out = append(out, Region{Quad: q, Score: r.Score})
	}
	return out
}
