package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"sort"
	"strings"

	"github.com/MeKo-Tech/overlay-ocr/internal/ocr"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Box is an axis-aligned rectangle in x/y/width/height form.
type Box struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	W int `json:"w" yaml:"w"`
	H int `json:"h" yaml:"h"`
}

// BoxOf converts a rectangle.
func BoxOf(r image.Rectangle) Box {
	return Box{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// RegionOutput is the serialised form of a text region.
type RegionOutput struct {
	Text       string        `json:"text" yaml:"text"`
	Box        Box           `json:"box" yaml:"box"`
	Confidence float64       `json:"confidence" yaml:"confidence"`
	Direction  ocr.Direction `json:"direction" yaml:"direction"`
	Contour    []ocr.Point   `json:"contour,omitempty" yaml:"contour,omitempty"`
}

// ResultOutput is the serialised form of a recognition result.
type ResultOutput struct {
	Source    string         `json:"source,omitempty" yaml:"source,omitempty"`
	Width     int            `json:"width" yaml:"width"`
	Height    int            `json:"height" yaml:"height"`
	Language  string         `json:"language" yaml:"language"`
	ElapsedMs float64        `json:"elapsed_ms" yaml:"elapsed_ms"`
	ROI       *Box           `json:"roi,omitempty" yaml:"roi,omitempty"`
	Regions   []RegionOutput `json:"regions" yaml:"regions"`
}

// NewResultOutput converts res. source names the input (a file name or
// upload name) and may be empty.
func NewResultOutput(source string, res *ocr.Result) (*ResultOutput, error) {
	if res == nil {
		return nil, errors.New("nil result")
	}
	out := &ResultOutput{
		Source:    source,
		Language:  res.Language,
		ElapsedMs: float64(res.Elapsed.Microseconds()) / 1000,
		Regions:   make([]RegionOutput, 0, len(res.Regions)),
	}
	if res.Source != nil {
		b := res.Source.Bounds()
		out.Width, out.Height = b.Dx(), b.Dy()
	}
	if res.ROI != nil {
		roi := BoxOf(*res.ROI)
		out.ROI = &roi
	}
	for _, r := range res.Regions {
		ro := RegionOutput{
			Text:       r.Text,
			Box:        BoxOf(r.Bounds),
			Confidence: r.Confidence,
			Direction:  r.Direction,
		}
		if r.Contour != nil {
			ro.Contour = append([]ocr.Point(nil), r.Contour[:]...)
		}
		out.Regions = append(out.Regions, ro)
	}
	return out, nil
}

// SortRegionsTopLeft sorts regions by top-left (y, then x) for readable ordering.
func SortRegionsTopLeft(out *ResultOutput) {
	sort.SliceStable(out.Regions, func(i, j int) bool {
		if out.Regions[i].Box.Y == out.Regions[j].Box.Y {
			return out.Regions[i].Box.X < out.Regions[j].Box.X
		}
		return out.Regions[i].Box.Y < out.Regions[j].Box.Y
	})
}

// ToPlainText extracts text lines from regions in their current order.
func ToPlainText(out *ResultOutput) string {
	if out == nil || len(out.Regions) == 0 {
		return ""
	}
	lines := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		if t := strings.TrimSpace(r.Text); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}

// WriteResults writes outs to w in format. A single result is written as an
// object, several as a list.
func WriteResults(w io.Writer, format string, outs []*ResultOutput) error {
	switch strings.ToLower(format) {
	case FormatText, "":
		for i, o := range outs {
			if len(outs) > 1 {
				if i > 0 {
					if _, err := fmt.Fprintln(w); err != nil {
						return err
					}
				}
				if _, err := fmt.Fprintf(w, "== %s ==\n", o.Source); err != nil {
					return err
				}
			}
			if text := ToPlainText(o); text != "" {
				if _, err := fmt.Fprintln(w, text); err != nil {
					return err
				}
			}
		}
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(outs) == 1 {
			return enc.Encode(outs[0])
		}
		return enc.Encode(outs)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		if len(outs) == 1 {
			return enc.Encode(outs[0])
		}
		return enc.Encode(outs)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
