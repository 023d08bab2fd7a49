package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/disintegration/imaging"
	"github.com/llgcode/draw2d/draw2dimg"
	"github.com/lucasb-eyer/go-colorful"
)

// DefaultPreviewSize is the longest side of a rendered preview in pixels.
const DefaultPreviewSize = 1280

// Overlay is one label drawn on a preview. Points are polygon vertices in normalized
// image coordinates; an axis-aligned box has four.
type Overlay struct {
	ClassID int
	Points  [][2]float64
}

// PreviewOptions controls RenderPreview.
type PreviewOptions struct {
	// MaxSize bounds the longest side of the output. Zero means DefaultPreviewSize.
	MaxSize int

	// LineWidth is the stroke width in output pixels. Zero means 2.
	LineWidth float64
}

// ClassColor returns a stable color for a class id. Hues are spaced by the golden
// angle so neighbouring ids are easy to tell apart.
func ClassColor(classID int) color.Color {
	hue := math.Mod(float64(classID)*137.508, 360)
	if hue < 0 {
		hue += 360
	}
	return colorful.Hsv(hue, 0.85, 0.95)
}

// LoadImage decodes the image at path, applying EXIF orientation.
func LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return img, nil
}

// RenderPreview draws overlays on a downscaled copy of img.
func RenderPreview(img image.Image, overlays []Overlay, opts PreviewOptions) *image.RGBA {
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultPreviewSize
	}
	lineWidth := opts.LineWidth
	if lineWidth <= 0 {
		lineWidth = 2
	}

	b := img.Bounds()
	if b.Dx() > maxSize || b.Dy() > maxSize {
		img = imaging.Fit(img, maxSize, maxSize, imaging.Lanczos)
		b = img.Bounds()
	}

	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Src)

	w, h := float64(b.Dx()), float64(b.Dy())
	gc := draw2dimg.NewGraphicContext(canvas)
	gc.SetLineWidth(lineWidth)
	for _, o := range overlays {
		if len(o.Points) < 2 {
			continue
		}
		gc.SetStrokeColor(ClassColor(o.ClassID))
		gc.MoveTo(o.Points[0][0]*w, o.Points[0][1]*h)
		for _, p := range o.Points[1:] {
			gc.LineTo(p[0]*w, p[1]*h)
		}
		gc.Close()
		gc.Stroke()
	}
	return canvas
}

// SavePreview encodes img to path. The format follows the file extension; only JPEG
// and PNG are written.
func SavePreview(path string, img image.Image) error {
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return fmt.Errorf("unsupported preview file %s: %w", path, err)
	}

	var enc imgio.Encoder
	switch format {
	case imaging.JPEG:
		enc = imgio.JPEGEncoder(90)
	case imaging.PNG:
		enc = imgio.PNGEncoder()
	default:
		return fmt.Errorf("unsupported preview format %s", format)
	}

	if err := imgio.Save(path, img, enc); err != nil {
		return fmt.Errorf("failed to save preview: %w", err)
	}
	return nil
}
