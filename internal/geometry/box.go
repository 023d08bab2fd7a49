package geometry

import (
	"errors"
	"fmt"
	"math"
)

// Rejection errors. Use errors.Is to test for them.
var (
	ErrInvalidImageSize     = errors.New("invalid image size")
	ErrDegenerateBox        = errors.New("degenerate box")
	ErrDegenerateAfterClamp = errors.New("degenerate box after clamping")
)

// Reason keys used in run summaries.
const (
	ReasonInvalidImageSize     = "invalid_image_size"
	ReasonDegenerateBox        = "degenerate_box"
	ReasonDegenerateAfterClamp = "degenerate_after_clamp"
	ReasonUnknown              = "other"
)

// RawBox is a box as read from an annotation source. It is implemented by Corners,
// TopLeft and Quad only.
type RawBox interface {
	rawBox()
}

// Corners is an axis-aligned box in absolute pixel units.
type Corners struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// TopLeft is an axis-aligned box given by its top-left corner and size.
type TopLeft struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Height float64 `json:"height"`
	Width  float64 `json:"width"`
}

// Quad holds the four vertices of an oriented box as x1,y1,x2,y2,x3,y3,x4,y4.
type Quad [8]float64

func (Corners) rawBox() {}
func (TopLeft) rawBox() {}
func (Quad) rawBox()    {}

// Corners converts a top-left box into corner form.
func (t TopLeft) Corners() Corners {
	return Corners{
		XMin: t.Left,
		YMin: t.Top,
		XMax: t.Left + t.Width,
		YMax: t.Top + t.Height,
	}
}

// Center is a box in normalized center form. All fields are in [0,1].
type Center struct {
	X float64 `json:"x_center"`
	Y float64 `json:"y_center"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Box is a normalized axis-aligned box with its target class.
type Box struct {
	ClassID int `json:"class_id"`
	Center
}

// OrientedBox is a normalized oriented box with its target class.
type OrientedBox struct {
	ClassID int  `json:"class_id"`
	Quad    Quad `json:"quad"`
}

// Corners reconstructs absolute corner coordinates for an image of the given size.
func (c Center) Corners(imgW, imgH float64) Corners {
	return Corners{
		XMin: (c.X - c.W/2) * imgW,
		YMin: (c.Y - c.H/2) * imgH,
		XMax: (c.X + c.W/2) * imgW,
		YMax: (c.Y + c.H/2) * imgH,
	}
}

// Area returns the box area in square pixels for an image of the given size.
func (c Center) Area(imgW, imgH float64) float64 {
	return c.W * imgW * c.H * imgH
}

// FromCorners normalizes an axis-aligned box against an image of imgW x imgH pixels.
//
// The box is rejected when xmax <= xmin or ymax <= ymin. Otherwise it is clamped to the
// image bounds and checked again, so a box lying entirely outside the image is rejected
// with ErrDegenerateAfterClamp rather than ErrDegenerateBox.
func FromCorners(imgW, imgH float64, c Corners) (Center, error) {
	if !validSize(imgW, imgH) {
		return Center{}, fmt.Errorf("%w: %gx%g", ErrInvalidImageSize, imgW, imgH)
	}
	if hasNaN(c.XMin, c.YMin, c.XMax, c.YMax) || c.XMax <= c.XMin || c.YMax <= c.YMin {
		return Center{}, fmt.Errorf("%w: (%g,%g)-(%g,%g)", ErrDegenerateBox, c.XMin, c.YMin, c.XMax, c.YMax)
	}

	xmin := math.Max(0, c.XMin)
	ymin := math.Max(0, c.YMin)
	xmax := math.Min(imgW, c.XMax)
	ymax := math.Min(imgH, c.YMax)
	if xmax <= xmin || ymax <= ymin {
		return Center{}, fmt.Errorf("%w: (%g,%g)-(%g,%g) in %gx%g",
			ErrDegenerateAfterClamp, c.XMin, c.YMin, c.XMax, c.YMax, imgW, imgH)
	}

	// Final clamp absorbs floating-point overshoot only.
	return Center{
		X: clamp01((xmin + xmax) / 2 / imgW),
		Y: clamp01((ymin + ymax) / 2 / imgH),
		W: clamp01((xmax - xmin) / imgW),
		H: clamp01((ymax - ymin) / imgH),
	}, nil
}

// FromTopLeft normalizes a top/left/height/width box. Out-of-bounds boxes are clamped
// first and rejected only if clamping collapses them.
func FromTopLeft(imgW, imgH float64, t TopLeft) (Center, error) {
	return FromCorners(imgW, imgH, t.Corners())
}

// FromQuad divides each vertex by the image size. Vertices are not clamped.
func FromQuad(imgW, imgH float64, q Quad) (Quad, error) {
	if !validSize(imgW, imgH) {
		return Quad{}, fmt.Errorf("%w: %gx%g", ErrInvalidImageSize, imgW, imgH)
	}
	var out Quad
	for i := 0; i < len(q); i += 2 {
		out[i] = q[i] / imgW
		out[i+1] = q[i+1] / imgH
	}
	return out, nil
}

// Normalized is the result of Normalize. Quad is set when Oriented is true, Center
// otherwise.
type Normalized struct {
	Center   Center
	Quad     Quad
	Oriented bool
}

// Normalize dispatches on the shape of raw.
func Normalize(imgW, imgH float64, raw RawBox) (Normalized, error) {
	switch b := raw.(type) {
	case Corners:
		c, err := FromCorners(imgW, imgH, b)
		return Normalized{Center: c}, err
	case TopLeft:
		c, err := FromTopLeft(imgW, imgH, b)
		return Normalized{Center: c}, err
	case Quad:
		q, err := FromQuad(imgW, imgH, b)
		return Normalized{Quad: q, Oriented: true}, err
	default:
		return Normalized{}, fmt.Errorf("unsupported box type %T", raw)
	}
}

// Reason returns the summary key for a rejection error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidImageSize):
		return ReasonInvalidImageSize
	case errors.Is(err, ErrDegenerateAfterClamp):
		return ReasonDegenerateAfterClamp
	case errors.Is(err, ErrDegenerateBox):
		return ReasonDegenerateBox
	default:
		return ReasonUnknown
	}
}

func validSize(w, h float64) bool {
	return w > 0 && h > 0 && !math.IsInf(w, 0) && !math.IsInf(h, 0)
}

func hasNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
