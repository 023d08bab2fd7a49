// Package geometry converts annotation boxes from absolute pixel coordinates into the
// image-relative center form used by YOLO label files.
//
// All functions in this package are pure and safe for concurrent use.
//
// # Coordinate System
//
// Source boxes use pixel coordinates with (0,0) at the top-left corner, X increasing
// rightward and Y increasing downward. Three source shapes are supported:
//   - Corners: (xmin, ymin, xmax, ymax)
//   - TopLeft: (top, left, height, width)
//   - Quad: four (x, y) vertices of an oriented box
//
// Normalized output is expressed as (x_center, y_center, width, height), each divided by
// the image width or height and constrained to [0,1].
//
// # Rejection
//
// A box is never silently discarded. Every rejection is reported as an error wrapping
// one of:
//   - ErrInvalidImageSize: image width or height is not positive
//   - ErrDegenerateBox: xmax <= xmin or ymax <= ymin before clamping
//   - ErrDegenerateAfterClamp: the box collapsed when clamped to the image bounds
//
// Reason maps these errors to stable keys for run summaries.
//
// # Oriented Boxes
//
// Quad vertices are divided by the image size but are not clamped to the image bounds.
// The axis-aligned path clamps; the oriented path does not. Source data for oriented
// formats is assumed to be pre-validated.
package geometry
