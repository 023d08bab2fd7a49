// Package imaging reads image headers, moves image files into a dataset layout and
// renders label previews.
//
// # Dimensions
//
// Store.Dimensions decodes only the image header (image.DecodeConfig) and caches the
// result by path. JPEG, PNG and GIF are registered from the standard library; BMP, TIFF
// and WebP from golang.org/x/image. The cache is safe for concurrent use, which the
// conversion worker pool relies on.
//
// # File Placement
//
// Store.Copy writes to a temporary file beside the destination and renames it into
// place, so a target never holds a partial image. Store.Move renames when source and
// destination share a filesystem and falls back to copy and remove otherwise.
//
// # Previews
//
// RenderPreview downscales an image so its longest side fits PreviewOptions.MaxSize and
// strokes each overlay polygon in its class color. Overlay points are normalized, so
// the same label renders at any preview size. Colors come from ClassColor, which
// spreads class ids around the HSV hue circle by the golden angle.
//
// # Coordinate System
//
// Normalized points use the YOLO convention: (0,0) is the top-left corner, X grows
// rightward and Y grows downward, both in [0,1] for in-bounds points.
package imaging
