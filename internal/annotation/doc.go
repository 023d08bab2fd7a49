// Package annotation reads source annotation formats into a common representation and
// maps source class labels to target class ids.
//
// # Formats
//
// A Format value selects the Parser implementation at configuration time. Formats are
// never detected from file contents.
//
//   - voc: one Pascal VOC XML document per image
//   - json: a JSON manifest covering many images (AU-Air list or name-keyed dictionary)
//   - csv: one or more CSV manifests, rows grouped by image
//   - mot: MOT det/det.txt tables, one per sequence
//   - dota: oriented boxes, one text file per image with a two-line header
//   - oriented: oriented boxes without header
//   - corners: "x1 y1 x2 y2 class" text, one file per image
//   - yolo: already normalized YOLO label files, re-validated on the way through
//
// # Failure Granularity
//
// A document that cannot be read as a whole (bad markup, missing size block) fails
// with an error wrapping ErrMalformedSource. A single unusable object inside an
// otherwise valid document is skipped and recorded in Annotation.Problems, so sibling
// objects are still converted.
//
// # Class Mapping
//
// Objects carry a Token: either a class name or a source integer id. A ClassMap turns
// tokens into target ids. Unknown tokens fail with ErrUnknownClass.
package annotation
