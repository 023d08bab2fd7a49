package annotation

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ironsheep/yolo-dataset-tools/internal/discovery"
	"github.com/ironsheep/yolo-dataset-tools/internal/geometry"
)

// OrientedParser reads oriented box text files with lines of the form
//
//	x1 y1 x2 y2 x3 y3 x4 y4 class [difficulty]
//
// DOTA files start with an imagesource and a gsd line; set HeaderLines to 2 for them.
// The parser never guesses whether a header is present.
type OrientedParser struct {
	HeaderLines int
}

// Parse reads pair.Annotation. Lines with fewer than nine fields or non-numeric
// vertices are recorded as problems.
func (p OrientedParser) Parse(pair discovery.Pair) (*Annotation, error) {
	lines, err := readLines(pair.Annotation)
	if err != nil {
		return nil, malformed(pair.Annotation, err)
	}

	ann := &Annotation{}
	for i, line := range lines {
		if i < p.HeaderLines {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 9 {
			ann.problem("line %d: expected at least 9 fields, got %d", i+1, len(fields))
			continue
		}
		coords, err := parseFloats(fields[:8])
		if err != nil {
			ann.problem("line %d: %v", i+1, err)
			continue
		}
		var q geometry.Quad
		copy(q[:], coords)
		obj := Object{Class: ParseToken(fields[8]), Box: q}
		if len(fields) > 9 {
			obj.Difficult = strings.TrimSpace(fields[9]) != "0"
		}
		ann.Objects = append(ann.Objects, obj)
	}
	return ann, nil
}

// CornersParser reads AI-TOD style text files with lines "x1 y1 x2 y2 class" in
// absolute pixels. The files carry no image size.
type CornersParser struct{}

// Parse reads pair.Annotation.
func (CornersParser) Parse(pair discovery.Pair) (*Annotation, error) {
	lines, err := readLines(pair.Annotation)
	if err != nil {
		return nil, malformed(pair.Annotation, err)
	}

	ann := &Annotation{}
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 5 {
			ann.problem("line %d: expected 5 fields, got %d", i+1, len(fields))
			continue
		}
		c, err := parseFloats(fields[:4])
		if err != nil {
			ann.problem("line %d: %v", i+1, err)
			continue
		}
		ann.Objects = append(ann.Objects, Object{
			Class: ParseToken(fields[4]),
			Box:   geometry.Corners{XMin: c[0], YMin: c[1], XMax: c[2], YMax: c[3]},
		})
	}
	return ann, nil
}

// YOLOParser reads existing YOLO label files so they can be re-validated and
// re-split. Five-field lines are center-form boxes and nine-field lines are oriented
// boxes, both already normalized.
//
// The annotation is reported on a 1x1 image, so the geometry layer clamps and
// re-normalizes the boxes without knowing the pixel size.
type YOLOParser struct{}

// Parse reads pair.Annotation.
func (YOLOParser) Parse(pair discovery.Pair) (*Annotation, error) {
	lines, err := readLines(pair.Annotation)
	if err != nil {
		return nil, malformed(pair.Annotation, err)
	}

	ann := &Annotation{Width: 1, Height: 1, HasSize: true}
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 5 && len(fields) != 9 {
			ann.problem("line %d: expected 5 or 9 fields, got %d", i+1, len(fields))
			continue
		}
		tok := ParseToken(fields[0])
		if !tok.IsID {
			ann.problem("line %d: class %q is not an integer", i+1, fields[0])
			continue
		}
		vals, err := parseFloats(fields[1:])
		if err != nil {
			ann.problem("line %d: %v", i+1, err)
			continue
		}

		var box geometry.RawBox
		if len(vals) == 4 {
			box = geometry.Center{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}.Corners(1, 1)
		} else {
			var q geometry.Quad
			copy(q[:], vals)
			box = q
		}
		ann.Objects = append(ann.Objects, Object{Class: tok, Box: box})
	}
	return ann, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}
