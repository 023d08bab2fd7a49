package materialize

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ironsheep/yolo-dataset-tools/internal/geometry"
	"github.com/ironsheep/yolo-dataset-tools/internal/imaging"
)

// FormatLabels renders boxes as label file content, one line per box with six decimal
// places. Axis-aligned boxes come first, then oriented boxes, each in input order.
func FormatLabels(boxes []geometry.Box, oriented []geometry.OrientedBox) []byte {
	var buf bytes.Buffer
	for _, b := range boxes {
		fmt.Fprintf(&buf, "%d %.6f %.6f %.6f %.6f\n", b.ClassID, b.X, b.Y, b.W, b.H)
	}
	for _, o := range oriented {
		buf.WriteString(strconv.Itoa(o.ClassID))
		for _, v := range o.Quad {
			fmt.Fprintf(&buf, " %.6f", v)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Label is one parsed label line. Values holds four center-form values or eight
// oriented vertex coordinates.
type Label struct {
	ClassID int
	Values  []float64
}

// Oriented reports whether l is an oriented box.
func (l Label) Oriented() bool {
	return len(l.Values) == 8
}

// ReadLabels parses a label file. Blank lines are skipped; any other line that is not
// a valid 5- or 9-field label is an error.
func ReadLabels(path string) ([]Label, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label file: %w", err)
	}
	defer f.Close()

	var labels []Label
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 5 && len(fields) != 9 {
			return nil, fmt.Errorf("%s:%d: expected 5 or 9 fields, got %d", path, line, len(fields))
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: class id: %w", path, line, err)
		}
		values := make([]float64, len(fields)-1)
		for i, s := range fields[1:] {
			if values[i], err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
		}
		labels = append(labels, Label{ClassID: id, Values: values})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read label file: %w", err)
	}
	return labels, nil
}

// Overlays converts labels into preview polygons.
func Overlays(labels []Label) []imaging.Overlay {
	out := make([]imaging.Overlay, 0, len(labels))
	for _, l := range labels {
		o := imaging.Overlay{ClassID: l.ClassID}
		if l.Oriented() {
			for i := 0; i < 8; i += 2 {
				o.Points = append(o.Points, [2]float64{l.Values[i], l.Values[i+1]})
			}
		} else {
			c := geometry.Center{X: l.Values[0], Y: l.Values[1], W: l.Values[2], H: l.Values[3]}.Corners(1, 1)
			o.Points = [][2]float64{{c.XMin, c.YMin}, {c.XMax, c.YMin}, {c.XMax, c.YMax}, {c.XMin, c.YMax}}
		}
		out = append(out, o)
	}
	return out
}

// Preview draws the labels of labelPath over imagePath and saves the result to
// outPath.
func Preview(imagePath, labelPath, outPath string, opts imaging.PreviewOptions) error {
	labels, err := ReadLabels(labelPath)
	if err != nil {
		return err
	}
	img, err := imaging.LoadImage(imagePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create preview directory: %w", err)
	}
	return imaging.SavePreview(outPath, imaging.RenderPreview(img, Overlays(labels), opts))
}

// writeFileAtomic writes data to a temporary file next to path and renames it into
// place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(imaging.FileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
