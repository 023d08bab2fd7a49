package annotation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ironsheep/yolo-dataset-tools/internal/discovery"
	"github.com/ironsheep/yolo-dataset-tools/internal/geometry"
)

// DefaultCSVColumns is the SKU-110K column order.
var DefaultCSVColumns = []string{"image", "x1", "y1", "x2", "y2", "class", "image_width", "image_height"}

var requiredCSVColumns = []string{"image", "x1", "y1", "x2", "y2", "class", "image_width", "image_height"}

// CSVOptions describes the manifest layout.
type CSVOptions struct {
	// Columns names each field in order. Columns not in DefaultCSVColumns are ignored.
	// Empty means DefaultCSVColumns.
	Columns []string

	// Header skips the first row of every file.
	Header bool
}

// CSVManifest holds annotations loaded from CSV manifests with one box per row.
//
// Rows are grouped by image. The first row of an image with usable dimensions is
// authoritative; later rows that disagree are recorded as problems but keep their
// boxes.
type CSVManifest struct {
	entries  map[string]*csvGroup
	problems []error
}

type csvGroup struct {
	ann     Annotation
	sizeSet bool
}

// LoadCSVManifest reads and indexes the given manifest files. A file that cannot be
// read or is not valid CSV is a setup error.
func LoadCSVManifest(opts CSVOptions, paths ...string) (*CSVManifest, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("csv format requires at least one manifest")
	}
	index, err := csvColumnIndex(opts.Columns)
	if err != nil {
		return nil, err
	}

	m := &CSVManifest{entries: make(map[string]*csvGroup)}
	for _, path := range paths {
		if err := m.load(path, index, opts.Header); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func csvColumnIndex(columns []string) (map[string]int, error) {
	if len(columns) == 0 {
		columns = DefaultCSVColumns
	}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[strings.ToLower(strings.TrimSpace(c))] = i
	}
	for _, req := range requiredCSVColumns {
		if _, ok := index[req]; !ok {
			return nil, fmt.Errorf("csv columns: missing %q", req)
		}
	}
	return index, nil
}

func (m *CSVManifest) load(path string, index map[string]int, header bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to parse manifest %s: %w", path, err)
		}
		if header && line == 1 {
			continue
		}
		m.addRow(path, line, row, index)
	}
}

func (m *CSVManifest) addRow(path string, line int, row []string, index map[string]int) {
	field := func(name string) (string, bool) {
		i := index[name]
		if i >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}

	image, ok := field("image")
	if !ok || image == "" {
		m.problems = append(m.problems, fmt.Errorf("%s:%d: missing image field", path, line))
		return
	}
	g, ok := m.entries[image]
	if !ok {
		g = &csvGroup{}
		m.entries[image] = g
	}

	var vals [6]float64
	for i, name := range []string{"x1", "y1", "x2", "y2", "image_width", "image_height"} {
		s, ok := field(name)
		if !ok {
			g.ann.problem("%s:%d: missing %s", path, line, name)
			return
		}
		v, err := parseFloat(s)
		if err != nil {
			g.ann.problem("%s:%d: %s: %v", path, line, name, err)
			return
		}
		vals[i] = v
	}
	class, ok := field("class")
	if !ok || class == "" {
		g.ann.problem("%s:%d: missing class", path, line)
		return
	}

	w, h := vals[4], vals[5]
	switch {
	case !g.sizeSet:
		g.ann.Width, g.ann.Height, g.ann.HasSize = w, h, true
		g.sizeSet = true
	case w != g.ann.Width || h != g.ann.Height:
		g.ann.problem("%s:%d: size %gx%g disagrees with %gx%g", path, line, w, h, g.ann.Width, g.ann.Height)
	}

	g.ann.Objects = append(g.ann.Objects, Object{
		Class: ParseToken(class),
		Box:   geometry.Corners{XMin: vals[0], YMin: vals[1], XMax: vals[2], YMax: vals[3]},
	})
}

// Keys returns every image key in the manifest, sorted.
func (m *CSVManifest) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Problems returns rows that could not be attributed to an image.
func (m *CSVManifest) Problems() []error {
	return m.problems
}

// Parse returns the rows stored under pair.Annotation. An image whose rows all failed
// to parse has no usable size and is malformed.
func (m *CSVManifest) Parse(pair discovery.Pair) (*Annotation, error) {
	g, ok := m.entries[pair.Annotation]
	if !ok {
		return nil, malformed(pair.Annotation, fmt.Errorf("no manifest entry"))
	}
	if !g.sizeSet {
		return nil, malformed(pair.Annotation, errors.Join(g.ann.Problems...))
	}
	ann := g.ann
	return &ann, nil
}
