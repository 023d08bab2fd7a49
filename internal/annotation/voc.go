package annotation

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/ironsheep/yolo-dataset-tools/internal/discovery"
	"github.com/ironsheep/yolo-dataset-tools/internal/geometry"
)

// VOCParser reads Pascal VOC XML documents.
//
// The size block is required. Objects without a name or bndbox, or with non-numeric
// coordinates, are skipped and recorded as problems. A document without objects is
// valid and yields an empty annotation.
type VOCParser struct{}

type vocDocument struct {
	XMLName xml.Name    `xml:"annotation"`
	Size    *vocSize    `xml:"size"`
	Objects []vocObject `xml:"object"`
}

type vocSize struct {
	Width  string `xml:"width"`
	Height string `xml:"height"`
}

type vocObject struct {
	Name      *string    `xml:"name"`
	Difficult string     `xml:"difficult"`
	BndBox    *vocBndBox `xml:"bndbox"`
}

type vocBndBox struct {
	XMin string `xml:"xmin"`
	YMin string `xml:"ymin"`
	XMax string `xml:"xmax"`
	YMax string `xml:"ymax"`
}

// Parse reads pair.Annotation as a VOC document.
func (VOCParser) Parse(pair discovery.Pair) (*Annotation, error) {
	data, err := os.ReadFile(pair.Annotation)
	if err != nil {
		return nil, malformed(pair.Annotation, err)
	}

	var doc vocDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, malformed(pair.Annotation, err)
	}
	if doc.Size == nil {
		return nil, malformed(pair.Annotation, fmt.Errorf("missing size block"))
	}
	w, err := parseFloat(doc.Size.Width)
	if err != nil {
		return nil, malformed(pair.Annotation, fmt.Errorf("width: %w", err))
	}
	h, err := parseFloat(doc.Size.Height)
	if err != nil {
		return nil, malformed(pair.Annotation, fmt.Errorf("height: %w", err))
	}

	ann := &Annotation{Width: w, Height: h, HasSize: true}
	for i, obj := range doc.Objects {
		if obj.Name == nil || strings.TrimSpace(*obj.Name) == "" {
			ann.problem("object %d: missing name", i)
			continue
		}
		if obj.BndBox == nil {
			ann.problem("object %d (%s): missing bndbox", i, *obj.Name)
			continue
		}
		coords, err := parseFloats([]string{obj.BndBox.XMin, obj.BndBox.YMin, obj.BndBox.XMax, obj.BndBox.YMax})
		if err != nil {
			ann.problem("object %d (%s): %v", i, *obj.Name, err)
			continue
		}
		ann.Objects = append(ann.Objects, Object{
			Class:     NameToken(strings.TrimSpace(*obj.Name)),
			Box:       geometry.Corners{XMin: coords[0], YMin: coords[1], XMax: coords[2], YMax: coords[3]},
			Difficult: strings.TrimSpace(obj.Difficult) == "1",
		})
	}
	return ann, nil
}
