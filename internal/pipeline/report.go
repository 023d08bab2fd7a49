package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ironsheep/yolo-dataset-tools/internal/discovery"
	"github.com/ironsheep/yolo-dataset-tools/internal/geometry"
	"github.com/ironsheep/yolo-dataset-tools/internal/materialize"
	"github.com/ironsheep/yolo-dataset-tools/internal/split"
)

// ReasonUnknownClass is the drop reason for boxes whose class is not in the class map.
const ReasonUnknownClass = "unknown_class"

// Object size buckets, by box area in square pixels.
const (
	smallArea  = 32 * 32
	mediumArea = 96 * 96
)

// ReportFile is the name of the run report written under the target root.
const ReportFile = "report.json"

// Report is the end-of-run summary. Its counts are enough to audit every pair and box
// that did not make it into the dataset.
type Report struct {
	RunID      string    `json:"run_id"`
	Format     string    `json:"format"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Discovery discovery.Summary `json:"discovery"`

	// Converted counts pairs whose annotation source could be read, including those
	// that produced no boxes.
	Converted        int `json:"converted"`
	MalformedSources int `json:"malformed_sources"`
	MalformedObjects int `json:"malformed_objects"`
	DimensionErrors  int `json:"dimension_errors"`

	BoxesConverted int            `json:"boxes_converted"`
	BoxesDropped   map[string]int `json:"boxes_dropped"`

	// Unlisted counts pairs absent from every predefined split list.
	Unlisted int `json:"unlisted,omitempty"`

	// Collisions counts pairs skipped because their target name was already taken in
	// the split. They are also included in the split error counts.
	Collisions int `json:"name_collisions"`

	Splits   map[split.Split]materialize.Counts `json:"splits"`
	Classes  []ClassStats                       `json:"classes"`
	Previews int                                `json:"previews"`
}

// ClassStats counts the converted boxes of one target class by size. Difficult counts
// boxes the source flagged as difficult; they are converted like any other box.
type ClassStats struct {
	ID        int    `json:"id"`
	Name      string `json:"name,omitempty"`
	Count     int    `json:"count"`
	Small     int    `json:"small"`
	Medium    int    `json:"medium"`
	Large     int    `json:"large"`
	Difficult int    `json:"difficult"`
}

func (c *ClassStats) add(area float64) {
	c.Count++
	switch {
	case area < smallArea:
		c.Small++
	case area < mediumArea:
		c.Medium++
	default:
		c.Large++
	}
}

// recordStats are the counters of one converted pair, merged after the worker pool
// drains.
type recordStats struct {
	converted bool
	malformed bool
	problems  int
	dimError  bool
	boxes     int
	dropped   map[string]int
	areas     map[int][]float64
	difficult map[int]int
}

func (s *recordStats) drop(reason string) {
	if s.dropped == nil {
		s.dropped = make(map[string]int)
	}
	s.dropped[reason]++
}

func (s *recordStats) area(classID int, a float64) {
	if s.areas == nil {
		s.areas = make(map[int][]float64)
	}
	s.areas[classID] = append(s.areas[classID], a)
}

func (s *recordStats) markDifficult(classID int) {
	if s.difficult == nil {
		s.difficult = make(map[int]int)
	}
	s.difficult[classID]++
}

func newReport(runID, format string) *Report {
	return &Report{
		RunID:        runID,
		Format:       format,
		StartedAt:    time.Now().UTC(),
		BoxesDropped: make(map[string]int),
		Splits:       make(map[split.Split]materialize.Counts),
	}
}

func (r *Report) merge(stats []recordStats, names map[int]string) {
	classes := make(map[int]*ClassStats)
	for _, s := range stats {
		if s.converted {
			r.Converted++
		}
		if s.malformed {
			r.MalformedSources++
		}
		if s.dimError {
			r.DimensionErrors++
		}
		r.MalformedObjects += s.problems
		r.BoxesConverted += s.boxes
		for reason, n := range s.dropped {
			r.BoxesDropped[reason] += n
		}
		for id, areas := range s.areas {
			c, ok := classes[id]
			if !ok {
				c = &ClassStats{ID: id, Name: names[id]}
				classes[id] = c
			}
			for _, a := range areas {
				c.add(a)
			}
			c.Difficult += s.difficult[id]
		}
	}

	r.Classes = make([]ClassStats, 0, len(classes))
	for _, c := range classes {
		r.Classes = append(r.Classes, *c)
	}
	sort.Slice(r.Classes, func(i, j int) bool { return r.Classes[i].ID < r.Classes[j].ID })
}

// Dropped returns the total number of dropped boxes.
func (r *Report) Dropped() int {
	total := 0
	for _, n := range r.BoxesDropped {
		total += n
	}
	return total
}

// Log writes the summary to logger.
func (r *Report) Log(logger *zap.Logger) {
	fields := []zap.Field{
		zap.String("run_id", r.RunID),
		zap.Int("pairs_found", r.Discovery.PairsFound),
		zap.Int("images_without_annotation", r.Discovery.ImagesWithoutAnnotation),
		zap.Int("annotations_without_image", r.Discovery.AnnotationsWithoutImage),
		zap.Int("converted", r.Converted),
		zap.Int("malformed_sources", r.MalformedSources),
		zap.Int("malformed_objects", r.MalformedObjects),
		zap.Int("boxes_converted", r.BoxesConverted),
		zap.Any("boxes_dropped", r.BoxesDropped),
		zap.Int("name_collisions", r.Collisions),
	}
	for _, s := range split.All {
		c := r.Splits[s]
		fields = append(fields, zap.Any(string(s), c))
	}
	logger.Info("conversion finished", fields...)
}

// Write stores the report as indented JSON at path.
func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// quadArea returns the area of a quad by the shoelace formula.
func quadArea(q geometry.Quad) float64 {
	var sum float64
	for i := 0; i < 4; i++ {
		x1, y1 := q[2*i], q[2*i+1]
		x2, y2 := q[(2*i+2)%8], q[(2*i+3)%8]
		sum += x1*y2 - x2*y1
	}
	return math.Abs(sum) / 2
}
