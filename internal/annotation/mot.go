package annotation

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ironsheep/yolo-dataset-tools/internal/discovery"
	"github.com/ironsheep/yolo-dataset-tools/internal/geometry"
)

// MOTParser reads MOT det/det.txt tables. Rows are "frame,id,x,y,w,h,..." with x,y the
// top-left corner. Every detection gets the same class token.
//
// Each table is read once and shared by all frames of its sequence. A frame without
// rows yields an empty annotation. MOT tables carry no image size.
type MOTParser struct {
	class Token

	mu     sync.Mutex
	tables map[string]*motTable
}

type motTable struct {
	once   sync.Once
	frames map[int][]Object
	err    error

	// orphans are unreadable rows; they are reported with the first frame read from
	// the table.
	orphans  []string
	reported bool
}

// NewMOTParser returns a parser assigning class to every detection.
func NewMOTParser(class Token) *MOTParser {
	return &MOTParser{class: class, tables: make(map[string]*motTable)}
}

// Parse returns the detections of pair.Frame from the table at pair.Annotation.
func (p *MOTParser) Parse(pair discovery.Pair) (*Annotation, error) {
	p.mu.Lock()
	t, ok := p.tables[pair.Annotation]
	if !ok {
		t = &motTable{}
		p.tables[pair.Annotation] = t
	}
	p.mu.Unlock()

	t.once.Do(func() { t.load(pair.Annotation, p.class) })
	if t.err != nil {
		return nil, malformed(pair.Annotation, t.err)
	}

	ann := &Annotation{}
	ann.Objects = append(ann.Objects, t.frames[pair.Frame]...)

	p.mu.Lock()
	if !t.reported {
		t.reported = true
		for _, o := range t.orphans {
			ann.problem("%s: %s", pair.Annotation, o)
		}
	}
	p.mu.Unlock()
	return ann, nil
}

func (t *motTable) load(path string, class Token) {
	lines, err := readLines(path)
	if err != nil {
		t.err = err
		return
	}

	t.frames = make(map[int][]Object)
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 6 {
			t.orphans = append(t.orphans, fmt.Sprintf("line %d: expected at least 6 fields", i+1))
			continue
		}
		frame, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			// Some exports write the frame as a float.
			f, ferr := parseFloat(fields[0])
			if ferr != nil || f < 0 {
				t.orphans = append(t.orphans, fmt.Sprintf("line %d: invalid frame %q", i+1, fields[0]))
				continue
			}
			frame = int(f)
		}
		v, err := parseFloats(fields[2:6])
		if err != nil {
			t.orphans = append(t.orphans, fmt.Sprintf("line %d: %v", i+1, err))
			continue
		}
		t.frames[frame] = append(t.frames[frame], Object{
			Class: class,
			Box:   geometry.TopLeft{Left: v[0], Top: v[1], Width: v[2], Height: v[3]},
		})
	}
}
