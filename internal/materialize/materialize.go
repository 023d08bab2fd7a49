package materialize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/yolo-dataset-tools/internal/geometry"
	"github.com/ironsheep/yolo-dataset-tools/internal/imaging"
	"github.com/ironsheep/yolo-dataset-tools/internal/logging"
	"github.com/ironsheep/yolo-dataset-tools/internal/split"
)

// Mode selects how image bytes reach the target layout.
type Mode string

const (
	ModeCopy Mode = "copy"
	ModeMove Mode = "move"
)

// ParseMode returns the Mode named by s.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCopy, ModeMove:
		return m, nil
	default:
		return "", fmt.Errorf("unknown transfer mode %q", s)
	}
}

// Item is one image and its normalized labels, ready to be written.
type Item struct {
	// ImagePath is the source image.
	ImagePath string

	// Name is the image file name in the target layout.
	Name string

	// Stem names the label file.
	Stem string

	Boxes    []geometry.Box
	Oriented []geometry.OrientedBox
}

// Counts summarizes one Materialize call.
type Counts struct {
	Images int `json:"images"`
	Labels int `json:"labels"`
	Errors int `json:"errors"`
}

// Add returns the sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{Images: c.Images + o.Images, Labels: c.Labels + o.Labels, Errors: c.Errors + o.Errors}
}

// Options configures a Materializer.
type Options struct {
	Root    string
	Mode    Mode
	Workers int
	Logger  *zap.Logger
}

// Materializer places images and labels under a dataset root.
type Materializer struct {
	root    string
	mode    Mode
	workers int
	store   *imaging.Store
	log     *zap.Logger
}

// New returns a Materializer. A nil logger discards output; workers below 1 mean 1.
func New(store *imaging.Store, opts Options) (*Materializer, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("target root is required")
	}
	if store == nil {
		return nil, fmt.Errorf("image store is required")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeCopy
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	return &Materializer{
		root:    opts.Root,
		mode:    mode,
		workers: max(opts.Workers, 1),
		store:   store,
		log:     logging.OrNop(opts.Logger),
	}, nil
}

// Root returns the dataset root.
func (m *Materializer) Root() string {
	return m.root
}

// ImageDir returns the image directory of split s.
func (m *Materializer) ImageDir(s split.Split) string {
	return filepath.Join(m.root, "images", string(s))
}

// LabelDir returns the label directory of split s.
func (m *Materializer) LabelDir(s split.Split) string {
	return filepath.Join(m.root, "labels", string(s))
}

// LabelPath returns the label file of stem in split s.
func (m *Materializer) LabelPath(s split.Split, stem string) string {
	return filepath.Join(m.LabelDir(s), stem+".txt")
}

// EnsureLayout creates the image and label directories of every split. It is safe to
// call repeatedly.
func (m *Materializer) EnsureLayout() error {
	for _, s := range split.All {
		for _, dir := range []string{m.ImageDir(s), m.LabelDir(s)} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
	}
	return nil
}

type outcome struct {
	done  bool
	image bool
	label bool
}

// Materialize writes items into split s.
//
// Per-item failures are logged and counted, never returned. The returned error is
// non-nil only when the layout cannot be created or ctx is cancelled; the counts then
// cover the items finished so far.
func (m *Materializer) Materialize(ctx context.Context, s split.Split, items []Item) (Counts, error) {
	if err := m.EnsureLayout(); err != nil {
		return Counts{}, err
	}

	results := make([]outcome, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = m.place(s, items[i])
			return nil
		})
	}
	// Wait cancels gctx; only the caller's ctx tells a cancelled run apart.
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	var c Counts
	for _, r := range results {
		if !r.done {
			continue
		}
		if r.image {
			c.Images++
		}
		if r.label {
			c.Labels++
		} else {
			c.Errors++
		}
	}
	return c, err
}

func (m *Materializer) place(s split.Split, it Item) outcome {
	dst := filepath.Join(m.ImageDir(s), it.Name)
	var err error
	if m.mode == ModeMove {
		err = m.store.Move(it.ImagePath, dst)
	} else {
		err = m.store.Copy(it.ImagePath, dst)
	}
	if err != nil {
		m.log.Warn("image transfer failed",
			zap.String("split", string(s)),
			zap.String("image", it.ImagePath),
			zap.Error(err))
		return outcome{done: true}
	}

	labelPath := m.LabelPath(s, it.Stem)
	if err := writeFileAtomic(labelPath, FormatLabels(it.Boxes, it.Oriented)); err != nil {
		m.log.Warn("label write failed",
			zap.String("split", string(s)),
			zap.String("label", labelPath),
			zap.Error(err))
		return outcome{done: true, image: true}
	}
	return outcome{done: true, image: true, label: true}
}

// Sequential renames items to zero-padded running numbers starting at 1, keeping each
// image's lower-cased extension. MOT corpora reuse frame names across sequences and
// need this to avoid collisions.
func Sequential(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		stem := fmt.Sprintf("%06d", i+1)
		it.Stem = stem
		it.Name = stem + strings.ToLower(filepath.Ext(it.Name))
		out[i] = it
	}
	return out
}

// DatasetConfig is the data file consumed by the YOLO trainer.
type DatasetConfig struct {
	Path  string         `yaml:"path"`
	Train string         `yaml:"train"`
	Val   string         `yaml:"val"`
	Test  string         `yaml:"test"`
	Names map[int]string `yaml:"names"`
}

// WriteDatasetYAML writes the trainer data file to path. Split paths are relative to
// the dataset root.
func (m *Materializer) WriteDatasetYAML(path string, names map[int]string) error {
	root, err := filepath.Abs(m.root)
	if err != nil {
		return fmt.Errorf("failed to resolve dataset root: %w", err)
	}
	cfg := DatasetConfig{
		Path:  root,
		Train: filepath.ToSlash(filepath.Join("images", string(split.Train))),
		Val:   filepath.ToSlash(filepath.Join("images", string(split.Val))),
		Test:  filepath.ToSlash(filepath.Join("images", string(split.Test))),
		Names: names,
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to encode dataset file: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write dataset file: %w", err)
	}
	return nil
}
