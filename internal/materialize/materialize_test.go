package materialize

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/yolo-dataset-tools/internal/geometry"
	store "github.com/ironsheep/yolo-dataset-tools/internal/imaging"
	"github.com/ironsheep/yolo-dataset-tools/internal/split"
)

// createTestImage saves a small PNG under dir and returns its path.
func createTestImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := imaging.Save(imaging.New(16, 8, color.NRGBA{G: 200, A: 255}), path); err != nil {
		t.Fatalf("failed to save image: %v", err)
	}
	return path
}

func newMaterializer(t *testing.T, root string, mode Mode) *Materializer {
	t.Helper()
	m, err := New(store.NewStore(), Options{Root: root, Mode: mode, Workers: 4})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestFormatLabels(t *testing.T) {
	boxes := []geometry.Box{
		{ClassID: 0, Center: geometry.Center{X: 0.5, Y: 0.25, W: 0.1, H: 0.2}},
		{ClassID: 12, Center: geometry.Center{X: 1.0 / 3, Y: 0, W: 1, H: 0.0000004}},
	}
	oriented := []geometry.OrientedBox{
		{ClassID: 3, Quad: geometry.Quad{0.1, 0.2, 0.3, 0.2, 0.3, 0.4, 0.1, 0.4}},
	}

	want := "0 0.500000 0.250000 0.100000 0.200000\n" +
		"12 0.333333 0.000000 1.000000 0.000000\n" +
		"3 0.100000 0.200000 0.300000 0.200000 0.300000 0.400000 0.100000 0.400000\n"
	if got := string(FormatLabels(boxes, oriented)); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
	if got := FormatLabels(nil, nil); len(got) != 0 {
		t.Errorf("empty input produced %q", got)
	}
}

func TestMaterialize(t *testing.T) {
	src := t.TempDir()
	root := filepath.Join(t.TempDir(), "dataset")
	items := []Item{
		{
			ImagePath: createTestImage(t, src, "a.png"),
			Name:      "a.png",
			Stem:      "a",
			Boxes:     []geometry.Box{{ClassID: 1, Center: geometry.Center{X: 0.5, Y: 0.5, W: 0.2, H: 0.2}}},
		},
		{ImagePath: createTestImage(t, src, "b.png"), Name: "b.png", Stem: "b"},
	}

	m := newMaterializer(t, root, ModeCopy)
	c, err := m.Materialize(context.Background(), split.Train, items)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if c != (Counts{Images: 2, Labels: 2}) {
		t.Errorf("counts: got %+v", c)
	}

	if got := readFile(t, filepath.Join(root, "labels", "train", "a.txt")); got != "1 0.500000 0.500000 0.200000 0.200000\n" {
		t.Errorf("label a: got %q", got)
	}
	if got := readFile(t, filepath.Join(root, "labels", "train", "b.txt")); got != "" {
		t.Errorf("label b should be empty, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "images", "train", "b.png")); err != nil {
		t.Errorf("image b missing: %v", err)
	}
	for _, s := range split.All {
		if _, err := os.Stat(filepath.Join(root, "labels", string(s))); err != nil {
			t.Errorf("label dir for %s missing: %v", s, err)
		}
	}
	if _, err := os.Stat(items[0].ImagePath); err != nil {
		t.Error("copy mode removed the source image")
	}
	for _, path := range []string{
		filepath.Join(root, "images", "train", "a.png"),
		filepath.Join(root, "labels", "train", "a.txt"),
	} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != store.FileMode {
			t.Errorf("%s mode: got %v, want %v", filepath.Base(path), info.Mode().Perm(), store.FileMode)
		}
	}
}

func TestMaterialize_MoreItemsThanWorkers(t *testing.T) {
	src := t.TempDir()
	var items []Item
	for _, stem := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"} {
		items = append(items, Item{ImagePath: createTestImage(t, src, stem+".png"), Name: stem + ".png", Stem: stem})
	}

	m := newMaterializer(t, t.TempDir(), ModeCopy)
	for _, s := range split.All {
		c, err := m.Materialize(context.Background(), s, items)
		if err != nil {
			t.Fatalf("%s: Materialize failed: %v", s, err)
		}
		if c != (Counts{Images: len(items), Labels: len(items)}) {
			t.Errorf("%s counts: got %+v", s, c)
		}
	}
}

func TestMaterialize_Idempotent(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()
	items := []Item{{
		ImagePath: createTestImage(t, src, "a.png"),
		Name:      "a.png",
		Stem:      "a",
		Boxes:     []geometry.Box{{ClassID: 0, Center: geometry.Center{X: 0.5, Y: 0.5, W: 1, H: 1}}},
	}}
	m := newMaterializer(t, root, ModeCopy)

	snapshot := func() map[string]string {
		out := make(map[string]string)
		filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err == nil && !info.IsDir() {
				out[path] = readFile(t, path)
			}
			return nil
		})
		return out
	}

	if _, err := m.Materialize(context.Background(), split.Val, items); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := snapshot()
	if _, err := m.Materialize(context.Background(), split.Val, items); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second := snapshot()

	if len(first) != 2 || len(first) != len(second) {
		t.Fatalf("file sets differ: %d vs %d", len(first), len(second))
	}
	for path, content := range first {
		if second[path] != content {
			t.Errorf("%s changed between runs", path)
		}
	}
}

func TestMaterialize_NoOrphanLabel(t *testing.T) {
	root := t.TempDir()
	items := []Item{{ImagePath: filepath.Join(t.TempDir(), "missing.png"), Name: "missing.png", Stem: "missing"}}

	c, err := newMaterializer(t, root, ModeCopy).Materialize(context.Background(), split.Test, items)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if c != (Counts{Errors: 1}) {
		t.Errorf("counts: got %+v", c)
	}
	if _, err := os.Stat(filepath.Join(root, "labels", "test", "missing.txt")); !os.IsNotExist(err) {
		t.Error("label written for an image that was not copied")
	}
}

func TestMaterialize_LabelFailureKeepsImage(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()
	m := newMaterializer(t, root, ModeCopy)
	if err := m.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout failed: %v", err)
	}
	// A directory in place of the label file makes the final rename fail.
	if err := os.MkdirAll(filepath.Join(m.LabelPath(split.Train, "a"), "blocker"), 0o755); err != nil {
		t.Fatalf("failed to create blocker: %v", err)
	}

	items := []Item{{ImagePath: createTestImage(t, src, "a.png"), Name: "a.png", Stem: "a"}}
	c, err := m.Materialize(context.Background(), split.Train, items)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if c != (Counts{Images: 1, Errors: 1}) {
		t.Errorf("counts: got %+v", c)
	}
	if _, err := os.Stat(filepath.Join(m.ImageDir(split.Train), "a.png")); err != nil {
		t.Errorf("image should stay in place: %v", err)
	}
}

func TestMaterialize_Move(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()
	path := createTestImage(t, src, "a.png")

	c, err := newMaterializer(t, root, ModeMove).Materialize(context.Background(), split.Train,
		[]Item{{ImagePath: path, Name: "a.png", Stem: "a"}})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if c.Images != 1 {
		t.Errorf("counts: got %+v", c)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("move mode kept the source image")
	}
}

func TestMaterialize_Cancelled(t *testing.T) {
	src := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []Item{{ImagePath: createTestImage(t, src, "a.png"), Name: "a.png", Stem: "a"}}
	c, err := newMaterializer(t, t.TempDir(), ModeCopy).Materialize(ctx, split.Train, items)
	if err == nil {
		t.Fatal("expected context error")
	}
	if c != (Counts{}) {
		t.Errorf("counts: got %+v", c)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(store.NewStore(), Options{}); err == nil {
		t.Error("expected error for empty root")
	}
	if _, err := New(nil, Options{Root: "x"}); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := New(store.NewStore(), Options{Root: "x", Mode: "link"}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestSequential(t *testing.T) {
	items := []Item{
		{Name: "000001.JPG", Stem: "000001"},
		{Name: "000001.jpg", Stem: "000001"},
		{Name: "frame.png", Stem: "frame"},
	}
	got := Sequential(items)
	want := []string{"000001.jpg", "000002.jpg", "000003.png"}
	for i, it := range got {
		if it.Name != want[i] || it.Stem != strings.TrimSuffix(want[i], filepath.Ext(want[i])) {
			t.Errorf("item %d: got %s/%s, want %s", i, it.Name, it.Stem, want[i])
		}
	}
	if items[0].Name != "000001.JPG" {
		t.Error("input items were modified")
	}
}

func TestWriteDatasetYAML(t *testing.T) {
	root := t.TempDir()
	m := newMaterializer(t, root, ModeCopy)
	path := filepath.Join(root, "dataset.yaml")

	if err := m.WriteDatasetYAML(path, map[int]string{1: "ship", 0: "plane"}); err != nil {
		t.Fatalf("WriteDatasetYAML failed: %v", err)
	}

	var cfg DatasetConfig
	if err := yaml.Unmarshal([]byte(readFile(t, path)), &cfg); err != nil {
		t.Fatalf("invalid yaml: %v", err)
	}
	if cfg.Train != "images/train" || cfg.Val != "images/val" || cfg.Test != "images/test" {
		t.Errorf("split paths: %+v", cfg)
	}
	if cfg.Names[0] != "plane" || cfg.Names[1] != "ship" {
		t.Errorf("names: %v", cfg.Names)
	}
	if !filepath.IsAbs(cfg.Path) {
		t.Errorf("path should be absolute, got %s", cfg.Path)
	}
}
