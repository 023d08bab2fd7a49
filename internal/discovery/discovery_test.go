package discovery

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// touch creates an empty file at dir/name, creating parent directories as needed.
func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	return path
}

func stems(pairs []Pair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Stem
	}
	return out
}

func TestMatchStems(t *testing.T) {
	root := t.TempDir()
	imgDir := filepath.Join(root, "JPEGImages")
	annDir := filepath.Join(root, "Annotations")

	touch(t, imgDir, "0002.jpg")
	touch(t, imgDir, "0001.JPG")
	touch(t, imgDir, "0003.png")
	touch(t, imgDir, "notes.txt")
	touch(t, annDir, "0001.xml")
	touch(t, annDir, "0002.XML")
	touch(t, annDir, "0004.xml")

	result, err := MatchStems([]string{imgDir}, []string{annDir}, Options{AnnotationExtension: ".xml"})
	if err != nil {
		t.Fatalf("MatchStems failed: %v", err)
	}

	if got, want := stems(result.Pairs), []string{"0001", "0002"}; !reflect.DeepEqual(got, want) {
		t.Errorf("pairs: got %v, want %v", got, want)
	}
	if len(result.ImagesWithoutAnnotation) != 1 || filepath.Base(result.ImagesWithoutAnnotation[0]) != "0003.png" {
		t.Errorf("images without annotation: got %v", result.ImagesWithoutAnnotation)
	}
	if len(result.AnnotationsWithoutImage) != 1 || filepath.Base(result.AnnotationsWithoutImage[0]) != "0004.xml" {
		t.Errorf("annotations without image: got %v", result.AnnotationsWithoutImage)
	}

	p := result.Pairs[0]
	if p.Name != "0001.JPG" || p.Frame != -1 || filepath.Base(p.Annotation) != "0001.xml" {
		t.Errorf("unexpected pair: %+v", p)
	}
}

func TestMatchStems_Duplicates(t *testing.T) {
	root := t.TempDir()
	imgDir := filepath.Join(root, "images")
	annDir := filepath.Join(root, "labels")
	touch(t, imgDir, "a.jpg")
	touch(t, imgDir, "a.png")
	touch(t, annDir, "a.txt")

	result, err := MatchStems([]string{imgDir}, []string{annDir}, Options{AnnotationExtension: "txt"})
	if err != nil {
		t.Fatalf("MatchStems failed: %v", err)
	}
	if len(result.Pairs) != 1 || result.Pairs[0].Name != "a.jpg" {
		t.Errorf("pairs: got %+v", result.Pairs)
	}
	if len(result.DuplicateStems) != 1 {
		t.Errorf("duplicates: got %v", result.DuplicateStems)
	}
}

func TestMatchStems_MissingRoot(t *testing.T) {
	_, err := MatchStems([]string{filepath.Join(t.TempDir(), "missing")}, nil, Options{AnnotationExtension: ".xml"})
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestMatchManifest(t *testing.T) {
	imgDir := t.TempDir()
	touch(t, imgDir, "img_1.jpg")
	touch(t, imgDir, "img_2.JPEG")
	touch(t, imgDir, "img_3.jpg")

	keys := []string{"img_2", "img_1.jpg", "img_9.jpg", "img_1.jpg"}
	result, err := MatchManifest([]string{imgDir}, keys, Options{})
	if err != nil {
		t.Fatalf("MatchManifest failed: %v", err)
	}

	if got, want := stems(result.Pairs), []string{"img_1", "img_2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("pairs: got %v, want %v", got, want)
	}
	if result.Pairs[1].Annotation != "img_2" {
		t.Errorf("annotation key: got %q, want img_2", result.Pairs[1].Annotation)
	}
	if !reflect.DeepEqual(result.AnnotationsWithoutImage, []string{"img_9.jpg"}) {
		t.Errorf("annotations without image: got %v", result.AnnotationsWithoutImage)
	}
	if len(result.ImagesWithoutAnnotation) != 1 || filepath.Base(result.ImagesWithoutAnnotation[0]) != "img_3.jpg" {
		t.Errorf("images without annotation: got %v", result.ImagesWithoutAnnotation)
	}
}

func TestMOTSequences(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "seq-a/img1/000001.jpg")
	touch(t, root, "seq-a/img1/000002.jpg")
	touch(t, root, "seq-a/img1/cover.jpg")
	touch(t, root, "seq-a/det/det.txt")
	touch(t, root, "seq-b/img1/000001.jpg")
	touch(t, root, "seq-c/det/det.txt")

	result, err := MOTSequences([]string{root}, Options{})
	if err != nil {
		t.Fatalf("MOTSequences failed: %v", err)
	}

	if len(result.Pairs) != 2 {
		t.Fatalf("pairs: got %d, want 2", len(result.Pairs))
	}
	for i, p := range result.Pairs {
		if p.Sequence != "seq-a" || p.Frame != i+1 {
			t.Errorf("pair %d: got sequence %q frame %d", i, p.Sequence, p.Frame)
		}
		if filepath.Base(p.Annotation) != "det.txt" {
			t.Errorf("pair %d: annotation %q", i, p.Annotation)
		}
	}
	// cover.jpg (non-numeric) and seq-b (no det.txt)
	if len(result.ImagesWithoutAnnotation) != 2 {
		t.Errorf("images without annotation: got %v", result.ImagesWithoutAnnotation)
	}
	if len(result.AnnotationsWithoutImage) != 1 {
		t.Errorf("annotations without image: got %v", result.AnnotationsWithoutImage)
	}
}

func TestLoadSplitList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.txt")
	content := "000005\n\n000007  -1\n  000009 \n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write list: %v", err)
	}

	ids, err := LoadSplitList(path)
	if err != nil {
		t.Fatalf("LoadSplitList failed: %v", err)
	}
	if want := []string{"000005", "000007", "000009"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
}

func TestOptions_IsImage(t *testing.T) {
	tests := []struct {
		opts Options
		name string
		want bool
	}{
		{Options{}, "a.JPG", true},
		{Options{}, "a.tif", false},
		{Options{ImageExtensions: []string{"tif", ".BMP"}}, "a.tif", true},
		{Options{ImageExtensions: []string{"tif", ".BMP"}}, "a.bmp", true},
		{Options{ImageExtensions: []string{"tif", ".BMP"}}, "a.jpg", false},
	}
	for _, tt := range tests {
		if got := tt.opts.IsImage(tt.name); got != tt.want {
			t.Errorf("IsImage(%q) with %v: got %v, want %v", tt.name, tt.opts.ImageExtensions, got, tt.want)
		}
	}
}
