package discovery

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultImageExtensions are accepted when Options.ImageExtensions is empty.
var DefaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// Pair associates one image with its annotation source. Pairs are immutable once
// discovered.
type Pair struct {
	// ImagePath is the path of the source image.
	ImagePath string `json:"image_path"`

	// Name is the image file name, e.g. "0001.jpg".
	Name string `json:"name"`

	// Stem is Name without its extension.
	Stem string `json:"stem"`

	// Annotation is an annotation file path, or the manifest key for manifest formats.
	Annotation string `json:"annotation"`

	// Sequence is the MOT sequence directory name. Empty for other strategies.
	Sequence string `json:"sequence,omitempty"`

	// Frame is the MOT frame number parsed from the stem, or -1.
	Frame int `json:"frame"`
}

// Options controls which files are considered.
type Options struct {
	// ImageExtensions lists accepted image extensions, compared case-insensitively.
	ImageExtensions []string

	// AnnotationExtension is the annotation file extension for MatchStems, e.g. ".xml".
	AnnotationExtension string
}

// Result is the outcome of one discovery pass.
type Result struct {
	Pairs                   []Pair   `json:"pairs"`
	ImagesWithoutAnnotation []string `json:"images_without_annotation"`
	AnnotationsWithoutImage []string `json:"annotations_without_image"`

	// DuplicateStems lists images skipped because an earlier image had the same key.
	DuplicateStems []string `json:"duplicate_stems,omitempty"`
}

// Summary holds the counts reported for a Result.
type Summary struct {
	PairsFound              int `json:"pairs_found"`
	ImagesWithoutAnnotation int `json:"images_without_annotation"`
	AnnotationsWithoutImage int `json:"annotations_without_image"`
	DuplicateStems          int `json:"duplicate_stems"`
}

// Summary returns the counts of r.
func (r *Result) Summary() Summary {
	return Summary{
		PairsFound:              len(r.Pairs),
		ImagesWithoutAnnotation: len(r.ImagesWithoutAnnotation),
		AnnotationsWithoutImage: len(r.AnnotationsWithoutImage),
		DuplicateStems:          len(r.DuplicateStems),
	}
}

// MatchStems pairs images and annotation files by file stem.
//
// Each directory is scanned non-recursively. Image directories are scanned in the order
// given; when two images share a stem the first one wins and the later one is recorded
// in DuplicateStems. Annotation files whose stem matches no image are reported in
// AnnotationsWithoutImage.
func MatchStems(imageDirs, annotationDirs []string, opts Options) (*Result, error) {
	if opts.AnnotationExtension == "" {
		return nil, fmt.Errorf("annotation extension is required")
	}

	images, err := listFiles(imageDirs, opts.imageExtSet())
	if err != nil {
		return nil, err
	}
	annotations, err := listFiles(annotationDirs, extSet([]string{opts.AnnotationExtension}))
	if err != nil {
		return nil, err
	}

	byStem := make(map[string]string, len(annotations))
	for _, a := range annotations {
		stem := stemOf(a)
		if _, ok := byStem[stem]; !ok {
			byStem[stem] = a
		}
	}

	result := &Result{}
	used := make(map[string]bool, len(byStem))
	for _, img := range images {
		stem := stemOf(img)
		ann, ok := byStem[stem]
		switch {
		case !ok:
			result.ImagesWithoutAnnotation = append(result.ImagesWithoutAnnotation, img)
		case used[stem]:
			result.DuplicateStems = append(result.DuplicateStems, img)
		default:
			used[stem] = true
			result.Pairs = append(result.Pairs, newPair(img, ann))
		}
	}
	for _, a := range annotations {
		if !used[stemOf(a)] {
			result.AnnotationsWithoutImage = append(result.AnnotationsWithoutImage, a)
		}
	}
	return result, nil
}

// MatchManifest pairs images with manifest keys.
//
// A key that ends in an accepted image extension is matched against the image file
// name; any other key is matched against the stem. Matching ignores case. The pair's
// Annotation field carries the key unchanged so the manifest parser can look it up.
func MatchManifest(imageDirs []string, keys []string, opts Options) (*Result, error) {
	accepted := opts.imageExtSet()
	images, err := listFiles(imageDirs, accepted)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(images))
	byStem := make(map[string]string, len(images))
	for _, img := range images {
		name := strings.ToLower(filepath.Base(img))
		if _, ok := byName[name]; !ok {
			byName[name] = img
		}
		stem := strings.ToLower(stemOf(img))
		if _, ok := byStem[stem]; !ok {
			byStem[stem] = img
		}
	}

	result := &Result{}
	seen := make(map[string]bool, len(keys))
	for _, key := range sortedUnique(keys) {
		lower := strings.ToLower(key)
		var img string
		var ok bool
		if accepted[filepath.Ext(lower)] {
			img, ok = byName[filepath.Base(lower)]
		} else {
			img, ok = byStem[lower]
		}
		switch {
		case !ok:
			result.AnnotationsWithoutImage = append(result.AnnotationsWithoutImage, key)
		case seen[img]:
			result.DuplicateStems = append(result.DuplicateStems, key)
		default:
			seen[img] = true
			result.Pairs = append(result.Pairs, newPair(img, key))
		}
	}
	for _, img := range images {
		if !seen[img] {
			result.ImagesWithoutAnnotation = append(result.ImagesWithoutAnnotation, img)
		}
	}
	sort.Slice(result.Pairs, func(i, j int) bool {
		return result.Pairs[i].ImagePath < result.Pairs[j].ImagePath
	})
	return result, nil
}

// MOTSequences pairs the frames of every sequence below the given roots with the
// sequence detection table.
//
// A sequence is any directory containing an img1 directory or a det/det.txt file.
// Frames of a sequence without det.txt, and frames whose stem is not an integer, are
// reported as images without annotation. A det.txt without an img1 directory is
// reported as an annotation without image.
func MOTSequences(roots []string, opts Options) (*Result, error) {
	accepted := opts.imageExtSet()
	result := &Result{}

	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("failed to read sequence root: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			seqDir := filepath.Join(root, e.Name())
			det := filepath.Join(seqDir, "det", "det.txt")
			hasDet := fileExists(det)

			imgDir := filepath.Join(seqDir, "img1")
			if !dirExists(imgDir) {
				if hasDet {
					result.AnnotationsWithoutImage = append(result.AnnotationsWithoutImage, det)
				}
				continue
			}

			frames, err := listFiles([]string{imgDir}, accepted)
			if err != nil {
				return nil, err
			}
			for _, img := range frames {
				frame, err := strconv.Atoi(stemOf(img))
				if !hasDet || err != nil || frame < 0 {
					result.ImagesWithoutAnnotation = append(result.ImagesWithoutAnnotation, img)
					continue
				}
				p := newPair(img, det)
				p.Sequence = e.Name()
				p.Frame = frame
				result.Pairs = append(result.Pairs, p)
			}
		}
	}
	return result, nil
}

// LoadSplitList reads a VOC ImageSets list: one image id per line. Only the first
// whitespace-separated field of each line is used, so class-specific lists of the form
// "000005 -1" are accepted. Blank lines are skipped.
func LoadSplitList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open split list: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		ids = append(ids, fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read split list: %w", err)
	}
	return ids, nil
}

// IsImage reports whether name has one of the accepted image extensions.
func (o Options) IsImage(name string) bool {
	return o.imageExtSet()[strings.ToLower(filepath.Ext(name))]
}

func (o Options) imageExtSet() map[string]bool {
	if len(o.ImageExtensions) == 0 {
		return extSet(DefaultImageExtensions)
	}
	return extSet(o.ImageExtensions)
}

// extSet normalizes extensions to a lower-case, dot-prefixed set.
func extSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

// listFiles returns the regular files in dirs whose lower-cased extension is in exts,
// sorted by path within each directory. Directories keep the order given.
func listFiles(dirs []string, exts map[string]bool) ([]string, error) {
	var out []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory: %w", err)
		}
		// os.ReadDir returns entries sorted by file name.
		for _, e := range entries {
			if e.IsDir() || !exts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

func newPair(imagePath, annotation string) Pair {
	name := filepath.Base(imagePath)
	return Pair{
		ImagePath:  imagePath,
		Name:       name,
		Stem:       stemOf(name),
		Annotation: annotation,
		Frame:      -1,
	}
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
