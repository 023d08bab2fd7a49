package annotation

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/ironsheep/yolo-dataset-tools/internal/discovery"
	"github.com/ironsheep/yolo-dataset-tools/internal/geometry"
)

// Key fallback rules for JSON manifests. Keys are tried in order and the first one
// present wins. AU-Air exports spell the width key with a trailing colon.
var (
	jsonWidthKeys  = []string{"image_width", "image_width:", "width"}
	jsonHeightKeys = []string{"image_height", "height"}
	jsonBoxesKeys  = []string{"bbox", "boxes"}
)

const jsonNameKey = "image_name"

// JSONManifest holds annotations loaded from one or more JSON manifests.
//
// Two layouts are accepted:
//
//	{"annotations": [{"image_name": "a.jpg", "image_width": 1920, "image_height": 1080,
//	                  "bbox": [{"class": 0, "top": 1, "left": 2, "height": 3, "width": 4}]}]}
//
//	{"a.jpg": {"width": 1920, "height": 1080,
//	           "boxes": [{"class": "car", "top": 1, "left": 2, "height": 3, "width": 4}]}}
type JSONManifest struct {
	entries  map[string]manifestEntry
	problems []error
}

type manifestEntry struct {
	ann *Annotation
	err error
}

// LoadJSONManifest reads and indexes the given manifest files. A file that cannot be
// read or is not a JSON object is a setup error. When two files describe the same
// image the first one wins.
func LoadJSONManifest(paths ...string) (*JSONManifest, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("json format requires at least one manifest")
	}

	m := &JSONManifest{entries: make(map[string]manifestEntry)}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		var top map[string]json.RawMessage
		if err := json.Unmarshal(data, &top); err != nil {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
		}

		if list, ok := top["annotations"]; ok && isJSONArray(list) {
			if err := m.loadList(path, list); err != nil {
				return nil, err
			}
			continue
		}
		for key, raw := range top {
			m.add(path, key, raw)
		}
	}
	return m, nil
}

func (m *JSONManifest) loadList(path string, list json.RawMessage) error {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(list, &items); err != nil {
		return fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	for i, fields := range items {
		var name string
		if err := json.Unmarshal(fields[jsonNameKey], &name); err != nil || name == "" {
			m.problems = append(m.problems, fmt.Errorf("%s: annotation %d: missing %s", path, i, jsonNameKey))
			continue
		}
		m.addFields(path, name, fields)
	}
	return nil
}

func (m *JSONManifest) add(path, key string, raw json.RawMessage) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		m.set(key, manifestEntry{err: malformed(path+"#"+key, err)})
		return
	}
	m.addFields(path, key, fields)
}

func (m *JSONManifest) addFields(path, key string, fields map[string]json.RawMessage) {
	ann, err := parseJSONEntry(fields)
	if err != nil {
		m.set(key, manifestEntry{err: malformed(path+"#"+key, err)})
		return
	}
	m.set(key, manifestEntry{ann: ann})
}

func (m *JSONManifest) set(key string, e manifestEntry) {
	if _, ok := m.entries[key]; ok {
		m.problems = append(m.problems, fmt.Errorf("duplicate manifest entry %q ignored", key))
		return
	}
	m.entries[key] = e
}

// Keys returns every image key in the manifest, sorted.
func (m *JSONManifest) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Problems returns manifest-level issues that could not be attributed to an image.
func (m *JSONManifest) Problems() []error {
	return m.problems
}

// Parse returns the annotation stored under pair.Annotation.
func (m *JSONManifest) Parse(pair discovery.Pair) (*Annotation, error) {
	e, ok := m.entries[pair.Annotation]
	if !ok {
		return nil, malformed(pair.Annotation, fmt.Errorf("no manifest entry"))
	}
	if e.err != nil {
		return nil, e.err
	}
	ann := *e.ann
	return &ann, nil
}

func parseJSONEntry(fields map[string]json.RawMessage) (*Annotation, error) {
	w, err := firstNumber(fields, jsonWidthKeys)
	if err != nil {
		return nil, err
	}
	h, err := firstNumber(fields, jsonHeightKeys)
	if err != nil {
		return nil, err
	}

	ann := &Annotation{Width: w, Height: h, HasSize: true}
	raw, ok := firstPresent(fields, jsonBoxesKeys)
	if !ok || string(raw) == "null" {
		return ann, nil
	}
	var boxes []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &boxes); err != nil {
		return nil, fmt.Errorf("boxes: %w", err)
	}

	for i, b := range boxes {
		tok, err := jsonToken(b["class"])
		if err != nil {
			ann.problem("box %d: class: %v", i, err)
			continue
		}
		vals := make([]float64, 4)
		var bad error
		for j, k := range []string{"top", "left", "height", "width"} {
			v, err := jsonNumber(b[k])
			if err != nil {
				bad = fmt.Errorf("%s: %w", k, err)
				break
			}
			vals[j] = v
		}
		if bad != nil {
			ann.problem("box %d: %v", i, bad)
			continue
		}
		ann.Objects = append(ann.Objects, Object{
			Class: tok,
			Box:   geometry.TopLeft{Top: vals[0], Left: vals[1], Height: vals[2], Width: vals[3]},
		})
	}
	return ann, nil
}

func firstPresent(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if raw, ok := fields[k]; ok {
			return raw, true
		}
	}
	return nil, false
}

func firstNumber(fields map[string]json.RawMessage, keys []string) (float64, error) {
	raw, ok := firstPresent(fields, keys)
	if !ok {
		return 0, fmt.Errorf("missing %s", keys[0])
	}
	v, err := jsonNumber(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", keys[0], err)
	}
	return v, nil
}

// jsonNumber accepts a JSON number or a string holding one.
func jsonNumber(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing value")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return parseFloat(s)
}

// jsonToken reads a class field. Numbers must be non-negative integers; strings follow
// ParseToken.
func jsonToken(raw json.RawMessage) (Token, error) {
	if len(raw) == 0 {
		return Token{}, fmt.Errorf("missing value")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
			return Token{}, fmt.Errorf("invalid class id %s", raw)
		}
		return IDToken(int(f)), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return Token{}, fmt.Errorf("invalid class %s", raw)
	}
	return ParseToken(s), nil
}

func isJSONArray(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
