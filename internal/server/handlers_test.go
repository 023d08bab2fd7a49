package server

import (
	"context"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

// createTestImageFile saves a solid PNG under a temp dir and returns its path.
func createTestImageFile(t *testing.T, width, height int, c color.Color) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.png")
	if err := imaging.Save(imaging.New(width, height, c), path); err != nil {
		t.Fatalf("failed to save image: %v", err)
	}
	return path
}

func callTool(t *testing.T, s *Server, name string, args interface{}) *MCPResponse {
	t.Helper()
	params, err := json.Marshal(map[string]interface{}{"name": name, "arguments": args})
	if err != nil {
		t.Fatalf("failed to marshal params: %v", err)
	}
	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  params,
	})
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	return resp
}

// decodeResult unmarshals the text content of a successful tool response into v.
func decodeResult(t *testing.T, resp *MCPResponse, v interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("Result should be a map")
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) != 1 {
		t.Fatalf("unexpected content: %v", result["content"])
	}
	text, _ := content[0]["text"].(string)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		t.Fatalf("failed to decode tool result %q: %v", text, err)
	}
}

func TestHandleToolsCall_ImageDimensions(t *testing.T) {
	s := New(Options{})
	imgPath := createTestImageFile(t, 200, 150, color.RGBA{0, 255, 0, 255})

	var dims struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	decodeResult(t, callTool(t, s, "image_dimensions", map[string]interface{}{"path": imgPath}), &dims)
	if dims.Width != 200 || dims.Height != 150 {
		t.Errorf("got %dx%d, want 200x150", dims.Width, dims.Height)
	}
}

func TestHandleToolsCall_Errors(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args interface{}
	}{
		{"missing file", "image_dimensions", map[string]interface{}{"path": "/nonexistent/image.png"}},
		{"missing path", "image_dimensions", map[string]interface{}{}},
		{"unknown tool", "image_crop", map[string]interface{}{}},
		{"no box", "box_normalize", map[string]interface{}{"width": 10, "height": 10}},
		{"two boxes", "box_normalize", map[string]interface{}{
			"width": 10, "height": 10,
			"corners":  map[string]interface{}{"xmin": 1, "ymin": 1, "xmax": 2, "ymax": 2},
			"top_left": map[string]interface{}{"top": 1, "left": 1, "height": 2, "width": 2},
		}},
		{"short quad", "box_normalize", map[string]interface{}{"width": 10, "height": 10, "quad": []float64{1, 2, 3}}},
		{"wrong argument type", "box_normalize", map[string]interface{}{"width": "wide"}},
		{"no config", "dataset_discover", map[string]interface{}{}},
		{"missing config", "dataset_convert", map[string]interface{}{"config": "/nonexistent/config.yaml"}},
		{"preview without labels", "label_preview", map[string]interface{}{"image": "a.png", "output": "b.png"}},
	}

	s := New(Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := callTool(t, s, tt.tool, tt.args)
			if resp.Error == nil {
				t.Fatal("Expected error")
			}
			if resp.Error.Code != -32000 {
				t.Errorf("Error code: got %d, want -32000", resp.Error.Code)
			}
		})
	}
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := New(Options{})
	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  json.RawMessage(`"not an object"`),
	})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("Error: got %+v, want code -32602", resp.Error)
	}
}

func TestHandleToolsCall_BoxNormalize(t *testing.T) {
	type result struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
		Center *struct {
			X float64 `json:"x_center"`
			Y float64 `json:"y_center"`
			W float64 `json:"width"`
			H float64 `json:"height"`
		} `json:"center"`
		Quad []float64 `json:"quad"`
	}

	s := New(Options{})

	t.Run("corners", func(t *testing.T) {
		var r result
		decodeResult(t, callTool(t, s, "box_normalize", map[string]interface{}{
			"width": 200, "height": 100,
			"corners": map[string]interface{}{"xmin": 20, "ymin": 10, "xmax": 60, "ymax": 50},
		}), &r)
		if !r.Valid || r.Center == nil {
			t.Fatalf("unexpected result: %+v", r)
		}
		if r.Center.X != 0.2 || r.Center.Y != 0.3 || r.Center.W != 0.2 || r.Center.H != 0.4 {
			t.Errorf("center: %+v", *r.Center)
		}
	})

	t.Run("top left", func(t *testing.T) {
		var r result
		decodeResult(t, callTool(t, s, "box_normalize", map[string]interface{}{
			"width": 100, "height": 100,
			"top_left": map[string]interface{}{"top": 0, "left": 0, "height": 50, "width": 50},
		}), &r)
		if !r.Valid || r.Center == nil || r.Center.X != 0.25 || r.Center.H != 0.5 {
			t.Errorf("unexpected result: %+v", r)
		}
	})

	t.Run("quad", func(t *testing.T) {
		var r result
		decodeResult(t, callTool(t, s, "box_normalize", map[string]interface{}{
			"width": 100, "height": 100,
			"quad": []float64{10, 10, 50, 10, 50, 30, 10, 30},
		}), &r)
		if !r.Valid || len(r.Quad) != 8 || r.Quad[2] != 0.5 {
			t.Errorf("unexpected result: %+v", r)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		var r result
		decodeResult(t, callTool(t, s, "box_normalize", map[string]interface{}{
			"width": 0, "height": 100,
			"corners": map[string]interface{}{"xmin": 20, "ymin": 10, "xmax": 60, "ymax": 50},
		}), &r)
		if r.Valid || r.Reason != "invalid_image_size" {
			t.Errorf("unexpected result: %+v", r)
		}
	})
}

func TestHandleToolsCall_LabelPreview(t *testing.T) {
	s := New(Options{})
	imgPath := createTestImageFile(t, 64, 32, color.RGBA{200, 200, 200, 255})
	dir := t.TempDir()
	labels := filepath.Join(dir, "image.txt")
	if err := os.WriteFile(labels, []byte("0 0.5 0.5 0.5 0.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "preview", "image.png")

	var r struct {
		Output string `json:"output"`
	}
	decodeResult(t, callTool(t, s, "label_preview", map[string]interface{}{
		"image": imgPath, "labels": labels, "output": out,
	}), &r)
	if r.Output != out {
		t.Errorf("output: got %s, want %s", r.Output, out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("preview not written: %v", err)
	}
}

// writeDataset creates a two-image VOC corpus and a config file for it.
func writeDataset(t *testing.T) (configPath, root string) {
	t.Helper()
	base := t.TempDir()
	images := filepath.Join(base, "images")
	annotations := filepath.Join(base, "annotations")
	for _, dir := range []string{images, annotations} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, stem := range []string{"one", "two"} {
		if err := imaging.Save(imaging.New(100, 100, color.White), filepath.Join(images, stem+".jpg")); err != nil {
			t.Fatal(err)
		}
	}
	doc := `<annotation><size><width>100</width><height>100</height></size>
<object><name>car</name><bndbox><xmin>10</xmin><ymin>10</ymin><xmax>30</xmax><ymax>40</ymax></bndbox></object>
</annotation>`
	if err := os.WriteFile(filepath.Join(annotations, "one.xml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := "format: voc\nworkers: 2\n" +
		"source:\n  images: [" + images + "]\n  annotations: [" + annotations + "]\n" +
		"target:\n  root: " + filepath.Join(base, "ignored") + "\n" +
		"split:\n  train: 1\n  val: 0\n  test: 0\n" +
		"classes:\n  map:\n    - name: car\n      id: 0\n"
	configPath = filepath.Join(base, "config.yaml")
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, filepath.Join(base, "out")
}

func TestHandleToolsCall_DatasetDiscover(t *testing.T) {
	configPath, _ := writeDataset(t)

	var r struct {
		PairsFound              int `json:"pairs_found"`
		ImagesWithoutAnnotation int `json:"images_without_annotation"`
	}
	decodeResult(t, callTool(t, New(Options{}), "dataset_discover", map[string]interface{}{"config": configPath}), &r)
	if r.PairsFound != 1 || r.ImagesWithoutAnnotation != 1 {
		t.Errorf("unexpected summary: %+v", r)
	}
}

func TestHandleToolsCall_DatasetConvert(t *testing.T) {
	configPath, root := writeDataset(t)

	var r struct {
		RunID          string `json:"run_id"`
		BoxesConverted int    `json:"boxes_converted"`
	}
	decodeResult(t, callTool(t, New(Options{}), "dataset_convert", map[string]interface{}{
		"config": configPath,
		"root":   root,
	}), &r)
	if r.RunID == "" || r.BoxesConverted != 1 {
		t.Errorf("unexpected report: %+v", r)
	}
	if _, err := os.Stat(filepath.Join(root, "labels", "train", "one.txt")); err != nil {
		t.Errorf("label not written under overridden root: %v", err)
	}
}
