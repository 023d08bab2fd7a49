package server

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ironsheep/yolo-dataset-tools/internal/config"
	"github.com/ironsheep/yolo-dataset-tools/internal/discovery"
	"github.com/ironsheep/yolo-dataset-tools/internal/geometry"
	"github.com/ironsheep/yolo-dataset-tools/internal/imaging"
	"github.com/ironsheep/yolo-dataset-tools/internal/materialize"
	"github.com/ironsheep/yolo-dataset-tools/internal/pipeline"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "dataset_convert", "box_normalize").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Warn("tool failed", zap.String("tool", params.Name), zap.Error(err))
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Dataset Operations
	case "dataset_discover":
		return s.handleDatasetDiscover(args)
	case "dataset_convert":
		return s.handleDatasetConvert(ctx, args)

	// Geometry
	case "box_normalize":
		return s.handleBoxNormalize(args)

	// Image Inspection
	case "image_dimensions":
		return s.handleImageDimensions(args)
	case "label_preview":
		return s.handleLabelPreview(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// === Dataset Handlers ===

type datasetArgs struct {
	Config      string   `json:"config"`
	Format      string   `json:"format"`
	Images      []string `json:"images"`
	Annotations []string `json:"annotations"`
	Manifests   []string `json:"manifests"`
	Root        string   `json:"root"`
}

func (a datasetArgs) load() (*config.Config, error) {
	if a.Config == "" {
		return nil, fmt.Errorf("config is required")
	}
	cfg, err := config.Load(a.Config)
	if err != nil {
		return nil, err
	}
	config.Overrides{
		Format:      a.Format,
		Images:      a.Images,
		Annotations: a.Annotations,
		Manifests:   a.Manifests,
		Root:        a.Root,
	}.Apply(cfg)
	return cfg, nil
}

type discoverResult struct {
	discovery.Summary
	ManifestProblems int `json:"manifest_problems"`
}

func (s *Server) handleDatasetDiscover(args json.RawMessage) (interface{}, error) {
	var a datasetArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	cfg, err := a.load()
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(cfg, s.store, s.log)
	if err != nil {
		return nil, err
	}
	result, err := p.Discover()
	if err != nil {
		return nil, err
	}
	return discoverResult{Summary: result.Summary(), ManifestProblems: len(p.ManifestProblems())}, nil
}

func (s *Server) handleDatasetConvert(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a datasetArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	cfg, err := a.load()
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(cfg, s.store, s.log)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}

// === Geometry Handlers ===

type boxNormalizeArgs struct {
	Width   float64           `json:"width"`
	Height  float64           `json:"height"`
	Corners *geometry.Corners `json:"corners"`
	TopLeft *geometry.TopLeft `json:"top_left"`
	Quad    []float64         `json:"quad"`
}

type boxNormalizeResult struct {
	Valid  bool             `json:"valid"`
	Reason string           `json:"reason,omitempty"`
	Error  string           `json:"error,omitempty"`
	Center *geometry.Center `json:"center,omitempty"`
	Quad   *geometry.Quad   `json:"quad,omitempty"`
}

func (a boxNormalizeArgs) raw() (geometry.RawBox, error) {
	var raws []geometry.RawBox
	if a.Corners != nil {
		raws = append(raws, *a.Corners)
	}
	if a.TopLeft != nil {
		raws = append(raws, *a.TopLeft)
	}
	if a.Quad != nil {
		if len(a.Quad) != 8 {
			return nil, fmt.Errorf("quad needs 8 values, got %d", len(a.Quad))
		}
		var q geometry.Quad
		copy(q[:], a.Quad)
		raws = append(raws, q)
	}
	if len(raws) != 1 {
		return nil, fmt.Errorf("exactly one of corners, top_left or quad is required")
	}
	return raws[0], nil
}

func (s *Server) handleBoxNormalize(args json.RawMessage) (interface{}, error) {
	var a boxNormalizeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	raw, err := a.raw()
	if err != nil {
		return nil, err
	}

	n, err := geometry.Normalize(a.Width, a.Height, raw)
	if err != nil {
		return boxNormalizeResult{Reason: geometry.Reason(err), Error: err.Error()}, nil
	}
	if n.Oriented {
		return boxNormalizeResult{Valid: true, Quad: &n.Quad}, nil
	}
	return boxNormalizeResult{Valid: true, Center: &n.Center}, nil
}

// === Image Handlers ===

type imagePathArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleImageDimensions(args json.RawMessage) (interface{}, error) {
	var a imagePathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return s.store.Dimensions(a.Path)
}

type labelPreviewArgs struct {
	Image   string `json:"image"`
	Labels  string `json:"labels"`
	Output  string `json:"output"`
	MaxSize int    `json:"max_size"`
}

func (s *Server) handleLabelPreview(args json.RawMessage) (interface{}, error) {
	var a labelPreviewArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Image == "" || a.Labels == "" || a.Output == "" {
		return nil, fmt.Errorf("image, labels and output are required")
	}
	if err := materialize.Preview(a.Image, a.Labels, a.Output, imaging.PreviewOptions{MaxSize: a.MaxSize}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"output": a.Output}, nil
}
