package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// datasetProperties are the arguments shared by the dataset tools. Everything except
// config overrides a value from the configuration file.
func datasetProperties() map[string]interface{} {
	paths := func(description string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": description,
		}
	}
	return map[string]interface{}{
		"config": map[string]interface{}{
			"type":        "string",
			"description": "Absolute path to the conversion config YAML file",
		},
		"format": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"voc", "json", "csv", "mot", "dota", "oriented", "corners", "yolo"},
			"description": "Optional source annotation format",
		},
		"images":      paths("Optional image directories, or MOT sequence roots"),
		"annotations": paths("Optional annotation directories"),
		"manifests":   paths("Optional JSON or CSV manifest files"),
		"root": map[string]interface{}{
			"type":        "string",
			"description": "Optional target dataset root",
		},
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	number := func(description string) map[string]interface{} {
		return map[string]interface{}{"type": "number", "description": description}
	}

	return []Tool{
		// Dataset Operations
		{
			Name:        "dataset_discover",
			Description: "Pair images with their annotations and report how many pairs were found and what is missing on either side. Nothing is written.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": datasetProperties(),
				"required":   []string{"config"},
			},
		},
		{
			Name:        "dataset_convert",
			Description: "Convert a detection corpus into a YOLO dataset with train/val/test splits. Returns the run report with counts of converted and dropped boxes.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": datasetProperties(),
				"required":   []string{"config"},
			},
		},

		// Geometry
		{
			Name:        "box_normalize",
			Description: "Normalize one pixel box to YOLO center form for an image size. Give exactly one of corners, top_left or quad. Invalid boxes return the rejection reason.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"width":  number("Image width in pixels"),
					"height": number("Image height in pixels"),
					"corners": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"xmin": number("Left edge"),
							"ymin": number("Top edge"),
							"xmax": number("Right edge"),
							"ymax": number("Bottom edge"),
						},
						"required": []string{"xmin", "ymin", "xmax", "ymax"},
					},
					"top_left": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"top":    number("Top edge"),
							"left":   number("Left edge"),
							"height": number("Box height"),
							"width":  number("Box width"),
						},
						"required": []string{"top", "left", "height", "width"},
					},
					"quad": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "number"},
						"minItems":    8,
						"maxItems":    8,
						"description": "Four vertices as x1 y1 x2 y2 x3 y3 x4 y4",
					},
				},
				"required": []string{"width", "height"},
			},
		},

		// Image Inspection
		{
			Name:        "image_dimensions",
			Description: "Get the width and height of an image file without decoding its pixels.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "label_preview",
			Description: "Draw the boxes of a YOLO label file over its image and save the result. Use this to spot-check a converted dataset.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"image": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
					"labels": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the YOLO label file",
					},
					"output": map[string]interface{}{
						"type":        "string",
						"description": "Output path; .jpg or .png",
					},
					"max_size": map[string]interface{}{
						"type":        "integer",
						"description": "Optional longest side of the preview. Default 1280",
						"default":     1280,
					},
				},
				"required": []string{"image", "labels", "output"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
