// Package server implements the MCP (Model Context Protocol) server for the dataset tools.
//
// The server exposes dataset conversion and inspection to MCP clients, so an assistant
// can pair a corpus, convert it and spot-check the labels without a shell.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Dataset Operations:
//   - dataset_discover: Pair images and annotations for a config and count the gaps
//   - dataset_convert: Run a full conversion and return the run report
//
// Geometry:
//   - box_normalize: Normalize one pixel box, or report why it is rejected
//
// Image Inspection:
//   - image_dimensions: Get width and height from the image header
//   - label_preview: Draw a label file over its image
//
// Dataset tools take the path of a config file and accept the same path overrides as
// the command line.
//
// # Logging
//
// Stdout carries the protocol, so the injected logger must write elsewhere. The
// command wires a zap logger on stderr.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// A rejected box is not an error: box_normalize reports it with valid=false and the
// drop reason used in run reports.
package server
