package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xonecas/symb-agent/internal/delta"
	"github.com/xonecas/symb-agent/internal/hashline"
	"github.com/xonecas/symb-agent/internal/mcp"
)

// WriteArgs represents arguments for the Write tool.
type WriteArgs struct {
	File    string `json:"file"`
	Content string `json:"content"`
}

// NewWriteTool creates the Write tool definition. Unlike Edit's create
// operation, Write overwrites an existing file unconditionally — it is
// the escape hatch for whole-file rewrites the anchor-based Edit tool
// cannot express cheaply.
func NewWriteTool() mcp.Tool {
	return mcp.Tool{
		Name:        "Write",
		Description: `Writes full content to a file, creating it or overwriting it entirely. Prefer Edit for targeted changes to existing files; use Write for new files or full rewrites.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file":    {"type": "string", "description": "Path to the file to write"},
				"content": {"type": "string", "description": "Full file content"}
			},
			"required": ["file", "content"]
		}`),
	}
}

// WriteHandler handles Write tool calls.
type WriteHandler struct {
	deltaTracker *delta.Tracker
}

// NewWriteHandler creates a handler for the Write tool.
func NewWriteHandler(dt *delta.Tracker) *WriteHandler {
	return &WriteHandler{deltaTracker: dt}
}

// Handle implements the mcp.ToolHandler interface.
func (h *WriteHandler) Handle(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args WriteArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.File == "" {
		return toolError("File path cannot be empty"), nil
	}

	absPath, err := validatePath(args.File)
	if err != nil {
		return toolError("%v", err), nil
	}

	existing, readErr := os.ReadFile(absPath)
	existed := readErr == nil

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return toolError("Failed to create directories: %v", err), nil
	}

	if h.deltaTracker != nil {
		if existed {
			h.deltaTracker.RecordModify(absPath, existing)
		} else {
			h.deltaTracker.RecordCreate(absPath)
		}
	}

	if err := os.WriteFile(absPath, []byte(args.Content), 0600); err != nil {
		return toolError("Failed to write file: %v", err), nil
	}

	tagged := hashline.TagLines(args.Content, 1)
	verb := "Created"
	if existed {
		verb = "Overwrote"
	}
	return toolText(fmt.Sprintf("%s %s (%d lines):\n\n%s", verb, args.File, len(tagged), hashline.FormatTagged(tagged))), nil
}

// LsArgs represents arguments for the Ls tool.
type LsArgs struct {
	Path string `json:"path,omitempty"`
}

// NewLsTool creates the Ls tool definition.
func NewLsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "Ls",
		Description: "Lists the immediate contents of a directory (not recursive). Defaults to the working directory.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory to list. Defaults to the working directory."}
			}
		}`),
	}
}

// MakeLsHandler creates a handler for the Ls tool.
func MakeLsHandler() mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args LsArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		dir := args.Path
		if dir == "" {
			dir = "."
		}
		absPath, err := validatePath(dir)
		if err != nil {
			return toolError("%v", err), nil
		}

		entries, err := os.ReadDir(absPath)
		if err != nil {
			return toolError("Failed to list directory: %v", err), nil
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)

		if len(names) == 0 {
			return toolText(fmt.Sprintf("%s is empty", dir)), nil
		}
		return toolText(fmt.Sprintf("%s:\n%s", dir, strings.Join(names, "\n"))), nil
	}
}
