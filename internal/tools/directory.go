package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PathInput defines the input schema shared by the directory tools.
type PathInput struct {
	Path string `json:"path"`
}

// parsePath decodes and sandboxes the path argument.
func parsePath(args json.RawMessage, deps *Dependencies) (string, *Result) {
	var input PathInput
	if err := json.Unmarshal(args, &input); err != nil {
		res := ErrorResult("invalid arguments: "+err.Error(), `Pass a JSON object like {"path": "/full/path"}`)
		return "", &res
	}
	input.Path = strings.TrimSpace(input.Path)
	if input.Path == "" {
		res := ErrorResult("path cannot be empty", "Provide the full path")
		return "", &res
	}

	abs, err := resolveWithin(input.Path, deps.roots())
	if err != nil {
		res := ErrorResult(err.Error(), "Only the project and documentation directories can be inspected")
		return "", &res
	}
	return abs, nil
}

// NewListDirectoryHandler creates the list_directory tool handler.
func NewListDirectoryHandler(deps *Dependencies) Handler {
	return func(ctx context.Context, args json.RawMessage) Result {
		path, errRes := parsePath(args, deps)
		if errRes != nil {
			return *errRes
		}

		lines, err := ListDirectory(path)
		switch {
		case errors.Is(err, ErrNotFound):
			return ErrorResult(err.Error(), "Check the path with describe_tree on a parent directory")
		case errors.Is(err, ErrNotADirectory):
			return ErrorResult(err.Error(), "Use read_file for files")
		case err != nil:
			deps.logger().Error("list_directory failed", "path", path, "error", err)
			return ErrorResult("failed to list directory: "+err.Error(), "")
		}

		if len(lines) == 0 {
			return TextResult("(empty directory)")
		}
		return TextResult(FormatResults(lines))
	}
}

// NewDescribeTreeHandler creates the describe_tree tool handler.
// The tree is returned as indented JSON.
func NewDescribeTreeHandler(deps *Dependencies) Handler {
	return func(ctx context.Context, args json.RawMessage) Result {
		path, errRes := parsePath(args, deps)
		if errRes != nil {
			return *errRes
		}

		tree := DescribeTree(path)
		data, err := json.MarshalIndent(tree, "", "  ")
		if err != nil {
			return ErrorResult("failed to encode tree: "+err.Error(), "")
		}
		return TextResult(string(data))
	}
}

// NewReadFileHandler creates the read_file tool handler.
func NewReadFileHandler(deps *Dependencies) Handler {
	return func(ctx context.Context, args json.RawMessage) Result {
		path, errRes := parsePath(args, deps)
		if errRes != nil {
			return *errRes
		}

		limit := int64(DefaultMaxReadBytes)
		if deps != nil && deps.MaxReadBytes > 0 {
			limit = deps.MaxReadBytes
		}

		text, truncated, err := ReadFile(path, limit)
		if err != nil {
			return ErrorResult(err.Error(), "Use list_directory to find valid file paths")
		}
		if truncated {
			text += fmt.Sprintf("\n\n[truncated after %d bytes]", limit)
		}
		return TextResult(text)
	}
}
