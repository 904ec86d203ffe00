package tools

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// Sentinel errors for directory inspection.
var (
	ErrNotFound      = errors.New("path not found")
	ErrNotADirectory = errors.New("not a directory")
	ErrOutsideRoot   = errors.New("path outside allowed roots")
)

// Node types reported by DescribeTree.
const (
	NodeFile      = "file"
	NodeDirectory = "directory"
	NodeError     = "error"
)

// readDir lists a directory; tests replace it to simulate unreadable directories.
var readDir = os.ReadDir

// maxTreeDepth bounds DescribeTree recursion so symlink cycles terminate.
const maxTreeDepth = 64

// Node is one entry of a described directory tree.
// Children is nil for files and error nodes, and non-nil (possibly empty) for directories.
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Type     string  `json:"type"`
	Children []*Node `json:"children,omitzero"`
	Error    string  `json:"error,omitempty"`
}

// ListDirectory returns one line per entry of path, "[DIR] name" or
// "[FILE] name", ordered by name.
func ListDirectory(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		prefix := "[FILE]"
		// Stat follows symlinks so a link to a directory is reported as one.
		if st, err := os.Stat(filepath.Join(path, entry.Name())); err == nil && st.IsDir() {
			prefix = "[DIR]"
		}
		lines = append(lines, prefix+" "+entry.Name())
	}
	return lines, nil
}

// DescribeTree recursively describes path. It never fails: problems with an
// individual entry become an error node, and a directory that cannot be read
// carries an error with no children.
func DescribeTree(path string) *Node {
	return describe(path, 0)
}

func describe(path string, depth int) *Node {
	node := &Node{Name: filepath.Base(path), Path: path}

	info, err := os.Stat(path)
	if err != nil {
		node.Type = NodeError
		node.Error = err.Error()
		return node
	}
	if !info.IsDir() {
		node.Type = NodeFile
		return node
	}

	node.Type = NodeDirectory
	node.Children = []*Node{}
	if depth >= maxTreeDepth {
		node.Error = fmt.Sprintf("maximum depth %d exceeded", maxTreeDepth)
		return node
	}

	entries, err := readDir(path)
	if err != nil {
		node.Error = err.Error()
		return node
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		node.Children = append(node.Children, describe(filepath.Join(path, name), depth+1))
	}
	return node
}

// ReadFile returns up to limit bytes of a regular file as text. Invalid UTF-8
// is replaced rather than rejected. truncated reports whether the file was longer.
func ReadFile(path string, limit int64) (text string, truncated bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false, err
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("%s is a directory", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return "", false, err
	}
	if int64(len(data)) > limit {
		data = data[:limit]
		truncated = true
	}

	text = string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	return text, truncated, nil
}

// resolveWithin returns the absolute form of path if it lies inside one of
// roots. An empty roots list allows every path.
func resolveWithin(path string, roots []string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if len(roots) == 0 {
		return abs, nil
	}
	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
}
