// Package workspace implements the builtin "workspace" provider's tool
// surface from spec §4.4: file operations, shell execution, export
// operations, process-management tools, and the get_service_context
// sidecar. Ported from the runtime's mcp/builtin/workspace/*.rs handlers —
// same validate-then-execute-then-respond shape, generalized from
// MCPResponse JSON-RPC envelopes to the host mcp.Server's ToolRequest/
// ToolResponse contract.
package workspace

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	mcp "github.com/agentrt/toolrt"
	"github.com/agentrt/toolrt/internal/session"
)

// DirEntry is one row of a list_directory result.
type DirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size *int64 `json:"size,omitempty"`
}

// ReadFile streams path, optionally restricted to [startLine, endLine]
// (1-based, inclusive). Rejects startLine > endLine.
func ReadFile(fm *session.FileManager, path string, startLine, endLine *int) (string, error) {
	if startLine != nil && endLine != nil && *startLine > *endLine {
		return "", mcp.NewToolErrorInvalidParams("start_line must be less than or equal to end_line")
	}

	abs, err := fm.ValidatePath(path)
	if err != nil {
		return "", err
	}

	if startLine == nil && endLine == nil {
		return fm.ReadFileAsString(path)
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()

	start := 1
	if startLine != nil {
		start = *startLine
	}
	end := int(^uint(0) >> 1)
	if endLine != nil {
		end = *endLine
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	current := 1
	for scanner.Scan() {
		if current >= start && current <= end {
			lines = append(lines, scanner.Text())
		}
		if current > end {
			break
		}
		current++
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// WriteFile validates mode ("w" or "a", defaulting to "w") and writes
// content through the file manager.
func WriteFile(fm *session.FileManager, path, content, mode string) error {
	if mode == "" {
		mode = "w"
	}
	if mode != "w" && mode != "a" {
		return mcp.NewToolErrorInvalidParams(fmt.Sprintf("invalid mode %q: use \"w\" or \"a\"", mode))
	}
	return fm.WriteFileString(path, content, mode)
}

// ListDirectory lists path's entries sorted directories-then-files, then
// by name.
func ListDirectory(fm *session.FileManager, path string) ([]DirEntry, error) {
	if path == "" {
		path = "."
	}
	abs, err := fm.ValidatePath(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}

	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		kind := "other"
		var size *int64
		switch {
		case info.IsDir():
			kind = "directory"
		case info.Mode().IsRegular():
			kind = "file"
			s := info.Size()
			size = &s
		}
		out = append(out, DirEntry{Name: e.Name(), Type: kind, Size: size})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type == "directory"
		}
		return out[i].Name < out[j].Name
	})

	return out, nil
}

// LineReplacement is one edit in a replace_lines_in_file request.
// 1-based, inclusive; EndLine 0 means "same as StartLine"; an empty
// NewContent (with HasNewContent true) or a missing NewContent both mean
// "delete this range".
type LineReplacement struct {
	StartLine      int
	EndLine        int
	NewContent     string
	HasNewContent  bool
}

// ReplaceLinesInFile applies every replacement against the file's
// *original* line numbering — all ranges are resolved before any edit is
// applied, so edits never see a partially rewritten file.
func ReplaceLinesInFile(fm *session.FileManager, path string, replacements []LineReplacement) error {
	abs, err := fm.ValidatePath(path)
	if err != nil {
		return err
	}

	original, err := readLines(abs)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	type resolved struct {
		start, end int
		content    string
	}
	byRange := make(map[string]resolved)
	var order []string

	for _, r := range replacements {
		end := r.EndLine
		if end == 0 {
			end = r.StartLine
		}
		if r.StartLine > end {
			return mcp.NewToolErrorInvalidParams("start_line must be <= end_line")
		}
		if r.StartLine == 0 || end > len(original) {
			return mcp.NewToolErrorInvalidParams(fmt.Sprintf("line range %d-%d is out of bounds (file has %d lines)", r.StartLine, end, len(original)))
		}
		content := ""
		if r.HasNewContent {
			content = r.NewContent
		}
		key := fmt.Sprintf("%d-%d", r.StartLine, end)
		if _, exists := byRange[key]; !exists {
			order = append(order, key)
		}
		byRange[key] = resolved{start: r.StartLine, end: end, content: content}
	}

	newLines := make([]string, len(original))
	copy(newLines, original)

	// Apply from the highest start line down, so earlier edits' indices
	// are never invalidated by a later splice.
	sort.Slice(order, func(i, j int) bool {
		return byRange[order[i]].start > byRange[order[j]].start
	})

	for _, key := range order {
		rep := byRange[key]
		startIdx := rep.start - 1
		endIdx := rep.end // exclusive
		if rep.content == "" {
			newLines = append(newLines[:startIdx], newLines[endIdx:]...)
		} else {
			tail := append([]string{rep.content}, newLines[endIdx:]...)
			newLines = append(newLines[:startIdx], tail...)
		}
	}

	return fm.WriteFileString(path, strings.Join(newLines, "\n"), "w")
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// ImportFile copies an external absolute path into the workspace at a
// validated relative destination, rejecting directories.
func ImportFile(fm *session.FileManager, srcAbsPath, destRelPath string) (string, error) {
	info, err := os.Stat(srcAbsPath)
	if err != nil {
		return "", fmt.Errorf("invalid source path: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source path must be a file, not a directory")
	}
	return fm.CopyFileFromExternal(srcAbsPath, destRelPath)
}
