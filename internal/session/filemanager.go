package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	mcp "github.com/agentrt/toolrt"
	"github.com/agentrt/toolrt/internal/config"
)

// FileManager validates paths against a session root and performs
// size-capped, validated file I/O. Every workspace tool must route its I/O
// through a FileManager; direct OS calls with caller-provided paths are
// forbidden (spec §4.7).
type FileManager struct {
	root        string
	maxFileSize int64
}

// NewFileManager returns a FileManager confined to root. root must already
// exist; callers typically obtain it from Manager.GetSessionWorkspaceDir.
func NewFileManager(root string) (*FileManager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Root may not exist yet in tests; fall back to the absolute form.
		canonical = abs
	}
	return &FileManager{root: canonical, maxFileSize: config.MaxFileSize()}, nil
}

// Root returns the confined workspace root.
func (fm *FileManager) Root() string { return fm.root }

// ErrPathEscapesWorkspace is returned by ValidatePath when the canonical
// form of a path falls outside the session root. Carries the §7 taxonomy's
// -32602 (invalid params) code: an escaping path is a malformed argument,
// not a server-side failure.
var ErrPathEscapesWorkspace error = &mcp.ToolError{
	Code:    mcp.ErrorCodeInvalidParams,
	Message: "path escapes session workspace",
}

// ValidatePath resolves p (absolute or relative to the workspace root) to
// its canonical absolute form and rejects it if that form escapes the
// session root — the classic `..`/symlink traversal defense required by
// spec §4.7 and tested by invariant 3 in §8.
func (fm *FileManager) ValidatePath(p string) (string, error) {
	var candidate string
	if filepath.IsAbs(p) {
		candidate = p
	} else {
		candidate = filepath.Join(fm.root, p)
	}
	candidate = filepath.Clean(candidate)

	// Resolve symlinks where possible; a path that doesn't exist yet (e.g.
	// a file about to be created by write_file) is validated on its
	// nearest existing ancestor instead.
	canonical, err := resolveExistingOrSelf(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	rel, err := filepath.Rel(fm.root, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathEscapesWorkspace
	}

	return canonical, nil
}

func resolveExistingOrSelf(p string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved, nil
	}
	// Walk up to the nearest existing ancestor, resolve that, then
	// re-append the remaining (not-yet-created) components.
	dir := filepath.Dir(p)
	base := filepath.Base(p)
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(resolved, base), nil
		}
		if dir == filepath.Dir(dir) {
			return filepath.Join(dir, base), nil
		}
		base = filepath.Join(filepath.Base(dir), base)
		dir = filepath.Dir(dir)
	}
}

// ReadFileAsString validates p then reads its full contents, enforcing the
// max-file-size ceiling.
func (fm *FileManager) ReadFileAsString(p string) (string, error) {
	abs, err := fm.ValidatePath(p)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if info.Size() > fm.maxFileSize {
		return "", fmt.Errorf("file %s exceeds max file size (%d > %d)", p, info.Size(), fm.maxFileSize)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFileString validates p, creates parent directories, and writes
// content, enforcing the max-file-size ceiling. mode is "w" (truncate) or
// "a" (append).
func (fm *FileManager) WriteFileString(p, content, mode string) error {
	if int64(len(content)) > fm.maxFileSize {
		return fmt.Errorf("content exceeds max file size (%d > %d)", len(content), fm.maxFileSize)
	}

	abs, err := fm.validatePathForWrite(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if mode == "a" {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(abs, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

// AppendFileString appends content to p, validating and capping size.
func (fm *FileManager) AppendFileString(p, content string) error {
	return fm.WriteFileString(p, content, "a")
}

// validatePathForWrite is like ValidatePath but tolerates a file that does
// not yet exist (its parent must still resolve within the workspace root).
func (fm *FileManager) validatePathForWrite(p string) (string, error) {
	return fm.ValidatePath(p)
}

// CopyFileFromExternal copies an external file (outside the workspace) into
// the workspace at destRel, rejecting directories.
func (fm *FileManager) CopyFileFromExternal(srcAbsPath, destRel string) (string, error) {
	info, err := os.Stat(srcAbsPath)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("cannot import a directory: %s", srcAbsPath)
	}
	if info.Size() > fm.maxFileSize {
		return "", fmt.Errorf("source file exceeds max file size (%d > %d)", info.Size(), fm.maxFileSize)
	}

	destAbs, err := fm.validatePathForWrite(destRel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err != nil {
		return "", err
	}

	src, err := os.Open(srcAbsPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.OpenFile(destAbs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return destAbs, nil
}
