package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/agentrt/toolrt/internal/session"
)

// ExportResource is the "UI resource object (opaque to the core)" spec §4.4
// describes: a pointer at an exported artifact under the session
// workspace's exports/ tree, for the host shell to render as a download.
type ExportResource struct {
	URI         string
	RelPath     string
	DisplayName string
	Files       []string
}

func ensureExportsDirs(workspaceDir string) (filesDir, packagesDir string, err error) {
	filesDir = filepath.Join(workspaceDir, "exports", "files")
	packagesDir = filepath.Join(workspaceDir, "exports", "packages")
	for _, dir := range []string{filesDir, packagesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", fmt.Errorf("create export directory %s: %w", dir, err)
		}
	}
	return filesDir, packagesDir, nil
}

// ExportFile copies a workspace file into exports/files/ with a timestamp
// suffix and returns the resulting resource descriptor.
func ExportFile(fm *session.FileManager, workspaceDir, path, displayName string) (ExportResource, error) {
	srcAbs, err := fm.ValidatePath(path)
	if err != nil {
		return ExportResource{}, err
	}
	info, err := os.Stat(srcAbs)
	if err != nil || !info.Mode().IsRegular() {
		return ExportResource{}, fmt.Errorf("file not found or is not a regular file")
	}

	filesDir, _, err := ensureExportsDirs(workspaceDir)
	if err != nil {
		return ExportResource{}, err
	}

	if displayName == "" {
		displayName = path
	}

	timestamp := time.Now().Format("20060102_150405")
	ext := filepath.Ext(srcAbs)
	stem := strings.TrimSuffix(filepath.Base(srcAbs), ext)
	var exportFilename string
	if ext == "" {
		exportFilename = fmt.Sprintf("%s_%s", stem, timestamp)
	} else {
		exportFilename = fmt.Sprintf("%s_%s%s", stem, timestamp, ext)
	}

	destAbs := filepath.Join(filesDir, exportFilename)
	if err := copyFile(srcAbs, destAbs); err != nil {
		return ExportResource{}, fmt.Errorf("copy file: %w", err)
	}

	relPath := "exports/files/" + exportFilename
	return ExportResource{
		URI:         "workspace://" + relPath,
		RelPath:     relPath,
		DisplayName: displayName,
		Files:       []string{path},
	}, nil
}

// ExportZip writes a deflate-compressed ZIP containing every existing
// regular file named in files, returning the resulting resource
// descriptor. Missing or non-regular-file entries are silently skipped,
// matching the original's best-effort packaging.
func ExportZip(fm *session.FileManager, workspaceDir string, files []string, packageName string) (ExportResource, error) {
	if len(files) == 0 {
		return ExportResource{}, fmt.Errorf("files array cannot be empty")
	}
	if packageName == "" {
		packageName = "workspace_export"
	}

	_, packagesDir, err := ensureExportsDirs(workspaceDir)
	if err != nil {
		return ExportResource{}, err
	}

	timestamp := time.Now().Format("20060102_150405")
	zipFilename := fmt.Sprintf("%s_%s.zip", packageName, timestamp)
	zipPath := filepath.Join(packagesDir, zipFilename)

	zipFile, err := os.Create(zipPath)
	if err != nil {
		return ExportResource{}, fmt.Errorf("create zip file: %w", err)
	}
	defer zipFile.Close()

	zw := zip.NewWriter(zipFile)

	var processed []string
	for _, relPath := range files {
		srcAbs, err := fm.ValidatePath(relPath)
		if err != nil {
			continue
		}
		info, err := os.Stat(srcAbs)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		archivePath := strings.ReplaceAll(relPath, "\\", "/")
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     archivePath,
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
		if err != nil {
			continue
		}

		content, err := os.ReadFile(srcAbs)
		if err != nil {
			continue
		}
		if _, err := w.Write(content); err != nil {
			continue
		}
		processed = append(processed, relPath)
	}

	if err := zw.Close(); err != nil {
		return ExportResource{}, fmt.Errorf("finalize zip: %w", err)
	}

	if len(processed) == 0 {
		os.Remove(zipPath)
		return ExportResource{}, fmt.Errorf("no files were successfully added to the zip")
	}

	relPath := "exports/packages/" + zipFilename
	return ExportResource{
		URI:         "workspace://" + relPath,
		RelPath:     relPath,
		DisplayName: zipFilename,
		Files:       processed,
	}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
