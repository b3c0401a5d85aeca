// Package loader enumerates the Markdown corpus. It is radically simpler
// than a general-purpose project scanner: recursive *.md discovery, a
// content read, and an mtime report, with per-file and per-root error
// isolation so one bad file or missing directory never aborts the rest.
package loader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// File is one discovered Markdown document: its absolute path, its
// modification time (seconds since epoch, matching the filesystem's own
// precision), and its content.
type File struct {
	Path    string
	Mtime   float64
	Content []byte
}

// Loader enumerates *.md files recursively under a set of root
// directories.
type Loader struct {
	log *slog.Logger
}

// New creates a Loader. A nil logger falls back to slog.Default.
func New(log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{log: log}
}

// Load enumerates every *.md file under each root, recursively, reading
// its content and mtime. A file that cannot be read is skipped with a
// warning, not a fatal error. A root that does not exist (or is not a
// directory) is reported but does not abort enumeration of the other
// roots. If every root fails, Load returns an error.
func (l *Loader) Load(roots []string) ([]File, error) {
	var files []File
	failedRoots := 0

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			failedRoots++
			l.log.Warn("corpus root is not accessible", "root", root, "error", err)
			continue
		}

		found, err := l.loadRoot(root)
		if err != nil {
			failedRoots++
			l.log.Warn("failed to enumerate corpus root", "root", root, "error", err)
			continue
		}
		files = append(files, found...)
	}

	if len(roots) > 0 && failedRoots == len(roots) {
		return nil, fmt.Errorf("all %d corpus root(s) failed to enumerate", len(roots))
	}

	return files, nil
}

func (l *Loader) loadRoot(root string) ([]File, error) {
	var files []File

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			l.log.Warn("error walking corpus tree", "path", path, "error", err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			l.log.Warn("failed to resolve absolute path", "path", path, "error", err)
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			l.log.Warn("failed to read file, skipping", "path", abs, "error", err)
			return nil
		}

		files = append(files, File{
			Path:    abs,
			Mtime:   float64(info.ModTime().UnixNano()) / 1e9,
			Content: content,
		})
		return nil
	})

	return files, err
}
