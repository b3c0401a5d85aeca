// Package changedetect compares a manifest's recorded per-file state
// against a fresh enumeration of the corpus and reports what changed.
// Grounded on detect_file_changes's set arithmetic over stored vs.
// current file metadata, reimplemented against the Go Manifest and
// Loader types instead of ad hoc dicts.
package changedetect

import (
	"github.com/dreamerlzl/markdown-qa/internal/loader"
	"github.com/dreamerlzl/markdown-qa/internal/manifest"
)

// Changes is the result of comparing the manifest against the current
// enumeration: the set of paths that appeared, were modified in place,
// or disappeared since the last refresh.
type Changes struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether no changes were detected.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Detect compares stored (the manifest's recorded FileRecords for an
// index) against current (a fresh Loader enumeration) and returns the
// added, modified, and deleted path sets. A file is modified when its
// current mtime differs from the stored mtime; mtime-granularity misses
// are an accepted trade-off, not a bug.
func Detect(stored map[string]manifest.FileRecord, current []loader.File) Changes {
	currentByPath := make(map[string]loader.File, len(current))
	for _, f := range current {
		currentByPath[f.Path] = f
	}

	var changes Changes

	for path, file := range currentByPath {
		record, existed := stored[path]
		if !existed {
			changes.Added = append(changes.Added, path)
			continue
		}
		if file.Mtime != record.Mtime {
			changes.Modified = append(changes.Modified, path)
		}
	}

	for path := range stored {
		if _, stillPresent := currentByPath[path]; !stillPresent {
			changes.Deleted = append(changes.Deleted, path)
		}
	}

	return changes
}
