package index

import (
	"fmt"
)

// Inconsistency is one chunk ID present on only one side of the
// manifest/vector-store boundary.
type Inconsistency struct {
	ChunkID int64
	Details string
}

// CheckResult is the outcome of a consistency check between a Manifest's
// recorded chunk IDs and a VectorStore's actual contents.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
}

// VerifyConsistency checks that the union of the manifest's per-file
// chunk IDs equals the set of IDs the live store actually holds
// (testable property 2: after any successful refresh, ∪ FileRecord.chunk_ids
// equals {chunk.id | chunk ∈ VectorStore}). Intended as an optional debug
// hook, not part of the query or write path.
func (m *Manager) VerifyConsistency() (*CheckResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.live == nil {
		return nil, fmt.Errorf("index is not ready")
	}

	manifestIDs := make(map[int64]bool)
	for _, record := range m.manifest.FileRecords(m.indexName) {
		for _, id := range record.ChunkIDs {
			manifestIDs[id] = true
		}
	}

	storeIDs := make(map[int64]bool)
	for _, id := range m.live.IDs() {
		storeIDs[id] = true
	}

	var issues []Inconsistency
	for id := range manifestIDs {
		if !storeIDs[id] {
			issues = append(issues, Inconsistency{ChunkID: id, Details: "present in manifest but missing from vector store"})
		}
	}
	for id := range storeIDs {
		if !manifestIDs[id] {
			issues = append(issues, Inconsistency{ChunkID: id, Details: "present in vector store but missing from manifest"})
		}
	}

	return &CheckResult{Checked: len(manifestIDs), Inconsistencies: issues}, nil
}
