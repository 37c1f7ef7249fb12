package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// invalidFilenameChars covers the union of characters rejected by the
// filesystems this tool targets, so a tree downloaded on one platform maps
// the same way on another.
const invalidFilenameChars = `/\:*?"<>|`

// SafeFilename replaces filesystem-invalid characters and control characters
// in name with underscores.
func SafeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(invalidFilenameChars, r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PathMapper maps a remote hierarchy path onto the local download tree.
type PathMapper struct {
	root string
}

// NewPathMapper creates a PathMapper rooted at the download directory.
func NewPathMapper(root string) *PathMapper {
	return &PathMapper{root: root}
}

// Root returns the local download root.
func (m *PathMapper) Root() string {
	return m.root
}

// EnsureLocalPath walks the hierarchy, skipping the synthetic root entry,
// creating each missing directory with a sanitized name, and returns the
// leaf directory path. Repeated calls with the same hierarchy are no-ops.
func (m *PathMapper) EnsureLocalPath(hierarchy []PathEntry) (string, error) {
	dir := m.root
	for i, entry := range hierarchy {
		if i == 0 {
			continue
		}
		dir = filepath.Join(dir, SafeFilename(entry.Name))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create local path %s: %w", dir, err)
	}
	return dir, nil
}

// EnsureSubdir creates (if missing) a sanitized child directory of dir.
func (m *PathMapper) EnsureSubdir(dir, name string) (string, error) {
	sub := filepath.Join(dir, SafeFilename(name))
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return "", fmt.Errorf("create local path %s: %w", sub, err)
	}
	return sub, nil
}
