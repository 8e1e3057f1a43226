// Package security confines user-supplied file names to a directory.
package security

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
)

// ResolveWithin resolves name against root and rejects results outside root,
// following symlinks for the parts of either path that exist. Relative names
// are taken relative to root. An empty root confines nothing, so every name
// is rejected.
func ResolveWithin(root, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("empty path: %w", fiberr.ErrInvalidConfiguration)
	}
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("no root directory to resolve %s against: %w", name, fiberr.ErrInvalidConfiguration)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	absRoot = canonical(absRoot)

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(absRoot, path)
	}
	path = canonical(filepath.Clean(path))

	rel, err := filepath.Rel(absRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %s escapes %s: %w", name, root, fiberr.ErrInvalidConfiguration)
	}
	return path, nil
}

// canonical resolves symlinks in the longest existing prefix of path.
func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(canonical(parent), filepath.Base(path))
}
