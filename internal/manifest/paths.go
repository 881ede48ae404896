package manifest

import (
	"path/filepath"
	"strings"

	"oneiric/internal/api"
)

// SanitizePath resolves p relative to the cache root and guarantees the
// result stays inside it. Absolute paths and parent-directory escapes
// produce a PathTraversalError.
func SanitizePath(cacheRoot, p string) (string, error) {
	if p == "" {
		return "", &api.PathTraversalError{Path: p, Root: cacheRoot}
	}
	if filepath.IsAbs(p) {
		// Absolute paths are allowed only when already inside the root.
		cleaned := filepath.Clean(p)
		if !within(cacheRoot, cleaned) {
			return "", &api.PathTraversalError{Path: p, Root: cacheRoot}
		}
		return cleaned, nil
	}
	joined := filepath.Clean(filepath.Join(cacheRoot, p))
	if !within(cacheRoot, joined) {
		return "", &api.PathTraversalError{Path: p, Root: cacheRoot}
	}
	return joined, nil
}

func within(root, p string) bool {
	root = filepath.Clean(root)
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
