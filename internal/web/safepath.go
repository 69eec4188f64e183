package web

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SafePath resolves userPath against base and rejects any result that would
// land outside base, whether via ".." traversal or an absolute path.
func SafePath(base, userPath string) (string, error) {
	root, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	target := userPath
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)

	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory %q", userPath, root)
	}
	return target, nil
}
