package tooling

import (
	"fmt"
	"path/filepath"
	"strings"
)

// JailPath resolves the given userPath relative to root and ensures the result
// stays inside root. Returns the clean absolute path or an error if the path
// escapes the sandbox.
func JailPath(root, userPath string) (string, error) {
	cleanRoot := filepath.Clean(root)

	// If userPath is absolute, check if it's inside the sandbox
	if filepath.IsAbs(userPath) {
		cleanUser := filepath.Clean(userPath)
		if cleanUser == cleanRoot || strings.HasPrefix(cleanUser, cleanRoot+string(filepath.Separator)) {
			return cleanUser, nil
		}
		return "", fmt.Errorf("path escapes sandbox: %s", userPath)
	}

	// Resolve relative path against root
	resolved := filepath.Join(cleanRoot, userPath)
	resolved = filepath.Clean(resolved)

	// Verify the resolved path is inside (or equal to) root
	if resolved == cleanRoot || strings.HasPrefix(resolved, cleanRoot+string(filepath.Separator)) {
		return resolved, nil
	}

	return "", fmt.Errorf("path escapes sandbox: %s", userPath)
}
