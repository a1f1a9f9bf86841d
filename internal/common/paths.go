package common

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanPath sanitizes a file path to prevent directory traversal attacks
func CleanPath(p string) (string, error) {
	cleaned := filepath.Clean(p)

	for _, part := range strings.Split(filepath.ToSlash(cleaned), "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid path: contains directory traversal")
		}
	}

	if !filepath.IsAbs(cleaned) {
		abs, err := filepath.Abs(cleaned)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute path: %w", err)
		}
		cleaned = abs
	}

	return cleaned, nil
}

// ValidatePath ensures a path is within an allowed directory
func ValidatePath(p, baseDir string) (string, error) {
	cleanedPath, err := CleanPath(p)
	if err != nil {
		return "", err
	}

	cleanedBase, err := CleanPath(baseDir)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(cleanedBase, cleanedPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path is outside allowed directory")
	}

	return cleanedPath, nil
}

// JoinPath safely joins path components under base
func JoinPath(base string, elements ...string) (string, error) {
	cleanedBase, err := CleanPath(base)
	if err != nil {
		return "", err
	}

	joined := filepath.Join(append([]string{cleanedBase}, elements...)...)
	return ValidatePath(joined, cleanedBase)
}

// RemotePath joins slash-separated segments for OneLake and Fabric folder paths,
// dropping empty segments and rejecting traversal.
func RemotePath(segments ...string) (string, error) {
	var parts []string
	for _, s := range segments {
		for _, part := range strings.Split(filepath.ToSlash(s), "/") {
			switch part {
			case "", ".":
				continue
			case "..":
				return "", fmt.Errorf("invalid remote path %q: contains directory traversal", s)
			}
			parts = append(parts, part)
		}
	}
	return path.Join(parts...), nil
}
