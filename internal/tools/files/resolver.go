package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned for paths that leave the workspace root.
var ErrOutsideWorkspace = errors.New("path escapes workspace")

// Resolver resolves and validates workspace-relative paths.
type Resolver struct {
	Root string
}

// Resolve returns an absolute, cleaned path within the workspace root.
// Absolute paths are accepted when they fall inside the root. Symlinks in the
// existing part of the path are followed before the containment check.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	rootAbs, err := r.root()
	if err != nil {
		return "", err
	}
	target := clean
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !within(rootAbs, targetAbs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	if real, err := evalExisting(targetAbs); err == nil && !within(rootAbs, real) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return targetAbs, nil
}

func (r Resolver) root() (string, error) {
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootAbs = real
	}
	return rootAbs, nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// evalExisting resolves symlinks in the longest existing prefix of path.
func evalExisting(path string) (string, error) {
	var missing []string
	current := path
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				real = filepath.Join(real, missing[i])
			}
			return real, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}
