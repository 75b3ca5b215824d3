// Package sandbox confines user-supplied relative paths to a base directory.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideBase = errors.New("path escapes base directory")

// RejectionError describes why a path was refused. It matches ErrOutsideBase.
type RejectionError struct {
	Input  string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %q (%s)", ErrOutsideBase, e.Input, e.Reason)
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrOutsideBase
}

// Sandbox resolves paths relative to a fixed, canonical base directory.
type Sandbox struct {
	base string
}

// New canonicalizes base once. The directory must exist.
func New(base string) (*Sandbox, error) {
	if strings.TrimSpace(base) == "" {
		return nil, errors.New("base directory is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	// Resolve symlinks so comparisons are stable (macOS /var -> /private/var).
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base directory %s is not a directory", canonical)
	}
	return &Sandbox{base: canonical}, nil
}

// Base returns the canonical base directory.
func (s *Sandbox) Base() string {
	return s.base
}

// Resolve joins rel onto the base directory and returns the canonical
// absolute path, or a *RejectionError when the result would leave the base.
// An empty rel resolves to the base itself.
func (s *Sandbox) Resolve(rel string) (string, error) {
	if rel == "" {
		return s.base, nil
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", &RejectionError{Input: rel, Reason: "absolute path"}
	}
	if strings.ContainsRune(rel, 0) {
		return "", &RejectionError{Input: rel, Reason: "invalid character"}
	}
	for _, segment := range strings.FieldsFunc(rel, isSeparator) {
		if segment == ".." {
			return "", &RejectionError{Input: rel, Reason: "parent directory reference"}
		}
	}

	joined := filepath.Join(s.base, filepath.FromSlash(rel))

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve %q: %w", rel, err)
		}
		// Not on disk yet: resolve the deepest existing ancestor so a
		// symlinked parent cannot point outside the base.
		resolved, err = resolveMissing(joined)
		if errors.Is(err, errDanglingLink) {
			return "", &RejectionError{Input: rel, Reason: "dangling symlink"}
		}
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", rel, err)
		}
	}

	if !isPathWithin(resolved, s.base) {
		return "", &RejectionError{Input: rel, Reason: "resolves outside base directory"}
	}
	return resolved, nil
}

var errDanglingLink = errors.New("dangling symlink")

// resolveMissing canonicalizes the longest existing prefix of path and
// joins the missing remainder back on. A missing component that is itself a
// symlink has an unknown target and is refused.
func resolveMissing(path string) (string, error) {
	missing := []string{filepath.Base(path)}
	dir := filepath.Dir(path)
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			if _, err := os.Lstat(filepath.Join(resolved, missing[0])); err == nil {
				return "", errDanglingLink
			}
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return path, nil
		}
		missing = append([]string{filepath.Base(dir)}, missing...)
		dir = parent
	}
}

// Rel returns abs relative to the base directory with forward slashes.
// The base itself maps to "".
func (s *Sandbox) Rel(abs string) string {
	rel, err := filepath.Rel(s.base, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// isPathWithin reports whether path is root or below it. Comparing with a
// trailing separator keeps /base-evil from matching /base.
func isPathWithin(path, root string) bool {
	if path == root {
		return true
	}
	if strings.HasSuffix(root, string(filepath.Separator)) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}
