// Package browser lists sandboxed directories for script selection.
package browser

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"procpanel/internal/sandbox"
)

var (
	ErrAccessDenied = errors.New("access denied")
	ErrReadDir      = errors.New("failed to read directory")
)

// Result is one directory listing. Path is relative to the base directory.
type Result struct {
	Path  string   `json:"path"`
	Dirs  []string `json:"dirs"`
	Files []string `json:"files"`
}

type Browser struct {
	sandbox    *sandbox.Sandbox
	extensions map[string]bool
}

// New lists files whose extension is one of extensions (".js", "sh", ...).
func New(sb *sandbox.Sandbox, extensions []string) *Browser {
	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}
	return &Browser{sandbox: sb, extensions: exts}
}

func (b *Browser) Browse(rel string) (Result, error) {
	dir, err := b.sandbox.Resolve(rel)
	if errors.Is(err, sandbox.ErrOutsideBase) {
		slog.Warn("browser: path rejected", "dir", rel, "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	if err != nil {
		slog.Warn("browser: resolve failed", "dir", rel, "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrReadDir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("browser: read failed", "dir", rel, "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrReadDir, err)
	}

	result := Result{
		Path:  b.sandbox.Rel(dir),
		Dirs:  []string{},
		Files: []string{},
	}
	for _, entry := range entries {
		name := entry.Name()
		mode := entry.Type()
		if mode&fs.ModeSymlink != 0 {
			target, ok := b.followLink(path.Join(result.Path, name))
			if !ok {
				continue
			}
			mode = target
		}
		switch {
		case mode.IsDir():
			result.Dirs = append(result.Dirs, name)
		case mode.IsRegular() && b.isScript(name):
			result.Files = append(result.Files, name)
		}
	}
	sort.Strings(result.Dirs)
	sort.Strings(result.Files)
	return result, nil
}

// followLink returns the mode of a symlink's target when the target stays
// inside the sandbox.
func (b *Browser) followLink(rel string) (fs.FileMode, bool) {
	target, err := b.sandbox.Resolve(rel)
	if err != nil {
		return 0, false
	}
	info, err := os.Stat(target)
	if err != nil {
		return 0, false
	}
	return info.Mode().Type(), true
}

func (b *Browser) isScript(name string) bool {
	return b.extensions[strings.ToLower(filepath.Ext(name))]
}
