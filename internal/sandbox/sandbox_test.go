package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupSandbox(t *testing.T) (*Sandbox, string) {
	t.Helper()
	parent := t.TempDir()
	base := filepath.Join(parent, "base")
	if err := os.MkdirAll(filepath.Join(base, "apps", "api"), 0755); err != nil {
		t.Fatalf("failed to create base: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "apps", "api", "server.js"), []byte("//"), 0644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(parent, "base-evil"), 0755); err != nil {
		t.Fatalf("failed to create sibling: %v", err)
	}
	if err := os.WriteFile(filepath.Join(parent, "base-evil", "x.js"), []byte("//"), 0644); err != nil {
		t.Fatalf("failed to write sibling script: %v", err)
	}

	sb, err := New(base)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return sb, parent
}

func TestResolveWithinBase(t *testing.T) {
	sb, _ := setupSandbox(t)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty is base", "", ""},
		{"directory", "apps", "apps"},
		{"nested file", "apps/api/server.js", "apps/api/server.js"},
		{"trailing slash", "apps/api/", "apps/api"},
		{"dot segments", "./apps/./api", "apps/api"},
		{"doubled separators", "apps//api", "apps/api"},
		{"missing file", "apps/new.js", "apps/new.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sb.Resolve(tt.in)
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.in, err)
			}
			if !isPathWithin(got, sb.Base()) {
				t.Errorf("Resolve(%q) = %q, not within %q", tt.in, got, sb.Base())
			}
			if rel := sb.Rel(got); rel != tt.want {
				t.Errorf("Rel(Resolve(%q)) = %q, want %q", tt.in, rel, tt.want)
			}
		})
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	sb, parent := setupSandbox(t)

	tests := []string{
		"..",
		"../",
		"../base-evil/x.js",
		"apps/../../base-evil",
		"apps/../..",
		`..\base-evil`,
		"/etc/passwd",
		filepath.Join(parent, "base-evil"),
		"apps/\x00x",
	}

	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := sb.Resolve(in)
			if err == nil {
				t.Fatalf("Resolve(%q) should be rejected", in)
			}
			if !errors.Is(err, ErrOutsideBase) {
				t.Errorf("expected ErrOutsideBase, got %v", err)
			}
			var rej *RejectionError
			if !errors.As(err, &rej) || rej.Input != in {
				t.Errorf("expected RejectionError carrying input, got %v", err)
			}
		})
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	sb, parent := setupSandbox(t)

	link := filepath.Join(sb.Base(), "evil-link")
	if err := os.Symlink(filepath.Join(parent, "base-evil"), link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if _, err := sb.Resolve("evil-link/x.js"); !errors.Is(err, ErrOutsideBase) {
		t.Errorf("expected symlink escape to be rejected, got %v", err)
	}
}

func TestResolveRejectsSymlinkParentWithMissingLeaf(t *testing.T) {
	sb, parent := setupSandbox(t)

	outside := filepath.Join(parent, "outside")
	os.MkdirAll(outside, 0755)
	if err := os.Symlink(outside, filepath.Join(sb.Base(), "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	for _, rel := range []string{"link/new.js", "link/deeper/new.js"} {
		if _, err := sb.Resolve(rel); !errors.Is(err, ErrOutsideBase) {
			t.Errorf("Resolve(%q) = %v, want ErrOutsideBase", rel, err)
		}
	}

	if err := os.Symlink(filepath.Join(outside, "later.js"), filepath.Join(sb.Base(), "dangling.js")); err != nil {
		t.Fatalf("symlink failed: %v", err)
	}
	if _, err := sb.Resolve("dangling.js"); !errors.Is(err, ErrOutsideBase) {
		t.Errorf("dangling symlink should be rejected, got %v", err)
	}

	// A missing leaf under an ordinary directory still resolves.
	got, err := sb.Resolve("apps/new/app.js")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if want := filepath.Join(sb.Base(), "apps", "new", "app.js"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestIsPathWithinSegmentBoundary(t *testing.T) {
	root := filepath.FromSlash("/srv/base")
	tests := []struct {
		path string
		want bool
	}{
		{"/srv/base", true},
		{"/srv/base/app.js", true},
		{"/srv/base-evil", false},
		{"/srv/base-evil/app.js", false},
		{"/srv/basement", false},
		{"/srv", false},
	}
	for _, tt := range tests {
		if got := isPathWithin(filepath.FromSlash(tt.path), root); got != tt.want {
			t.Errorf("isPathWithin(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestNewRequiresDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	os.WriteFile(file, []byte("x"), 0644)

	if _, err := New(""); err == nil {
		t.Error("expected error for empty base")
	}
	if _, err := New(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing base")
	}
	if _, err := New(file); err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("expected not-a-directory error, got %v", err)
	}
}
