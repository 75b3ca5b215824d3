package web

import (
	"io/fs"
	"testing"
)

func TestEmbeddedAssets(t *testing.T) {
	templates, err := GetTemplatesFS()
	if err != nil {
		t.Fatalf("GetTemplatesFS failed: %v", err)
	}
	if _, err := fs.Stat(templates, "index.html"); err != nil {
		t.Errorf("index.html missing: %v", err)
	}

	for _, name := range []string{"css/app.css", "js/app.js"} {
		if _, err := fs.Stat(GetStaticFS(), name); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
}
