package web

import (
	"embed"
	"io/fs"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed css/*.css js/*.js
var staticFS embed.FS

// GetTemplatesFS returns the page templates rooted at the template directory.
func GetTemplatesFS() (fs.FS, error) {
	return fs.Sub(templatesFS, "templates")
}

// GetStaticFS serves css/ and js/ under /static/.
func GetStaticFS() fs.FS {
	return staticFS
}
