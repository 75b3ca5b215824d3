package handlers

import (
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

type PageData struct {
	Title            string
	ScriptExtensions string
}

// TemplateHandler renders the single-page UI shell.
type TemplateHandler struct {
	templates *template.Template
	data      PageData
}

func NewTemplateHandler(templatesFS fs.FS, extensions []string) (*TemplateHandler, error) {
	tmpl, err := template.ParseFS(templatesFS, "*.html")
	if err != nil {
		return nil, err
	}

	return &TemplateHandler{
		templates: tmpl,
		data: PageData{
			Title:            "Process Panel",
			ScriptExtensions: strings.Join(extensions, ","),
		},
	}, nil
}

func (th *TemplateHandler) ServeTemplate(templateName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		if err := th.templates.ExecuteTemplate(w, templateName+".html", th.data); err != nil {
			slog.Error("http: execute template", "template", templateName, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}
