package handlers

import (
	"errors"
	"net/http"

	"procpanel/internal/browser"
)

type BrowseHandler struct {
	browser *browser.Browser
}

func NewBrowseHandler(b *browser.Browser) *BrowseHandler {
	return &BrowseHandler{browser: b}
}

func (h *BrowseHandler) Browse(w http.ResponseWriter, r *http.Request) {
	result, err := h.browser.Browse(r.URL.Query().Get("dir"))
	if errors.Is(err, browser.ErrReadDir) {
		writeError(w, http.StatusInternalServerError, "Failed to read directory")
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
