package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"procpanel/internal/logs"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	followBacklog   = 64 * 1024
	followWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 32 * 1024,
}

type LogHandler struct {
	streamer *logs.Streamer
}

func NewLogHandler(s *logs.Streamer) *LogHandler {
	return &LogHandler{streamer: s}
}

// Stream writes the whole log as text/plain, chunk by chunk.
func (h *LogHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	kind, err := logs.ParseKind(r.URL.Query().Get("type"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	rc, err := h.streamer.Open(r.Context(), id, kind)
	if errors.Is(err, logs.ErrRead) {
		slog.Error("logs: open failed", "id", id, "type", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read log file")
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := logs.Copy(r.Context(), w, rc); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("logs: stream interrupted", "id", id, "type", kind, "error", err)
	}
}

// Follow upgrades to a websocket and sends the tail of the log followed by
// everything appended to it.
func (h *LogHandler) Follow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	kind, err := logs.ParseKind(r.URL.Query().Get("type"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	path, err := h.streamer.Path(r.Context(), id, kind)
	if err != nil {
		writeFailure(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("logs: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Client messages are ignored; a read error means the peer went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(b []byte) error {
		conn.SetWriteDeadline(time.Now().Add(followWriteWait))
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	offset := logs.Size(path) - followBacklog
	if offset < 0 {
		offset = 0
	}

	err = logs.Follow(ctx, path, offset, send)
	reason := ""
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return
	case os.IsNotExist(err):
		send([]byte(logs.Placeholder(id, kind)))
	case errors.Is(err, logs.ErrRotated):
		reason = "log rotated"
	default:
		slog.Warn("logs: follow stopped", "id", id, "type", kind, "error", err)
		reason = "follow failed"
	}

	conn.SetWriteDeadline(time.Now().Add(followWriteWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
}
