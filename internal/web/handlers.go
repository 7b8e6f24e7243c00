package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/cjeanneret/StepSeq/internal/debug"
	"github.com/cjeanneret/StepSeq/internal/hw/button"
	"github.com/cjeanneret/StepSeq/internal/journal"
	"github.com/cjeanneret/StepSeq/internal/logic/motion"
)

const (
	defaultHistory = 50
	maxHistory     = 1000
)

// StatusSource provides the controller snapshot.
type StatusSource interface {
	Status() motion.Status
}

// HistorySource provides stored transitions, newest first.
type HistorySource interface {
	Recent(n int) ([]journal.Entry, error)
}

// Presser closes a virtual button.
type Presser interface {
	Press(name string) error
}

// Handlers holds dependencies for HTTP handlers. History, Metrics and
// Buttons are optional; their routes answer 404 when unset.
type Handlers struct {
	Status      StatusSource
	Broadcaster *StatusBroadcaster
	History     HistorySource
	Metrics     http.Handler
	Buttons     Presser
	staticFS    fs.FS
}

// NewHandlers creates handlers with the required dependencies.
func NewHandlers(status StatusSource, broadcaster *StatusBroadcaster, staticFS fs.FS) *Handlers {
	return &Handlers{
		Status:      status,
		Broadcaster: broadcaster,
		staticFS:    staticFS,
	}
}

// HandleStatus returns the controller snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Status.Status())
}

// HandleHistory returns the last n journal entries (?n=, default 50).
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	n := defaultHistory
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 || v > maxHistory {
			http.Error(w, "n must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		n = v
	}
	entries, err := h.History.Recent(n)
	if err != nil {
		debug.Error(err)
		http.Error(w, "read journal failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleMetrics delegates to the Prometheus handler.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Metrics == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	h.Metrics.ServeHTTP(w, r)
}

// HandlePress handles POST /buttons/{name}/press.
func (h *Handlers) HandlePress(w http.ResponseWriter, r *http.Request) {
	if h.Buttons == nil {
		http.Error(w, "virtual buttons need mock GPIO", http.StatusNotFound)
		return
	}
	name := r.PathValue("name")
	err := h.Buttons.Press(name)
	switch {
	case errors.Is(err, button.ErrUnknownButton):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, button.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.Broadcaster.BroadcastMsg("virtual " + name + " press")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pressed", "button": name})
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatusStream handles GET /status/stream for SSE. The current
// snapshot is sent first so clients need not poll /status.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	if snapshot, err := json.Marshal(h.Status.Status()); err == nil {
		w.Write([]byte("event: status\ndata: " + string(snapshot) + "\n\n"))
	}
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Error(err)
	}
}
