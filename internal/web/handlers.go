package web

import (
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/SmileGo/internal/debug"
	"github.com/cjeanneret/SmileGo/internal/logic/capture"
	"golang.org/x/time/rate"
)

// Counter is the running smile counter. *capture.Controller implements it.
type Counter interface {
	Snapshot() capture.Snapshot
	Stop()
}

// Settings are the effective counting settings shown by the page.
type Settings struct {
	Camera     string  `json:"camera"`
	Oracle     string  `json:"oracle"`
	WidthPx    int     `json:"width_px"`
	HeightPx   int     `json:"height_px"`
	Threshold  float64 `json:"threshold"`
	DebounceMs int     `json:"debounce_ms"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Counter     Counter
	Settings    Settings
	staticFS    fs.FS
	status      *rate.Limiter
}

// NewHandlers creates handlers with the given dependencies.
// If counter is nil, /status and POST /stop return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, counter Counter, settings Settings, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Counter:     counter,
		Settings:    settings,
		staticFS:    staticFS,
		status:      rate.NewLimiter(rate.Limit(20), 40),
	}
}

// HandleConfig returns the effective settings as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Settings)
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

// HandleStatus handles GET /status with the counter snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Counter == nil {
		http.Error(w, "counter not configured", http.StatusServiceUnavailable)
		return
	}
	if !h.status.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	writeJSON(w, http.StatusOK, h.Counter.Snapshot())
}

// HandleStop handles POST /stop. Stopping twice is fine.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Counter == nil {
		http.Error(w, "counter not configured", http.StatusServiceUnavailable)
		return
	}

	debug.Info("Stop requested from %s", r.RemoteAddr)
	go h.Counter.Stop()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// HandleStatusStream handles GET /status/stream for SSE.
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

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
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

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
