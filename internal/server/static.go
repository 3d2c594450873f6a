package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// WelcomeMessage is served at / when the public directory has no index.html.
const WelcomeMessage = "Welcome to Our Mirror ✨"

// noCache lists files browsers must revalidate on every load, so a new worker or manifest is picked up.
var noCache = map[string]bool{
	"/sw.js":         true,
	"/manifest.json": true,
}

// StaticHandler serves the public directory.
type StaticHandler struct {
	dir    string
	files  http.Handler
	logger *log.Logger
}

// NewStaticHandler serves files under dir.
func NewStaticHandler(dir string, logger *log.Logger) *StaticHandler {
	return &StaticHandler{
		dir:    dir,
		files:  http.FileServer(http.Dir(dir)),
		logger: logger,
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *StaticHandler) Routes() []string {
	return []string{"GET /"}
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" && !h.hasIndex() {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(WelcomeMessage))
		return
	}

	if noCache[r.URL.Path] {
		w.Header().Set("Cache-Control", "no-cache")
	}
	if r.URL.Path == "/sw.js" {
		w.Header().Set("Service-Worker-Allowed", "/")
	}
	h.files.ServeHTTP(w, r)
}

func (h *StaticHandler) hasIndex() bool {
	info, err := os.Stat(filepath.Join(h.dir, "index.html"))
	return err == nil && !info.IsDir()
}
