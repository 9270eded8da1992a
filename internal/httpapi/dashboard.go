package httpapi

import (
	"embed"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"
)

//go:embed dashboard
var dashboardFiles embed.FS

// dashboardHandler serves the embedded status page under /ui.
type dashboardHandler struct {
	logger *zap.SugaredLogger
	fs     fs.FS
}

func newDashboardHandler(logger *zap.SugaredLogger) *dashboardHandler {
	sub, err := fs.Sub(dashboardFiles, "dashboard")
	if err != nil {
		panic("failed to get embedded dashboard files: " + err.Error())
	}
	return &dashboardHandler{logger: logger, fs: sub}
}

func (h *dashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uiPath := strings.TrimPrefix(path.Clean(r.URL.Path), "/ui")
	uiPath = strings.TrimPrefix(uiPath, "/")
	if uiPath == "" {
		uiPath = "index.html"
	}

	file, err := h.fs.Open(uiPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil || stat.IsDir() {
		http.NotFound(w, r)
		return
	}

	if ct := contentType(uiPath); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "no-cache")
	rs, ok := file.(io.ReadSeeker)
	if !ok {
		h.logger.Errorw("Embedded file is not seekable", "path", uiPath)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, stat.Name(), stat.ModTime(), rs)
}

func contentType(filename string) string {
	switch path.Ext(filename) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	default:
		return ""
	}
}
