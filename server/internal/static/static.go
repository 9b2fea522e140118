package static

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

const indexPage = "/index.html"

var contentTypes = map[string]string{
	".html": "text/html",
	".css":  "text/css",
	".js":   "text/javascript",
	".json": "application/json",
	".gif":  "image/gif",
	".png":  "image/png",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
}

// ContentType returns the content type served for name.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "text/plain"
}

// Handler serves files below a root directory.
type Handler struct {
	root   http.FileSystem
	logger *slog.Logger
}

func New(root string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{root: http.Dir(root), logger: logger.With("http_root", root)}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Path
	if name == "" || name == "/" {
		name = indexPage
	}

	f, err := h.root.Open(name)
	if err != nil {
		h.notFound(w, r, name, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.notFound(w, r, name, err)
		return
	}
	if info.IsDir() {
		h.notFound(w, r, name, fs.ErrNotExist)
		return
	}

	w.Header().Set("Content-Type", ContentType(name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request, name string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		h.logger.Warn("file not found", "path", name)
	} else {
		h.logger.Warn("cannot serve file", "path", name, "err", err)
	}
	http.NotFound(w, r)
}
