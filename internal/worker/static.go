package worker

import (
	"embed"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

// The history page: a read-only view of the day buckets served at "/".
//
//go:embed static/*
var staticFS embed.FS

var staticSubFS = mustSub(staticFS, "static")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic("failed to create sub filesystem: " + err.Error())
	}
	return sub
}

func serveIndex(w http.ResponseWriter, r *http.Request) {
	serveStatic(w, "index.html")
}

// serveAssets serves /assets/<name> from the embedded directory.
func serveAssets(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/assets/")
	if name == "" || name == "index.html" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}
	serveStatic(w, name)
}

func serveStatic(w http.ResponseWriter, name string) {
	content, err := fs.ReadFile(staticSubFS, name)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(content)
}
