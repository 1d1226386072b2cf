// Package uistatic embeds the dev console served at the API root. The
// console is a single page; unknown paths fall back to index.html so
// client-side routes survive a reload.
package uistatic

import (
	"embed"
	"io"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed all:app
var consoleFS embed.FS

func Handler() http.Handler {
	assets, err := fs.Sub(consoleFS, "app")
	if err != nil {
		return http.NotFoundHandler()
	}
	assetServer := http.FileServer(http.FS(assets))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested := strings.Trim(r.URL.Path, "/")
		if requested != "" && requested != "index.html" && fs.ValidPath(requested) {
			if _, err := fs.Stat(assets, requested); err == nil {
				assetServer.ServeHTTP(w, r)
				return
			}
		}
		serveIndex(w, r, assets)
	})
}

// serveIndex writes index.html with caching disabled so console updates
// reach browsers on the next load.
func serveIndex(w http.ResponseWriter, r *http.Request, assets fs.FS) {
	index, err := assets.Open("index.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = index.Close() }()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = io.Copy(w, index)
}
