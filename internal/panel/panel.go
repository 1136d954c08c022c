package panel

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed web/*
var content embed.FS

// Handler returns an http.Handler serving the UI.
//
// When dir names an existing directory its files are served; otherwise the
// embedded page is. A path that matches no file falls back to index.html
// when it has no extension (a UI route) and is a 404 when it does (a
// missing asset).
//
// Panics if the embedded assets cannot be loaded (build error).
func Handler(dir string) http.Handler {
	fileSystem := fileSystem(dir)
	fileServer := http.FileServer(fileSystem)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		upath := path.Clean("/" + r.URL.Path)
		if upath != "/" && !exists(fileSystem, upath) {
			if path.Ext(upath) != "" {
				http.NotFound(w, r)
				return
			}
			r.URL.Path = "/"
		}

		fileServer.ServeHTTP(w, r)
	})
}

// Source describes where Handler(dir) serves from, for logging.
func Source(dir string) string {
	if isDir(dir) {
		return dir
	}
	return "embedded"
}

func fileSystem(dir string) http.FileSystem {
	if isDir(dir) {
		return http.Dir(dir)
	}

	webFS, err := fs.Sub(content, "web")
	if err != nil {
		panic(fmt.Sprintf("panel: failed to load embedded web assets: %v", err))
	}
	return http.FS(webFS)
}

func isDir(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func exists(fileSystem http.FileSystem, name string) bool {
	f, err := fileSystem.Open(name)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
