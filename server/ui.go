package server

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

// Админка geo-модуля: одна статическая страница с формой привязки
// устройства (webui/index.html), собранная в бинарь.
//
//go:embed webui/*
var webuiFS embed.FS

func (a *App) RegisterWebUI(prefix string) {
	if prefix == "" {
		prefix = "/ui/"
	}
	base := strings.TrimSuffix(prefix, "/")
	slash := base + "/"

	sub, err := fs.Sub(webuiFS, "webui")
	if err != nil {
		// webui/* вшивается на этапе сборки; если его нет, бинарь собран неверно
		panic(err)
	}

	a.Router.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, slash, http.StatusFound)
	}).Methods(http.MethodGet)

	// index.html отдаём напрямую, остальную статику — файловым сервером
	a.Router.HandleFunc(slash, func(w http.ResponseWriter, r *http.Request) {
		b, err := fs.ReadFile(sub, "index.html")
		if err != nil {
			http.Error(w, "location form page is not embedded in this build", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	}).Methods(http.MethodGet)
	a.Router.PathPrefix(slash).Handler(
		http.StripPrefix(slash, http.FileServer(http.FS(sub))))

	a.Router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, slash, http.StatusFound)
	})
}
