// Package api serves the live query engine over HTTP and websockets.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/internal/reactive"
)

// Deps are the shared resources injected from app.Server.
type Deps struct {
	Engine *reactive.Engine
	Store  docstore.Store
	// Root prefixes the collection of document writes, as the engine does
	// for FROM.
	Root string
	// StaticDir, when set, is served at /.
	StaticDir string
}

type handlers struct {
	engine *reactive.Engine
	store  docstore.Store
	root   string
}

func SetupRoutes(d Deps) http.Handler {
	h := &handlers{engine: d.Engine, store: d.Store, root: d.Root}
	ws := &WSHandler{Engine: d.Engine}

	r := chi.NewRouter()
	r.Use(LoggingMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", h.handleQuery)
		r.Post("/explain", h.handleExplain)
		r.Get("/live", h.handleLiveQueries)
		r.Post("/edit", h.handleEdit)
		r.Put("/collections/{collection}/docs/{key}", h.handlePutDocument)
		r.Delete("/collections/{collection}/docs/{key}", h.handleDeleteDocument)
	})
	r.Get("/ws", ws.HandleWS)
	r.Handle("/metrics", promhttp.Handler())

	if d.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(d.StaticDir)))
	}
	return r
}
