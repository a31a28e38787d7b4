package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Router mounts the manifest surface: submit (GET with query parameters or
// POST form), pre-built document upload, and correlation-id fetch.
func Router(srv *Server) http.Handler {
	r := chi.NewRouter()

	r.Get("/manifest", srv.BuildManifest)
	r.Post("/manifest", srv.BuildManifest)
	r.Post("/manifest/upload", srv.UploadManifest)
	r.Get("/manifest/{id}", srv.FetchManifest)
	r.Get("/health", srv.Health)

	return r
}
