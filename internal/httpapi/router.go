// Package httpapi exposes the family tree service over HTTP under /tree.
package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"familytree/internal/core"
	"familytree/internal/export"
)

// Options wires the router's collaborators. Exporter and Metrics are optional.
type Options struct {
	Service        *core.Service
	Exporter       *export.Exporter
	Metrics        http.Handler
	Logger         *slog.Logger
	CORSOrigins    []string
	RequestTimeout time.Duration
	// AccessLog enables chi's request logger.
	AccessLog bool
}

type handler struct {
	svc      *core.Service
	exporter *export.Exporter
	logger   *slog.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &handler{svc: opts.Service, exporter: opts.Exporter, logger: logger}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(corsHandler.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		h.ok(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/tree", func(r chi.Router) {
		r.Get("/", h.getTree)
		r.Post("/init-tree", h.initTree)
		r.Route("/person/{personId}", func(r chi.Router) {
			r.Use(h.validID("personId", "person"))
			r.Get("/", h.getPerson)
			r.Put("/", h.updatePerson)
			r.Delete("/", h.deletePerson)
		})
		r.With(h.validID("personId", "person")).Post("/spouse/{personId}", h.addSpouse)
		r.With(h.validID("relationshipId", "relationship")).Post("/child/{relationshipId}", h.addChild)
		r.With(h.validID("relationshipId", "relationship")).Put("/relationship/{relationshipId}", h.updateRelationship)
		r.Post("/export", h.createExport)
		r.Get("/exports", h.listExports)
		r.Get("/exports/{name}", h.downloadExport)
	})
	return r
}
