package web

import (
	"context"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/media-annotator/internal/web/handlers"
)

func (s *Server) setupRoutes(ctx context.Context) {
	runsHandler := handlers.NewRunsHandler(ctx, s.deps.Runs, s.deps.DefaultRoot, s.logger)
	personsHandler := handlers.NewPersonsHandler(s.deps.Persons, s.deps.Promoter, s.logger)
	mediaHandler := handlers.NewMediaHandler(s.deps.Library, s.logger)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Pipeline runs (one at a time)
		r.Post("/runs", runsHandler.Start)
		r.Get("/runs/current", runsHandler.Current)
		r.Get("/runs/{runId}", runsHandler.Get)
		r.Delete("/runs/{runId}", runsHandler.Cancel)

		// Identities
		r.Get("/persons", personsHandler.List)
		r.Get("/persons/unknown", personsHandler.Unknown)
		r.Get("/persons/{id}", personsHandler.Get)
		r.Put("/persons/{id}/name", personsHandler.Label)
		r.Put("/persons/{id}/notes", personsHandler.Notes)

		// Catalogue
		r.Get("/media", mediaHandler.List)
		r.Get("/history", mediaHandler.History)
	})
}
