package handlers

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every API route.
func NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/instances", ListInstances)
		r.Post("/instances", CreateInstance)
		r.Get("/instances/{id}", GetInstance)
		r.Put("/instances/{id}", UpdateInstance)
		r.Delete("/instances/{id}", DeleteInstance)
		r.Post("/instances/{id}/test", TestInstance)
		r.Post("/instances/{id}/sync", TriggerSync)
		r.Get("/instances/{id}/sync-status", GetSyncStatus)

		r.Get("/executions", ListExecutions)
		r.Get("/executions/{id}", GetExecution)
		r.Get("/stats/daily", DailyStats)

		r.Get("/tunnels", ListTunnels)

		r.Get("/server-logs", GetServerLogs)
		r.Delete("/server-logs", ClearServerLogs)
	})
	return r
}
