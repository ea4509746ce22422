/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for capture clients

ROUTE GROUPS:
  /api/punches/*      Punch intake
  /api/breaks/*       Break waivers
  /api/attendance/*   Day views and audit trails
  /api/requests/*     Exception request review
  /api/shifts         Planning feed ingest
  /api/rules/*        Rule row administration
  /api/admin/*        Recompute, backfill, group assignment
  /api/payroll/*      Sync queue inspection

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Punch intake
		r.Route("/punches", func(r chi.Router) {
			r.Post("/", h.RecordPunch)
			r.Post("/missed", h.DeclareMissedPunch)
		})
		r.Post("/breaks/waiver", h.RequestBreakWaiver)

		// Derived day views
		r.Route("/attendance/{user}/{date}", func(r chi.Router) {
			r.Get("/", h.GetDayView)
			r.Get("/audit", h.GetDayAudit)
		})

		// Exception request review
		r.Route("/requests", func(r chi.Router) {
			r.Get("/pending", h.ListPendingRequests)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/reject", h.RejectRequest)
		})

		// Planning feed and rule administration
		r.Put("/shifts", h.PutShift)
		r.Route("/rules", func(r chi.Router) {
			r.Get("/{group}", h.GetRule)
			r.Put("/{group}", h.PutRule)
		})

		// Admin operations
		r.Route("/admin", func(r chi.Router) {
			r.Post("/groups", h.AssignGroup)
			r.Post("/recompute", h.TriggerRecompute)
			r.Post("/backfill", h.TriggerBackfill)
		})

		// Payroll sync
		r.Route("/payroll", func(r chi.Router) {
			r.Get("/queue", h.ListPayrollQueue)
			r.Post("/sweep", h.TriggerPayrollSweep)
		})
	})

	// Minimal landing page for operators poking at the service.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Attendance Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Attendance Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><code>POST /api/punches</code> - Record a punch</li>
<li><code>GET /api/attendance/{user}/{date}</code> - Day view</li>
<li><a href="/api/requests/pending">/api/requests/pending</a> - Pending requests</li>
<li><a href="/api/payroll/queue">/api/payroll/queue</a> - Payroll queue</li>
</ul>
</body>
</html>`))
	})

	return r
}
