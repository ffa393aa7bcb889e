package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"lodge-codevault/internal/usecase"
)

// Options configures the router. Zero values give an open dev router.
type Options struct {
	Admin          *AdminAuth
	InternalToken  string
	RequestTimeout time.Duration
	// Metrics overrides the /metrics handler; nil serves the default registry.
	Metrics http.Handler
}

// Server exposes the code vault over HTTP.
type Server struct {
	uc  usecase.CodeUseCase
	log *zerolog.Logger
}

func NewServer(uc usecase.CodeUseCase, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()
	return &Server{uc: uc, log: &l}
}

// Router builds the chi mux with middleware, probes and /api/v1.
func (s *Server) Router(opts Options) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", opts.Metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(opts.RequestTimeout))

		r.Group(func(r chi.Router) {
			r.Use(opts.Admin.RequireAdmin())
			r.Post("/codes", s.addCode)
			r.Post("/codes/batch", s.addCodes)
			r.Delete("/codes/{codeId}", s.deleteCode)
			r.Get("/plans", s.listPlans)
			r.Get("/plans/{planId}", s.getPlan)
			r.Patch("/plans/{planId}", s.updatePlan)
			r.Delete("/plans/{planId}", s.deletePlan)
			r.Get("/plans/{planId}/codes", s.listCodes)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireInternalToken(opts.InternalToken))
			r.Get("/plans/{planId}/availability", s.availability)
			r.Post("/plans/{planId}/availability", s.availability)
			r.Post("/plans/{planId}/claim", s.claim)
			r.Get("/receipts/{paymentRef}", s.getReceipt)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "no such route"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method_not_allowed", Message: "method not allowed"})
	})
	return r
}
