package httpserver

import (
	"context"
	"log"
	"net/http"

	"github.com/iago/treasury-bizcase-back/internal/http/handlers"
	"github.com/iago/treasury-bizcase-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Metrics        MetricsExporter
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// MetricsExporter serves /metrics and counts every routed request.
type MetricsExporter interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// NewRouter wires the API routes behind the middleware chain. ctx bounds
// background work started by the middleware.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/business-cases", deps.API.BusinessCases)
	mux.HandleFunc("/v1/jobs", deps.API.Jobs)
	mux.HandleFunc("/v1/jobs/", deps.API.JobStatus)
	mux.HandleFunc("/v1/audit", deps.API.Audit)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics.Handler())
	}

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(ctx, middleware.RateLimitConfig{
		RPS:    deps.RateLimitRPS,
		Burst:  deps.RateLimitBurst,
		Exempt: []string{"/healthz", "/metrics"},
	})(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	if deps.Metrics != nil {
		handler = deps.Metrics.Middleware(handler)
	}
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
