package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const callerKey contextKey = "caller"

// RouterDependencies collects handler dependencies.
type RouterDependencies struct {
	API            *APIHandlers
	Health         *HealthHandler
	AllowedOrigins []string
}

// NewRouter wires the HTTP routes exposed by the settlement API.
func NewRouter(logger *slog.Logger, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()

	if deps.Health != nil {
		mux.HandleFunc("GET /healthz", deps.Health.handle)
	}

	api := deps.API
	mux.HandleFunc("POST /auth/register", api.register)
	mux.HandleFunc("POST /auth/login", api.login)

	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return api.requireAuth(h)
	}

	mux.HandleFunc("POST /jobs", authed(api.createJob))
	mux.HandleFunc("GET /jobs", authed(api.listJobs))
	mux.HandleFunc("GET /jobs/{id}", authed(api.getJob))
	mux.HandleFunc("POST /jobs/{id}/freelancer", authed(api.assignFreelancer))
	mux.HandleFunc("POST /jobs/{id}/start", authed(api.startJob))
	mux.HandleFunc("POST /jobs/{id}/cancel", authed(api.cancelJob))
	mux.HandleFunc("POST /jobs/{id}/milestones/{mid}/submit", authed(api.submitMilestone))
	mux.HandleFunc("POST /jobs/{id}/milestones/{mid}/approve", authed(api.approveMilestone))
	mux.HandleFunc("POST /jobs/{id}/disputes", authed(api.raiseDispute))
	mux.HandleFunc("GET /jobs/{id}/escrow", authed(api.escrowAccount))
	mux.HandleFunc("GET /jobs/{id}/transactions", authed(api.escrowTransactions))

	mux.HandleFunc("GET /disputes/{id}", authed(api.getDispute))
	mux.HandleFunc("POST /disputes/{id}/evidence", authed(api.submitEvidence))
	mux.HandleFunc("GET /disputes/{id}/evidence", authed(api.listEvidence))
	mux.HandleFunc("POST /disputes/{id}/messages", authed(api.sendMessage))
	mux.HandleFunc("GET /disputes/{id}/messages", authed(api.listMessages))
	mux.HandleFunc("GET /disputes/{id}/votes", authed(api.listVotes))
	mux.HandleFunc("POST /disputes/{id}/stage", authed(api.updateStage))
	mux.HandleFunc("POST /disputes/{id}/resolve", authed(api.resolveDispute))
	mux.HandleFunc("POST /disputes/{id}/arbitrator", authed(api.assignArbitrator))
	mux.HandleFunc("POST /disputes/{id}/cancel", authed(api.cancelDispute))

	mux.HandleFunc("POST /admin/arbitrators", authed(api.addArbitrator))
	mux.HandleFunc("DELETE /admin/arbitrators/{id}", authed(api.removeArbitrator))

	handler := http.Handler(loggingMiddleware(logger, mux))
	if len(deps.AllowedOrigins) > 0 {
		handler = corsMiddleware(deps.AllowedOrigins)(handler)
	}
	return handler
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	normalized := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		normalized[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, allowed := normalized[origin]
			if !allowed {
				_, allowed = normalized["*"]
			}
			if origin == "" || !allowed {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func withCaller(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerKey, userID)
}

func callerFrom(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey).(string)
	return caller
}
