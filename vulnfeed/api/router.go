package api

import (
	"log/slog"
	"net/http"
)

const (
	PathVulnerabilities = "/api/v1/vulnerabilities"
	// PathFunction keeps the path existing front-ends already call.
	PathFunction = "/functions/v1/fetch-vulnerabilities"
	PathHealth   = "/health"
)

// SetupRoutes registers the action endpoint and the health check on mux.
func SetupRoutes(mux *http.ServeMux, h *Handler) {
	actions := withCORS(h)
	mux.Handle(PathVulnerabilities, actions)
	mux.Handle(PathFunction, actions)

	mux.HandleFunc(PathHealth, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy","service":"vulnfeed-api"}`)); err != nil {
			slog.Error("Failed to write health response", "error", err)
		}
	})
}

// Routes returns the complete handler tree wrapped in the request id and
// panic recovery middleware.
func Routes(h *Handler) http.Handler {
	mux := http.NewServeMux()
	SetupRoutes(mux, h)
	return withRequestID(withRecovery(mux))
}
