package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// TelemetryBlockerMiddleware intercepts client telemetry traffic that
// would otherwise be forwarded upstream and answers it locally with a
// success payload, so clients never stall waiting on analytics hosts.
type TelemetryBlockerMiddleware struct {
	logger *slog.Logger
}

func NewTelemetryBlockerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	tbm := &TelemetryBlockerMiddleware{
		logger: logger,
	}

	return tbm.middleware
}

func (tbm *TelemetryBlockerMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if host == "" {
			host = r.Header.Get("Host")
		}

		if tbm.isTelemetryRequest(host, r.URL.Path) {
			tbm.logger.Debug("Blocked telemetry request", "host", host, "path", r.URL.Path)
			tbm.sendTelemetryResponse(w)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (tbm *TelemetryBlockerMiddleware) sendTelemetryResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"success":true}`))
}

func (tbm *TelemetryBlockerMiddleware) isTelemetryRequest(host, path string) bool {
	if strings.Contains(host, "statsig.anthropic.com") {
		return true
	}

	if strings.Contains(host, "api.anthropic.com") && strings.HasPrefix(path, "/api/claude_code_metrics") {
		return true
	}

	telemetryPaths := []string{
		"/v1/initialize",
		"/v1/log_event",
		"/v1/rgstr",
		"/statsig",
		"/telemetry",
		"/analytics",
	}

	for _, telemetryPath := range telemetryPaths {
		if strings.HasPrefix(path, telemetryPath) {
			return true
		}
	}

	return false
}
