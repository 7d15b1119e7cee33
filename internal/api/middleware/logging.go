package middleware

import (
	"net/http"
	"time"

	"github.com/ManuGH/blackbox/internal/log"
)

// AccessLog writes one line per request. Probes and scrapes log at debug.
func AccessLog(next http.Handler) http.Handler {
	base := log.WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		logger := log.WithContext(r.Context(), base)
		ev := logger.Info()
		if !shouldTrace(r) {
			ev = logger.Debug()
		}
		if sw.statusCode >= http.StatusInternalServerError {
			ev = logger.Warn()
		}
		traceID, _ := ExtractTraceContext(r)
		ev.Str(log.FieldEvent, "http.request").
			Str("method", r.Method).
			Str("route", routePattern(r)).
			Int("status", sw.statusCode).
			Int("bytes", sw.bytesWritten).
			Dur("duration", time.Since(start)).
			Str("trace_id", traceID).
			Msg("request served")
	})
}
