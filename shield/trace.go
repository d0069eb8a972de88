package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/snapwipe/idgen"
	"github.com/hazyhaar/snapwipe/kit"
)

var traceIDs = idgen.NanoID(8)

// TraceID generates a short trace ID for each request and injects it into
// the context, response headers, and a per-request structured logger.
// The trace ID is read back with kit.TraceID and the logger with GetLogger.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := traceIDs()

		ctx := kit.WithTraceID(r.Context(), traceID)
		ctx = kit.WithRemoteAddr(ctx, ExtractIP(r))
		w.Header().Set("X-Trace-ID", traceID)

		logger := slog.Default().With(
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Info("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
