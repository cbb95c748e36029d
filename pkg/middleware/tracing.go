package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const traceContextKey contextKey = "trace_id"

// TraceMiddleware extracts the X-Trace-Id header or generates a fresh
// trace ID, echoes it on the response, and stores it in the context.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		w.Header().Set("X-Trace-Id", traceID)

		ctx := context.WithValue(r.Context(), traceContextKey, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetTraceID(r *http.Request) string {
	if traceID, ok := r.Context().Value(traceContextKey).(string); ok {
		return traceID
	}
	return ""
}
