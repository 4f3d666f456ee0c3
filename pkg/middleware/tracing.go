package middleware

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/tracing"
)

// Trace opens a root span per sampled request, keyed by the request id, so
// spans started further down join the same tree. It must run inside
// RequestID.
func Trace(tracer *tracing.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), r.Method+" "+normalizePath(r.URL.Path), logger.RequestID(r.Context()))
			if span == nil {
				next.ServeHTTP(w, r)
				return
			}
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))
			span.SetAttr("status", sw.status)
			tracer.Finish(ctx, span)
		})
	}
}
