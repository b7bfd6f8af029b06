package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/meterd/internal/lifecycle"
	"git.home.luguber.info/inful/meterd/internal/logfields"
	"git.home.luguber.info/inful/meterd/internal/observability"
)

// RequestLogger logs one line per request with the chi request id.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "HTTP request",
				slog.String("method", r.Method),
				logfields.Path(r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				logfields.Duration(time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// CommandContext seeds the log context with the request id and, on verb
// routes, the verb, so controller logs can be correlated with the request.
func CommandContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithSource(r.Context(), "http")
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = observability.WithCommandID(ctx, id)
		}
		if v := chi.URLParam(r, "verb"); v != "" {
			ctx = observability.WithVerb(ctx, string(lifecycle.ParseVerb(v)))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
