package monitor

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// UnmatchedPath is the path label for requests no route matched.
const UnmatchedPath = "/unmatched"

// Middleware records method, route pattern, status and latency for every
// request. A panicking handler is recorded as a 500 and the panic continues
// up the chain.
func (a *Aggregator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			if rec := recover(); rec != nil {
				a.RecordRequest(r.Method, routePath(r), http.StatusInternalServerError, time.Since(start))
				panic(rec)
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			a.RecordRequest(r.Method, routePath(r), status, time.Since(start))
		}()

		next.ServeHTTP(ww, r)
	})
}

func routePath(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return UnmatchedPath
	}
	pattern := rctx.RoutePattern()
	if pattern == "" || pattern == "/*" {
		return UnmatchedPath
	}
	return NormalizePath(pattern)
}
