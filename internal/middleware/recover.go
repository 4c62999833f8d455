package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"

	"github.com/mwork/projectmarket-api/internal/pkg/logger"
	"github.com/mwork/projectmarket-api/internal/pkg/response"
)

// Recover answers a handler panic with the generic internal error envelope.
// Store units have already rolled back by the time the panic gets here.
// http.ErrAbortHandler is re-raised so net/http drops the connection.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			logger.FromContext(r.Context()).Error().
				Err(err).
				Bytes("stack", debug.Stack()).
				Str("method", r.Method).
				Str("route", routePattern(r)).
				Msg("Panic recovered")
			response.InternalError(w)
		}()

		next.ServeHTTP(w, r)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
