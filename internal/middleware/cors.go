package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSHandler lets browser clients on allowedOrigins call the ledger API.
// Clients authenticate with a bearer token, so cookies are only allowed
// for an explicit origin list. A "*" entry opens the API to any origin
// without credentials.
func CORSHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(corsOptions(allowedOrigins))
}

func corsOptions(allowedOrigins []string) cors.Options {
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
		}
	}

	return cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !wildcard,
		MaxAge:           600,
	}
}
